package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/internal/providers"
	"github.com/reviewpilot/pkg/models"
)

const testDiff = `diff --git a/file.java b/file.java
--- a/file.java
+++ b/file.java
@@ -1,1 +10,3 @@
 a
+b
+c
`

func testRepo(t *testing.T) models.RepositoryID {
	t.Helper()
	repo, err := models.GitHubRepository("octo", "widgets")
	require.NoError(t, err)
	return repo
}

func testPR(t *testing.T, n int) models.ChangeRequestID {
	t.Helper()
	cr, err := models.PullRequest(n)
	require.NoError(t, err)
	return cr
}

// newTestServer fakes the handful of pulls endpoints the adapter touches and
// records inline and summary comment payloads.
func newTestServer(t *testing.T) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/widgets/pulls/123", func(w http.ResponseWriter, r *http.Request) {
		rec.auth = r.Header.Get("Authorization")
		if r.Header.Get("Accept") == "application/vnd.github.v3.diff" {
			io.WriteString(w, testDiff)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"number": 123,
			"title":  "Add widget validation",
			"body":   "Validates widget names",
			"state":  "open",
			"user":   map[string]string{"login": "octocat"},
			"labels": []map[string]string{{"name": "needs-review"}},
			"head":   map[string]string{"sha": "headsha", "ref": "feature"},
			"base":   map[string]string{"sha": "basesha", "ref": "main"},
		})
	})
	mux.HandleFunc("/repos/octo/widgets/pulls/123/commits", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"sha": "headsha", "commit": map[string]any{
				"message": "validate names",
				"author":  map[string]string{"name": "Octo Cat", "date": "2026-08-20T10:00:00Z"},
			}},
		})
	})
	mux.HandleFunc("/repos/octo/widgets/pulls/123/comments", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		rec.inline = append(rec.inline, payload)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "{}")
	})
	mux.HandleFunc("/repos/octo/widgets/issues/123/comments", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		rec.summaries = append(rec.summaries, payload["body"])
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "{}")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rec
}

type recorded struct {
	auth      string
	inline    []map[string]any
	summaries []string
}

func TestGetDiff(t *testing.T) {
	t.Parallel()

	srv, rec := newTestServer(t)
	client := New(srv.URL, StaticToken("ghp_test"))

	bundle, err := client.GetDiff(context.Background(), testRepo(t), testPR(t, 123))
	require.NoError(t, err)

	require.Equal(t, "Bearer ghp_test", rec.auth)
	require.Equal(t, "Add widget validation", bundle.Meta.Title)
	require.Equal(t, "octocat", bundle.Meta.Author)
	require.Equal(t, "headsha", bundle.Meta.HeadSHA)
	require.Equal(t, "basesha", bundle.Meta.BaseSHA)
	require.Equal(t, []string{"needs-review"}, bundle.Meta.Labels)
	require.Len(t, bundle.Meta.Commits, 1)
	require.Equal(t, testDiff, bundle.Raw)
	require.Len(t, bundle.Document.Modifications, 1)
	require.Equal(t, "file.java", bundle.Document.Modifications[0].NewPath)
}

func TestPublishReviewSplitsInlineAndFallback(t *testing.T) {
	t.Parallel()

	srv, rec := newTestServer(t)
	client := New(srv.URL, StaticToken("ghp_test"))

	// line 11 lands on the +b line of the hunk; line 9 is outside the diff
	result := models.ReviewResult{
		Summary: "ok",
		Issues: []models.Issue{
			{File: "file.java", StartLine: 11, Severity: models.SeverityMajor, Title: "anchored issue"},
			{File: "file.java", StartLine: 9, Severity: models.SeverityMinor, Title: "orphaned issue"},
		},
	}

	report, err := client.PublishReview(context.Background(), testRepo(t), testPR(t, 123), result)
	require.NoError(t, err)

	require.Equal(t, 1, report.InlineComments)
	require.Equal(t, 1, report.FallbackFindings)
	require.Empty(t, report.Errors)

	require.Len(t, rec.inline, 1)
	require.Equal(t, "file.java", rec.inline[0]["path"])
	require.Equal(t, float64(11), rec.inline[0]["line"])
	require.Equal(t, "RIGHT", rec.inline[0]["side"])
	require.Equal(t, "headsha", rec.inline[0]["commit_id"])

	require.Len(t, rec.summaries, 1)
	require.Contains(t, rec.summaries[0], "## Additional Review Findings")
	require.Contains(t, rec.summaries[0], "file.java:9")
}

func TestPublishReviewCollectsFindingErrors(t *testing.T) {
	t.Parallel()

	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/widgets/pulls/123", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "application/vnd.github.v3.diff" {
			io.WriteString(w, testDiff)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"number": 123, "state": "open",
			"head": map[string]string{"sha": "headsha"},
			"base": map[string]string{"sha": "basesha"},
		})
	})
	mux.HandleFunc("/repos/octo/widgets/pulls/123/commits", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "[]")
	})
	mux.HandleFunc("/repos/octo/widgets/pulls/123/comments", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"message":"Unprocessable"}`, http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "{}")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := New(srv.URL, StaticToken("t"))
	result := models.ReviewResult{Issues: []models.Issue{
		{File: "file.java", StartLine: 10, Severity: models.SeverityMajor, Title: "first"},
		{File: "file.java", StartLine: 11, Severity: models.SeverityMajor, Title: "second"},
	}}

	report, err := client.PublishReview(context.Background(), testRepo(t), testPR(t, 123), result)
	require.NoError(t, err)

	// the first posting failed but the batch continued
	require.Equal(t, 1, report.InlineComments)
	require.Len(t, report.Errors, 1)
	require.Equal(t, "first", report.Errors[0].Title)

	var scmErr *providers.Error
	require.ErrorAs(t, report.Errors[0].Err, &scmErr)
	require.Equal(t, providers.KindMalformed, scmErr.Kind)
}

func TestIsChangeRequestOpen(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	client := New(srv.URL, StaticToken("t"))

	open, err := client.IsChangeRequestOpen(context.Background(), testRepo(t), testPR(t, 123))
	require.NoError(t, err)
	require.True(t, open)
}

func TestGetDiffAuthError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(srv.URL, StaticToken("bad"))
	_, err := client.GetDiff(context.Background(), testRepo(t), testPR(t, 123))

	var scmErr *providers.Error
	require.ErrorAs(t, err, &scmErr)
	require.Equal(t, providers.KindAuth, scmErr.Kind)
	require.Equal(t, models.ProviderGitHub, scmErr.Provider)
	require.Equal(t, "GetDiff", scmErr.Op)
}

func TestRepoVariantMismatch(t *testing.T) {
	t.Parallel()

	client := New("http://unused", StaticToken("t"))
	glRepo, err := models.GitLabProject("group/proj")
	require.NoError(t, err)

	_, err = client.GetDiff(context.Background(), glRepo, testPR(t, 1))
	var scmErr *providers.Error
	require.ErrorAs(t, err, &scmErr)
	require.Equal(t, providers.KindMalformed, scmErr.Kind)
}
