package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateKeyOllama(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"llama3","size":1}]}`)
	}))
	defer srv.Close()

	ok, err := ValidateKey(context.Background(), ProviderOllama, "", srv.URL)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidateKeyOllamaNoModels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer srv.Close()

	ok, err := ValidateKey(context.Background(), ProviderOllama, "", srv.URL)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateKeyUnreachableOllama(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ok, err := ValidateKey(context.Background(), ProviderOllama, "", srv.URL)
	require.NoError(t, err)
	require.False(t, ok)
}
