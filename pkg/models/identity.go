package models

import (
	"fmt"
	"strings"
)

// ProviderID identifies the source-code host a change request lives on.
type ProviderID string

const (
	ProviderGitHub ProviderID = "github"
	ProviderGitLab ProviderID = "gitlab"
)

// ParseProvider validates a wire-form provider name.
func ParseProvider(s string) (ProviderID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "github":
		return ProviderGitHub, nil
	case "gitlab":
		return ProviderGitLab, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// RepositoryID identifies a repository on a specific host. GitHub
// repositories are addressed as owner/name; GitLab projects by numeric id or
// full path (group/subgroup/project). Exactly one variant is populated,
// matching Provider.
type RepositoryID struct {
	Provider ProviderID `json:"provider"`
	Owner    string     `json:"owner,omitempty"`
	Name     string     `json:"name,omitempty"`
	Project  string     `json:"project,omitempty"`
}

// GitHubRepository builds the GitHub variant of a RepositoryID.
func GitHubRepository(owner, name string) (RepositoryID, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(name) == "" {
		return RepositoryID{}, fmt.Errorf("github repository requires owner and name, got %q/%q", owner, name)
	}
	return RepositoryID{Provider: ProviderGitHub, Owner: owner, Name: name}, nil
}

// GitLabProject builds the GitLab variant of a RepositoryID.
func GitLabProject(project string) (RepositoryID, error) {
	if strings.TrimSpace(project) == "" {
		return RepositoryID{}, fmt.Errorf("gitlab project id must not be blank")
	}
	return RepositoryID{Provider: ProviderGitLab, Project: project}, nil
}

// ParseRepositoryID converts the wire form of a repository id (already
// URL-decoded) into the provider-matching variant. GitHub expects
// "owner/repo"; GitLab accepts a numeric id or a full project path.
func ParseRepositoryID(provider ProviderID, raw string) (RepositoryID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RepositoryID{}, fmt.Errorf("repository id must not be blank")
	}
	switch provider {
	case ProviderGitHub:
		parts := strings.SplitN(raw, "/", 2)
		if len(parts) != 2 {
			return RepositoryID{}, fmt.Errorf("github repository id must be owner/repo, got %q", raw)
		}
		return GitHubRepository(parts[0], parts[1])
	case ProviderGitLab:
		return GitLabProject(raw)
	default:
		return RepositoryID{}, fmt.Errorf("unknown provider %q", provider)
	}
}

// DisplayName returns the human-readable repository identifier.
func (r RepositoryID) DisplayName() string {
	switch r.Provider {
	case ProviderGitHub:
		return r.Owner + "/" + r.Name
	case ProviderGitLab:
		return r.Project
	default:
		return ""
	}
}

// ChangeRequestID identifies a pull request (GitHub) or merge request
// (GitLab) within a repository. Number is the PR number or MR IID and is
// always positive.
type ChangeRequestID struct {
	Provider ProviderID `json:"provider"`
	Number   int        `json:"number"`
}

// NewChangeRequestID validates and builds a ChangeRequestID for the provider.
func NewChangeRequestID(provider ProviderID, number int) (ChangeRequestID, error) {
	if number <= 0 {
		return ChangeRequestID{}, fmt.Errorf("change request number must be positive, got %d", number)
	}
	switch provider {
	case ProviderGitHub, ProviderGitLab:
		return ChangeRequestID{Provider: provider, Number: number}, nil
	default:
		return ChangeRequestID{}, fmt.Errorf("unknown provider %q", provider)
	}
}

// PullRequest builds the GitHub variant.
func PullRequest(number int) (ChangeRequestID, error) {
	return NewChangeRequestID(ProviderGitHub, number)
}

// MergeRequest builds the GitLab variant.
func MergeRequest(iid int) (ChangeRequestID, error) {
	return NewChangeRequestID(ProviderGitLab, iid)
}

func (c ChangeRequestID) String() string {
	if c.Provider == ProviderGitLab {
		return fmt.Sprintf("!%d", c.Number)
	}
	return fmt.Sprintf("#%d", c.Number)
}
