package escalation

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// IssueConfig holds GitHub issue filing configuration.
type IssueConfig struct {
	Token  string
	Owner  string
	Repo   string
	Labels []string
}

// IssueFiler files escalation reports as GitHub issues.
type IssueFiler struct {
	client *github.Client
	owner  string
	repo   string
	labels []string
}

// NewIssueFiler creates a filer with token authentication.
func NewIssueFiler(ctx context.Context, cfg IssueConfig) (*IssueFiler, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("GitHub token not set")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("GitHub owner and repo are required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(ctx, ts)
	return &IssueFiler{
		client: github.NewClient(tc),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		labels: cfg.Labels,
	}, nil
}

// File creates the issue and returns its URL.
func (f *IssueFiler) File(ctx context.Context, title, body string) (string, error) {
	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(f.labels) > 0 {
		labels := f.labels
		req.Labels = &labels
	}

	issue, _, err := f.client.Issues.Create(ctx, f.owner, f.repo, req)
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	return issue.GetHTMLURL(), nil
}
