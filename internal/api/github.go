package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/github-activity-digest/internal/models"
)

// GitHubClient represents a client for the GitHub REST API
type GitHubClient struct {
	client  *github.Client
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewGitHubClient creates a new GitHub REST client. Requests are retried
// through fetcher.
func NewGitHubClient(httpClient *http.Client, fetcher *Fetcher, logger *slog.Logger) *GitHubClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubClient{
		client:  github.NewClient(httpClient),
		fetcher: fetcher,
		logger:  logger,
	}
}

// GetRepository gets a repository by owner and name
func (c *GitHubClient) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	var repo *github.Repository
	err := c.fetcher.Do(ctx, "get repository "+owner+"/"+name, func(ctx context.Context) error {
		var err error
		repo, _, err = c.client.Repositories.Get(ctx, owner, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	visibility := repo.GetVisibility()
	if visibility == "" {
		visibility = "public"
		if repo.GetPrivate() {
			visibility = "private"
		}
	}

	return &models.Repository{
		ID:         repo.GetNodeID(),
		Owner:      repo.GetOwner().GetLogin(),
		Name:       repo.GetName(),
		FullName:   repo.GetFullName(),
		Visibility: visibility,
		CreatedAt:  repo.GetCreatedAt().Time.UTC(),
		UpdatedAt:  repo.GetUpdatedAt().Time.UTC(),
	}, nil
}

// RateLimit is the GraphQL budget left in the current window
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// GraphQLRateLimit reports the GraphQL rate-limit budget. A run checks it
// before starting so an exhausted budget fails fast instead of mid-walk.
func (c *GitHubClient) GraphQLRateLimit(ctx context.Context) (*RateLimit, error) {
	limits, _, err := c.client.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limits: %w", err)
	}
	rate := limits.GetGraphQL()
	if rate == nil {
		return nil, fmt.Errorf("failed to get rate limits: no graphql budget in response")
	}
	rl := &RateLimit{Limit: rate.Limit, Remaining: rate.Remaining, Reset: rate.Reset.Time.UTC()}
	if rl.Remaining < rl.Limit/10 {
		c.logger.Warn("GraphQL rate limit running low",
			"remaining", rl.Remaining, "limit", rl.Limit, "reset", rl.Reset.Format(time.RFC3339))
	}
	return rl, nil
}
