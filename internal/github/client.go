package github

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// Client wraps the GitHub API client with rate limiting support
type Client struct {
	*github.Client
}

// ClientOptions configures NewClient. Both fields are optional.
type ClientOptions struct {
	// Token authenticates requests for the higher rate limit and private repositories.
	Token string
	// BaseURL points the client at another API root, such as GitHub Enterprise.
	BaseURL string
}

// NewClient creates a GitHub client whose transport waits out primary and
// secondary rate limits instead of failing.
func NewClient(opts ClientOptions) (*Client, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	ghClient := github.NewClient(rateLimiter)
	if opts.Token != "" {
		ghClient = ghClient.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse GitHub base URL: %w", err)
		}
		ghClient.BaseURL = u
	}

	return &Client{Client: ghClient}, nil
}
