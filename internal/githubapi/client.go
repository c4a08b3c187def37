// Package githubapi is the profile data source: a thin wrapper over the
// GitHub REST API (via go-github) and a single GraphQL query (via githubv4).
//
// Responses are decoded into pointer-field wire types. Nothing here applies
// defaults; callers normalize the result once.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/sakif/github-report/internal/model"
)

const (
	DefaultAPIURL     = "https://api.github.com/"
	DefaultGraphQLURL = "https://api.github.com/graphql"
)

// ErrNoContent is returned by ProfileReadme when the README exists but has
// no decodable body.
var ErrNoContent = errors.New("githubapi: empty content")

// Connector builds per-user clients from OAuth tokens.
type Connector struct {
	oauth      *oauth2.Config
	apiURL     *url.URL
	graphqlURL string
}

// NewConnector creates a Connector. Empty URLs select the public GitHub
// endpoints.
func NewConnector(oauth *oauth2.Config, apiURL, graphqlURL string) (*Connector, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if graphqlURL == "" {
		graphqlURL = DefaultGraphQLURL
	}

	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("githubapi: parsing api url: %w", err)
	}
	// go-github requires the trailing slash.
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	return &Connector{oauth: oauth, apiURL: u, graphqlURL: graphqlURL}, nil
}

// Client returns a client acting as the owner of token. The oauth2 transport
// refreshes the token when it has a refresh token and has expired.
func (c *Connector) Client(ctx context.Context, token *oauth2.Token) *Client {
	var httpClient *http.Client
	if c.oauth != nil {
		httpClient = c.oauth.Client(ctx, token)
	} else {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}
	return newClient(httpClient, c.apiURL, c.graphqlURL)
}

// Client talks to GitHub on behalf of one user.
type Client struct {
	rest    *github.Client
	graphql *githubv4.Client
}

func newClient(httpClient *http.Client, apiURL *url.URL, graphqlURL string) *Client {
	rest := github.NewClient(httpClient)
	rest.BaseURL = apiURL
	return &Client{
		rest:    rest,
		graphql: githubv4.NewEnterpriseClient(graphqlURL, httpClient),
	}
}

// Viewer returns the authenticated user.
func (c *Client) Viewer(ctx context.Context) (*model.Viewer, error) {
	user, _, err := c.rest.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("githubapi: getting authenticated user: %w", err)
	}

	return &model.Viewer{
		Login:     user.GetLogin(),
		NodeID:    user.GetNodeID(),
		Name:      user.GetName(),
		AvatarURL: user.GetAvatarURL(),
		HTMLURL:   user.GetHTMLURL(),
	}, nil
}

// ProfileReadme returns the decoded README.md of the {login}/{login}
// profile repository.
func (c *Client) ProfileReadme(ctx context.Context, login string) (string, error) {
	file, _, _, err := c.rest.Repositories.GetContents(ctx, login, login, "README.md", nil)
	if err != nil {
		return "", fmt.Errorf("githubapi: getting profile readme for %s: %w", login, err)
	}
	if file == nil {
		return "", ErrNoContent
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("githubapi: decoding profile readme for %s: %w", login, err)
	}
	if content == "" {
		return "", ErrNoContent
	}
	return content, nil
}
