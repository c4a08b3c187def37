package githubapi

import (
	"context"
	"fmt"
	"time"

	"github.com/shurcooL/githubv4"
)

// activityQuery fetches profile metadata, recent pull requests and the
// user's own commits on recently updated repositories in one round trip.
//
// The struct is the query: githubv4 renders field names and graphql tags
// into the document and decodes the response back into the same shape.
// Everything below User is a pointer so that nulls on the wire survive
// decoding and normalization can tell "absent" from "empty".
type activityQuery struct {
	User *Activity `graphql:"user(login: $login)"`
}

// Activity is the raw "user" object of the activity query. Every field may
// be null on the wire.
type Activity struct {
	Name                      *string
	Bio                       *string
	Location                  *string
	Status                    *Status
	PullRequests              *PRConnection   `graphql:"pullRequests(first: 20, orderBy: {field: CREATED_AT, direction: DESC})"`
	RepositoriesContributedTo *RepoConnection `graphql:"repositoriesContributedTo(first: 20, privacy: PUBLIC, orderBy: {field: UPDATED_AT, direction: DESC}, includeUserRepositories: true, contributionTypes: [COMMIT])"`
}

type Status struct {
	Emoji   *string
	Message *string
}

type PRConnection struct {
	Nodes []*PullRequestNode
}

type PullRequestNode struct {
	Title      *string
	Body       *string
	CreatedAt  *time.Time
	Repository *RepoRef
}

type RepoRef struct {
	NameWithOwner *string
	Description   *string
}

type RepoConnection struct {
	Nodes []*RepositoryNode
}

type RepositoryNode struct {
	NameWithOwner    *string
	Description      *string
	DefaultBranchRef *BranchRef
}

type BranchRef struct {
	Target *CommitTarget
}

// CommitTarget is the branch head. History is nil when the target is not a
// commit.
type CommitTarget struct {
	CommitFields `graphql:"... on Commit"`
}

// CommitFields is the inline fragment selected when the branch head is a
// commit.
type CommitFields struct {
	History *HistoryConnection `graphql:"history(first: 30, author: {id: $authorId})"`
}

type HistoryConnection struct {
	Nodes []*CommitNode
}

type CommitNode struct {
	Message       *string
	CommittedDate *time.Time
}

// Activity runs the activity query for login. nodeID is the user's GraphQL
// node ID, used to restrict commit history to the user's own commits.
func (c *Client) Activity(ctx context.Context, login, nodeID string) (*Activity, error) {
	var q activityQuery
	vars := map[string]any{
		"login":    githubv4.String(login),
		"authorId": githubv4.ID(nodeID),
	}
	if err := c.graphql.Query(ctx, &q, vars); err != nil {
		return nil, fmt.Errorf("githubapi: graphql activity for %s: %w", login, err)
	}
	if q.User == nil {
		return nil, fmt.Errorf("githubapi: graphql: user %s not found", login)
	}
	return q.User, nil
}
