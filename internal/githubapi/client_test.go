package githubapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newTestClient starts a fake GitHub that serves both the REST API and the
// GraphQL endpoint from mux.
func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn, err := NewConnector(nil, srv.URL, srv.URL+"/graphql")
	require.NoError(t, err)
	return conn.Client(context.Background(), &oauth2.Token{AccessToken: "gho_test"})
}

func TestViewer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"login":"alice","node_id":"MDQ6VXNlcjE=","name":"Alice","avatar_url":"https://a/1.png","html_url":"https://github.com/alice"}`))
	})
	c := newTestClient(t, mux)

	v, err := c.Viewer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Login)
	assert.Equal(t, "MDQ6VXNlcjE=", v.NodeID)
	assert.Equal(t, "Alice", v.Name)
}

func TestViewer_Unauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	})
	c := newTestClient(t, mux)

	_, err := c.Viewer(context.Background())
	assert.Error(t, err)
}

func TestProfileReadme(t *testing.T) {
	body := "# Hi, I'm Alice"
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/alice/alice/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(body)),
		})
	})
	c := newTestClient(t, mux)

	got, err := c.ProfileReadme(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestProfileReadme_Missing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/bob/bob/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	_, err := c.ProfileReadme(context.Background(), "bob")
	assert.Error(t, err)
}

func TestActivity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		assert.Equal(t, "alice", req.Variables["login"])
		assert.Equal(t, "NODE1", req.Variables["authorId"])
		assert.Contains(t, req.Query, "$authorId:ID!")
		assert.Contains(t, req.Query, "$login:String!")
		assert.Contains(t, req.Query, "user(login: $login)")
		assert.Contains(t, req.Query, "... on Commit{history(first: 30, author: {id: $authorId})")

		w.Write([]byte(`{"data":{"user":{
			"name":"Alice","bio":null,"location":"Earth",
			"status":{"emoji":":coffee:","message":null},
			"pullRequests":{"nodes":[
				{"title":"Fix bug","body":"details","createdAt":"2025-01-02T03:04:05Z",
				 "repository":{"nameWithOwner":"acme/app","description":null}}
			]},
			"repositoriesContributedTo":{"nodes":[
				{"nameWithOwner":"acme/app","description":"App","defaultBranchRef":{"target":{"history":{"nodes":[
					{"message":"init","committedDate":"2025-01-01T00:00:00Z"}
				]}}}},
				{"nameWithOwner":"acme/empty","description":null,"defaultBranchRef":null},
				null
			]}
		}}}`))
	})
	c := newTestClient(t, mux)

	a, err := c.Activity(context.Background(), "alice", "NODE1")
	require.NoError(t, err)

	require.NotNil(t, a.Name)
	assert.Equal(t, "Alice", *a.Name)
	assert.Nil(t, a.Bio)
	require.NotNil(t, a.Status)
	assert.Nil(t, a.Status.Message)

	require.Len(t, a.PullRequests.Nodes, 1)
	assert.Equal(t, "Fix bug", *a.PullRequests.Nodes[0].Title)
	assert.Nil(t, a.PullRequests.Nodes[0].Repository.Description)

	nodes := a.RepositoriesContributedTo.Nodes
	require.Len(t, nodes, 3)
	require.NotNil(t, nodes[0].DefaultBranchRef.Target.History)
	assert.Len(t, nodes[0].DefaultBranchRef.Target.History.Nodes, 1)
	assert.Equal(t, "init", *nodes[0].DefaultBranchRef.Target.History.Nodes[0].Message)
	assert.Nil(t, nodes[1].DefaultBranchRef)
	assert.Nil(t, nodes[2])
}

func TestActivity_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"graphql errors array", http.StatusOK, `{"data":null,"errors":[{"message":"Something went wrong"}]}`},
		{"non-2xx", http.StatusBadGateway, `bad gateway`},
		{"malformed json", http.StatusOK, `{"data":`},
		{"null user", http.StatusOK, `{"data":{"user":null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			c := newTestClient(t, mux)

			_, err := c.Activity(context.Background(), "alice", "NODE1")
			assert.Error(t, err)
		})
	}
}

func TestActivity_NonCommitTarget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"user":{"repositoriesContributedTo":{"nodes":[
			{"nameWithOwner":"acme/tags","defaultBranchRef":{"target":{}}}
		]}}}}`))
	})
	c := newTestClient(t, mux)

	a, err := c.Activity(context.Background(), "alice", "NODE1")
	require.NoError(t, err)
	require.Len(t, a.RepositoriesContributedTo.Nodes, 1)
	assert.Nil(t, a.RepositoriesContributedTo.Nodes[0].DefaultBranchRef.Target.History)
	assert.Nil(t, a.PullRequests)
}

func TestNewConnector_Defaults(t *testing.T) {
	conn, err := NewConnector(nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, conn.apiURL.String())
	assert.Equal(t, DefaultGraphQLURL, conn.graphqlURL)
}
