package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/oauth2"

	"github.com/sakif/github-report/internal/githubapi"
	"github.com/sakif/github-report/internal/llm"
	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/repository/redis"
)

// =========================================================================
// FAKE GITHUB
// =========================================================================

// fakeSource is a scripted ProfileSource that counts its calls.
type fakeSource struct {
	mu sync.Mutex

	viewer    *model.Viewer
	viewerErr error
	activity  *githubapi.Activity
	actErr    error
	readme    string
	readmeErr error

	viewerCalls   int
	activityCalls int
	readmeCalls   int
}

func newFakeSource(login string) *fakeSource {
	return &fakeSource{
		viewer:   &model.Viewer{Login: login, NodeID: "NODE_" + login},
		activity: sampleActivity(),
		readme:   "# Hello from " + login,
	}
}

func (f *fakeSource) Viewer(context.Context) (*model.Viewer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewerCalls++
	return f.viewer, f.viewerErr
}

func (f *fakeSource) Activity(_ context.Context, login, nodeID string) (*githubapi.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activityCalls++
	return f.activity, f.actErr
}

func (f *fakeSource) ProfileReadme(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readmeCalls++
	return f.readme, f.readmeErr
}

func (f *fakeSource) calls() (viewer, activity, readme int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewerCalls, f.activityCalls, f.readmeCalls
}

func ptr[T any](v T) *T { return &v }

func sampleActivity() *githubapi.Activity {
	return &githubapi.Activity{
		Name:     ptr("Alice"),
		Location: ptr("Shanghai"),
		PullRequests: &githubapi.PRConnection{Nodes: []*githubapi.PullRequestNode{
			{
				Title:      ptr("Add cache"),
				Body:       ptr("Adds a cache."),
				CreatedAt:  ptr(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)),
				Repository: &githubapi.RepoRef{NameWithOwner: ptr("acme/app")},
			},
		}},
		RepositoriesContributedTo: &githubapi.RepoConnection{Nodes: []*githubapi.RepositoryNode{
			{
				NameWithOwner: ptr("acme/app"),
				Description:   ptr("The app"),
				DefaultBranchRef: &githubapi.BranchRef{Target: &githubapi.CommitTarget{CommitFields: githubapi.CommitFields{
					History: &githubapi.HistoryConnection{Nodes: []*githubapi.CommitNode{
						{Message: ptr("initial commit"), CommittedDate: ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))},
					}},
				}}},
			},
		}},
	}
}

// =========================================================================
// FAKE ENGINE
// =========================================================================

// fakeEngine streams a fixed list of fragments. When gate is set, the
// stream blocks after its first fragment until gate is closed.
type fakeEngine struct {
	mu        sync.Mutex
	fragments []string
	startErr  error
	streamErr error
	gate      chan struct{}
	streaming chan struct{}
	calls     int
	prompts   []string
	closed    int
}

func (e *fakeEngine) Stream(ctx context.Context, prompt string) (llm.FragmentStream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.prompts = append(e.prompts, prompt)
	if e.startErr != nil {
		return nil, e.startErr
	}
	return &fakeFragments{ctx: ctx, engine: e, fragments: e.fragments}, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeFragments struct {
	ctx       context.Context
	engine    *fakeEngine
	fragments []string
	i         int
}

func (s *fakeFragments) Next() (string, error) {
	if s.i == 1 && s.engine.gate != nil {
		if s.engine.streaming != nil {
			close(s.engine.streaming)
		}
		select {
		case <-s.engine.gate:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if s.i >= len(s.fragments) {
		if s.engine.streamErr != nil {
			return "", s.engine.streamErr
		}
		return "", io.EOF
	}
	f := s.fragments[s.i]
	s.i++
	return f, nil
}

func (s *fakeFragments) Close() error {
	s.engine.mu.Lock()
	s.engine.closed++
	s.engine.mu.Unlock()
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

var errBoom = errors.New("boom")

var testLoc = time.FixedZone("CST", 8*3600)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore returns a Redis store backed by miniredis.
func newTestStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := redis.New(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func identity(login string) model.Identity {
	return model.Identity{SubjectID: login, Credential: &oauth2.Token{AccessToken: "gho_" + login}}
}
