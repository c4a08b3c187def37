package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/github-report/internal/apperror"
	"github.com/sakif/github-report/internal/cache"
	"github.com/sakif/github-report/internal/githubapi"
	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/repository"
)

const (
	// ProfileUnavailable replaces the profile README when it cannot be read.
	ProfileUnavailable = "Profile content not available."

	// TimeLayout is how commit and pull request timestamps are displayed.
	TimeLayout = "2006/1/2 15:04:05"

	msgGeneric = "The server ran into a problem, please try again later."
)

// ProfileSource is the GitHub API as seen by one authenticated user.
// *githubapi.Client implements it.
type ProfileSource interface {
	Viewer(ctx context.Context) (*model.Viewer, error)
	Activity(ctx context.Context, login, nodeID string) (*githubapi.Activity, error)
	ProfileReadme(ctx context.Context, login string) (string, error)
}

// UserDataFetcher loads a user's activity snapshot, from the cache when
// possible.
type UserDataFetcher struct {
	cache  *cache.Cache[model.UserData]
	loc    *time.Location
	logger *slog.Logger
}

// NewUserDataFetcher creates a fetcher caching snapshots for ttl under
// userdata:{login}. Timestamps are rendered in loc.
func NewUserDataFetcher(store repository.KVStore, ttl time.Duration, loc *time.Location, logger *slog.Logger) *UserDataFetcher {
	return &UserDataFetcher{
		cache:  cache.New[model.UserData](store, "userdata", ttl, logger),
		loc:    loc,
		logger: logger,
	}
}

// Fetch resolves the user behind src and returns their activity snapshot.
//
// A cache hit makes no call beyond resolving the login. On a miss it runs
// one activity query and one README read, normalizes the result and caches
// it. Activity failures are returned; README failures are not.
func (f *UserDataFetcher) Fetch(ctx context.Context, src ProfileSource) (*model.UserData, error) {
	viewer, err := src.Viewer(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/userdata: resolving user: %w", apperror.Upstream(msgGeneric, err))
	}
	if viewer.Login == "" {
		return nil, fmt.Errorf("service/userdata: %w",
			apperror.Upstream(msgGeneric, fmt.Errorf("GitHub returned no username")))
	}

	if data, ok := f.cache.Get(ctx, viewer.Login); ok {
		f.logger.Debug("user data cache hit", slog.String("login", viewer.Login))
		return &data, nil
	}

	f.logger.Info("fetching user data from GitHub", slog.String("login", viewer.Login))

	activity, err := src.Activity(ctx, viewer.Login, viewer.NodeID)
	if err != nil {
		return nil, fmt.Errorf("service/userdata: fetching activity for %s: %w",
			viewer.Login, apperror.Upstream(msgGeneric, err))
	}

	profile, err := src.ProfileReadme(ctx, viewer.Login)
	if err != nil {
		f.logger.Info("profile readme unavailable",
			slog.String("login", viewer.Login),
			slog.String("error", err.Error()),
		)
		profile = ProfileUnavailable
	}

	data := normalizeActivity(viewer.Login, activity, profile, f.loc)
	f.cache.Set(ctx, viewer.Login, data)
	return &data, nil
}

// normalizeActivity turns the nullable wire shape into a UserData with no
// nil slices. Repositories without any commit by the user are dropped.
func normalizeActivity(login string, a *githubapi.Activity, profile string, loc *time.Location) model.UserData {
	data := model.UserData{
		Username:         login,
		PullRequests:     []model.PullRequest{},
		ContributedRepos: []model.Repository{},
		ProfileContent:   profile,
	}
	if a == nil {
		return data
	}

	data.Name = str(a.Name)
	data.Bio = str(a.Bio)
	data.Location = str(a.Location)
	if a.Status != nil {
		data.Status = &model.UserStatus{
			Emoji:   str(a.Status.Emoji),
			Message: str(a.Status.Message),
		}
	}

	if a.PullRequests != nil {
		for _, pr := range a.PullRequests.Nodes {
			if pr == nil {
				continue
			}
			var repo model.RepoRef
			if pr.Repository != nil {
				repo = model.RepoRef{
					NameWithOwner: str(pr.Repository.NameWithOwner),
					Description:   str(pr.Repository.Description),
				}
			}
			data.PullRequests = append(data.PullRequests, model.PullRequest{
				Title:      str(pr.Title),
				Body:       str(pr.Body),
				CreatedAt:  formatTime(pr.CreatedAt, loc),
				Repository: repo,
			})
		}
	}

	if a.RepositoriesContributedTo != nil {
		for _, repo := range a.RepositoriesContributedTo.Nodes {
			commits := repoCommits(repo, loc)
			if len(commits) == 0 {
				continue
			}
			data.ContributedRepos = append(data.ContributedRepos, model.Repository{
				NameWithOwner: str(repo.NameWithOwner),
				Description:   str(repo.Description),
				Commits:       commits,
			})
		}
	}

	return data
}

func repoCommits(repo *githubapi.RepositoryNode, loc *time.Location) []model.Commit {
	if repo == nil || repo.DefaultBranchRef == nil || repo.DefaultBranchRef.Target == nil ||
		repo.DefaultBranchRef.Target.History == nil {
		return nil
	}

	var commits []model.Commit
	for _, c := range repo.DefaultBranchRef.Target.History.Nodes {
		if c == nil {
			continue
		}
		commits = append(commits, model.Commit{
			Message:       str(c.Message),
			CommittedDate: formatTime(c.CommittedDate, loc),
		})
	}
	return commits
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format(TimeLayout)
}
