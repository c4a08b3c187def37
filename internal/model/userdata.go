package model

// UserData is the normalized snapshot of a user's public GitHub activity.
//
// It is produced once per cache miss by the user data fetcher and stored in
// the cache as JSON under userdata:{username}. Slices are never nil after
// normalization, so downstream code can range over them without checks.
type UserData struct {
	Username         string        `json:"username"`
	Name             string        `json:"name"`
	Bio              string        `json:"bio"`
	Location         string        `json:"location"`
	Status           *UserStatus   `json:"status"`
	PullRequests     []PullRequest `json:"pullRequests"`
	ContributedRepos []Repository  `json:"repositoriesContributedTo"`
	ProfileContent   string        `json:"profileContent"`
}

// UserStatus is the emoji + message a user can set on their profile.
type UserStatus struct {
	Emoji   string `json:"emoji"`
	Message string `json:"message"`
}

// PullRequest summarizes one pull request authored by the user.
// CreatedAt is already formatted for display.
type PullRequest struct {
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	CreatedAt  string  `json:"createdAt"`
	Repository RepoRef `json:"repository"`
}

// RepoRef identifies a repository without its commit history.
type RepoRef struct {
	NameWithOwner string `json:"nameWithOwner"`
	Description   string `json:"description"`
}

// Repository is a repository the user committed to, with the user's own
// commits on the default branch.
type Repository struct {
	NameWithOwner string   `json:"nameWithOwner"`
	Description   string   `json:"description"`
	Commits       []Commit `json:"commits"`
}

// Commit is a single commit message. CommittedDate is already formatted.
type Commit struct {
	Message       string `json:"message"`
	CommittedDate string `json:"committedDate"`
}
