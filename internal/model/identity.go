// Package model defines the data structures used throughout the application.
package model

import "golang.org/x/oauth2"

// Identity is the authenticated caller of a request, as resolved from the
// session store.
//
// SubjectID is the GitHub login. Credential is the OAuth token used to call
// the GitHub API on the user's behalf; the core passes it to the profile
// client and never persists it itself.
type Identity struct {
	SubjectID  string
	Credential *oauth2.Token
}

// Viewer is the authenticated GitHub account behind an Identity.
type Viewer struct {
	Login     string `json:"login"`
	NodeID    string `json:"nodeId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	HTMLURL   string `json:"htmlUrl"`
}
