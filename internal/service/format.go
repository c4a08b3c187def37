package service

import (
	"fmt"
	"strings"

	"github.com/sakif/github-report/internal/model"
)

// FormatUserData renders a snapshot as the plain-text digest that is
// substituted for {{commit_data}}. The START/END markers delimit sections
// for the model.
func FormatUserData(d *model.UserData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Username: %s\n", d.Username)
	fmt.Fprintf(&b, "Name: %s\n", d.Name)
	fmt.Fprintf(&b, "Bio: %s\n", d.Bio)
	fmt.Fprintf(&b, "Location: %s\n", d.Location)

	emoji, message := "No status", "No status message"
	if d.Status != nil {
		if d.Status.Emoji != "" {
			emoji = d.Status.Emoji
		}
		if d.Status.Message != "" {
			message = d.Status.Message
		}
	}
	fmt.Fprintf(&b, "Status: %s %s\n", emoji, message)

	b.WriteString("Pull requests:\n<START_PULL_REQUESTS>\n")
	if len(d.PullRequests) == 0 {
		b.WriteString("No pull requests\n")
	}
	for _, pr := range d.PullRequests {
		fmt.Fprintf(&b, "- %s (%s)\n  %s\n  Created at: %s\n",
			pr.Title, pr.Repository.NameWithOwner, pr.Body, pr.CreatedAt)
	}
	b.WriteString("<END_PULL_REQUESTS>\n")

	b.WriteString("Commits:\n<START_COMMITS>\n")
	if len(d.ContributedRepos) == 0 {
		b.WriteString("No commits\n")
	}
	for _, repo := range d.ContributedRepos {
		fmt.Fprintf(&b, "- %s (%s)\n  Commits:\n", repo.NameWithOwner, repo.Description)
		for _, c := range repo.Commits {
			fmt.Fprintf(&b, "  - %s (%s)\n", c.Message, c.CommittedDate)
		}
	}
	b.WriteString("<END_COMMITS>\n")

	profile := d.ProfileContent
	if profile == "" {
		profile = "No profile page"
	}
	fmt.Fprintf(&b, "Profile content:\n<START_PROFILE_CONTENT>\n%s\n<END_PROFILE_CONTENT>", profile)

	return b.String()
}
