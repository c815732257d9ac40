package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

// slug transformation: lower-case, non-alphanumerics to '-', runs
// collapsed, truncated, trailing '-' stripped.
var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// maxSlugLen bounds the slug portion of a branch name.
const maxSlugLen = 50

// Slug derives the branch slug from an issue title.
func Slug(title string) string {
	s := strings.ToLower(title)
	s = nonAlnum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
		s = strings.TrimRight(s, "-")
	}
	return s
}

// BranchName formats the canonical branch name "<issueNumber>-<slug>".
func BranchName(issueNumber int, title string) string {
	return fmt.Sprintf("%d-%s", issueNumber, Slug(title))
}
