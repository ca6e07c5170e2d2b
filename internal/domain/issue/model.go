package issue

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrUnknownIssue = errors.New("issue does not exist")
	ErrEmptyBody    = errors.New("issue has no rendered body")
)

// Issue is the metadata for one newsletter issue, resolved by the content
// lookup collaborator. The rendered HTML body travels separately.
type Issue struct {
	Number      int64
	Title       string
	Description string
	WebURL      string // Canonical public URL of the issue on the site
}

// Validate checks that metadata required for dispatch is present.
// PRE: Issue was loaded from the content collaborator
// POST: Returns error if the issue cannot be dispatched
func (i *Issue) Validate() error {
	if i.Number < 1 {
		return fmt.Errorf("issue number %d is invalid", i.Number)
	}
	if i.Title == "" {
		return errors.New("issue title is required")
	}
	return nil
}

// Subject builds the email subject line for this issue.
func (i *Issue) Subject() string {
	return i.Title
}
