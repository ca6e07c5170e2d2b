package orchestrators

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"hartwig/internal/adapters/email"
)

// ConfirmationEmailInput carries input for the double-opt-in email.
type ConfirmationEmailInput struct {
	Email string
	Name  string
	Token string
}

// ConfirmationEmailDeps holds dependencies for the double-opt-in email.
type ConfirmationEmailDeps struct {
	Sender      email.Sender
	FromAddress string
	ReplyTo     string
	BaseURL     string // Site base, e.g. https://example.com (no trailing slash)
}

// ExecuteSendConfirmation sends the double-opt-in email carrying the confirm
// link. The subscribe state change has already been committed by the time this
// runs; the caller decides whether a failed send is fatal (it should not be).
// PRE: input.Token was minted by a successful subscribe
// POST: One confirmation email was handed to the provider, or an error
func ExecuteSendConfirmation(ctx context.Context, input ConfirmationEmailInput, deps ConfirmationEmailDeps) error {
	confirmURL := fmt.Sprintf("%s/api/confirm?token=%s",
		strings.TrimRight(deps.BaseURL, "/"), url.QueryEscape(input.Token))

	greeting := "Hello,"
	if input.Name != "" {
		greeting = fmt.Sprintf("Hi %s,", input.Name)
	}

	html := fmt.Sprintf(`<p>%s</p>
<p>Please confirm your newsletter subscription by clicking the link below:</p>
<p><a href="%s">Confirm subscription</a></p>
<p>If you did not request this, you can ignore this email.</p>`, greeting, confirmURL)

	text := fmt.Sprintf(`%s

Please confirm your newsletter subscription by visiting:

%s

If you did not request this, you can ignore this email.
`, greeting, confirmURL)

	_, err := deps.Sender.Send(ctx, email.SendRequest{
		To:      []string{input.Email},
		From:    deps.FromAddress,
		Subject: "Confirm your subscription",
		HTML:    html,
		Text:    text,
		ReplyTo: deps.ReplyTo,
	})
	if err != nil {
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}
	return nil
}
