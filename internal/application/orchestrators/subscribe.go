package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	subscriberStore "hartwig/internal/adapters/storage/subscriber"
	"hartwig/internal/domain/fault"
	subscriberDomain "hartwig/internal/domain/subscriber"
)

// --- Subscribe ---

// SubscribeInput carries input for a subscribe request.
type SubscribeInput struct {
	Email string
	Name  string
}

// SubscribeDeps holds dependencies for Subscribe.
type SubscribeDeps struct {
	Subscribers   subscriberStore.Store
	GenerateToken func() (string, error)
	Now           func() time.Time
}

// SubscribeResult reports the outcome of a subscribe request.
type SubscribeResult struct {
	SubscriberID int64
	Resubscribed bool   // True when an inactive row was reactivated
	ConfirmToken string // Fresh token for the double-opt-in email
}

// ExecuteSubscribe creates a new subscriber or reactivates an inactive one.
// Either way a fresh confirm token is minted and any previous token is dead.
// Sending the confirmation email is the caller's side effect, not this
// operation's: a failed send must not roll back the state change.
// PRE: none (input is validated here)
// POST: Exactly one active, unconfirmed row exists for the email
func ExecuteSubscribe(ctx context.Context, input SubscribeInput, deps SubscribeDeps) (SubscribeResult, error) {
	if err := subscriberDomain.ValidateEmail(input.Email); err != nil {
		return SubscribeResult{}, fault.Validation(err.Error())
	}
	name := strings.TrimSpace(input.Name)
	if len(name) > subscriberDomain.MaxNameLength {
		return SubscribeResult{}, fault.Validation(fmt.Sprintf("name cannot exceed %d characters", subscriberDomain.MaxNameLength))
	}

	mint := deps.GenerateToken
	if mint == nil {
		mint = subscriberDomain.NewConfirmToken
	}
	token, err := mint()
	if err != nil {
		return SubscribeResult{}, fault.Internal("failed to mint confirm token", err)
	}
	now := deps.Now()

	existing, err := deps.Subscribers.GetByEmail(ctx, input.Email)
	switch {
	case errors.Is(err, subscriberStore.ErrNotFound):
		id, insErr := deps.Subscribers.Insert(ctx, subscriberDomain.Subscriber{
			Email:        input.Email,
			Name:         name,
			SubscribedAt: now,
			ConfirmToken: token,
		})
		if insErr != nil {
			if errors.Is(insErr, subscriberStore.ErrDuplicateEmail) {
				// Lost a race against a concurrent subscribe for the same email.
				return SubscribeResult{}, fault.Conflict(subscriberDomain.ErrAlreadySubscribed.Error())
			}
			return SubscribeResult{}, fault.Internal("failed to create subscriber", insErr)
		}
		slog.Info("subscription_event", "event", "subscribed", "subscriber_id", id)
		return SubscribeResult{SubscriberID: id, ConfirmToken: token}, nil

	case err != nil:
		return SubscribeResult{}, fault.Internal("failed to look up subscriber", err)
	}

	if existing.IsActive() {
		return SubscribeResult{}, fault.Conflict(subscriberDomain.ErrAlreadySubscribed.Error())
	}

	ok, err := deps.Subscribers.Reactivate(ctx, input.Email, token, now)
	if err != nil {
		return SubscribeResult{}, fault.Internal("failed to reactivate subscriber", err)
	}
	if !ok {
		// The pre-check saw an inactive row but the guarded update matched
		// nothing: a concurrent resubscribe won. Never report this as success.
		return SubscribeResult{}, fault.Internal("lost resubscribe race", nil)
	}

	slog.Info("subscription_event", "event", "resubscribed", "subscriber_id", existing.ID)
	return SubscribeResult{SubscriberID: existing.ID, Resubscribed: true, ConfirmToken: token}, nil
}

// --- Unsubscribe ---

// UnsubscribeInput carries input for an unsubscribe request.
type UnsubscribeInput struct {
	Email string
}

// UnsubscribeDeps holds dependencies for Unsubscribe.
type UnsubscribeDeps struct {
	Subscribers subscriberStore.Store
	Now         func() time.Time
}

// ExecuteUnsubscribe deactivates an active subscriber. The row is kept so the
// email can resubscribe later; the guarded update means two concurrent
// unsubscribes cannot both succeed.
// PRE: none (input is validated here)
// POST: Row is inactive, or a classified fault explains why not
func ExecuteUnsubscribe(ctx context.Context, input UnsubscribeInput, deps UnsubscribeDeps) error {
	if err := subscriberDomain.ValidateEmail(input.Email); err != nil {
		return fault.Validation(err.Error())
	}

	existing, err := deps.Subscribers.GetByEmail(ctx, input.Email)
	if errors.Is(err, subscriberStore.ErrNotFound) {
		return fault.NotFound(subscriberDomain.ErrNotSubscribed.Error())
	}
	if err != nil {
		return fault.Internal("failed to look up subscriber", err)
	}
	if !existing.IsActive() {
		return fault.Conflict(subscriberDomain.ErrAlreadyUnsubscribed.Error())
	}

	ok, err := deps.Subscribers.Deactivate(ctx, input.Email, deps.Now())
	if err != nil {
		return fault.Internal("failed to deactivate subscriber", err)
	}
	if !ok {
		// Pre-check passed but the guard matched nothing: a concurrent
		// unsubscribe won the race.
		return fault.Internal("lost unsubscribe race", nil)
	}

	slog.Info("subscription_event", "event", "unsubscribed", "subscriber_id", existing.ID)
	return nil
}

// --- Confirm ---

// ConfirmInput carries input for a confirm request.
type ConfirmInput struct {
	Token string
}

// ConfirmDeps holds dependencies for Confirm.
type ConfirmDeps struct {
	Subscribers subscriberStore.Store
	Now         func() time.Time
}

// ExecuteConfirm consumes a confirmation token. One conditional update both
// verifies and retires the token, so unknown tokens and already-consumed
// tokens are rejected identically without leaking which case occurred.
// PRE: none (input is validated here)
// POST: At most one subscriber transitions to confirmed
func ExecuteConfirm(ctx context.Context, input ConfirmInput, deps ConfirmDeps) error {
	if input.Token == "" {
		return fault.Validation("confirm token is required")
	}

	ok, err := deps.Subscribers.ConfirmByToken(ctx, input.Token, deps.Now())
	if err != nil {
		return fault.Internal("failed to confirm subscriber", err)
	}
	if !ok {
		return fault.NotFound("invalid or expired token")
	}

	slog.Info("subscription_event", "event", "confirmed")
	return nil
}
