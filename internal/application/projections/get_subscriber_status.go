package projections

import (
	"context"
	"errors"
	"time"

	subscriberStore "hartwig/internal/adapters/storage/subscriber"
	"hartwig/internal/domain/fault"
	subscriberDomain "hartwig/internal/domain/subscriber"
)

// GetSubscriberStatusQuery carries query parameters.
type GetSubscriberStatusQuery struct {
	Email string
}

// GetSubscriberStatusResult carries the query result.
type GetSubscriberStatusResult struct {
	Subscribed     bool      `json:"subscribed"`
	Confirmed      bool      `json:"confirmed"`
	Name           string    `json:"name,omitempty"`
	SubscribedAt   time.Time `json:"subscribedAt,omitzero"`
	IssuesReceived int64     `json:"issuesReceived"`
	ConfirmToken   string    `json:"-"` // For the resend path only; never serialized
}

// GetSubscriberStatusDeps holds dependencies for GetSubscriberStatus.
type GetSubscriberStatusDeps struct {
	Subscribers subscriberStore.Store
}

// QueryGetSubscriberStatus retrieves the public subscription state for an
// email. Read-only: it never creates rows or mutates state.
// PRE: none (input is validated here)
// POST: Returns the status or a NotFound fault for unknown emails
func QueryGetSubscriberStatus(ctx context.Context, query GetSubscriberStatusQuery, deps GetSubscriberStatusDeps) (GetSubscriberStatusResult, error) {
	if err := subscriberDomain.ValidateEmail(query.Email); err != nil {
		return GetSubscriberStatusResult{}, fault.Validation(err.Error())
	}

	s, err := deps.Subscribers.GetByEmail(ctx, query.Email)
	if errors.Is(err, subscriberStore.ErrNotFound) {
		return GetSubscriberStatusResult{}, fault.NotFound(subscriberDomain.ErrNotSubscribed.Error())
	}
	if err != nil {
		return GetSubscriberStatusResult{}, fault.Internal("failed to look up subscriber", err)
	}

	return GetSubscriberStatusResult{
		Subscribed:     s.IsActive(),
		Confirmed:      s.IsActive() && s.IsConfirmed(),
		Name:           s.Name,
		SubscribedAt:   s.SubscribedAt,
		IssuesReceived: s.IssuesReceivedCount,
		ConfirmToken:   s.ConfirmToken,
	}, nil
}
