package fault

import (
	"errors"
	"fmt"
	"testing"
)

// TestKindOf_Classified tests kind extraction from fault errors.
func TestKindOf_Classified(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{Validation("bad email"), KindValidation},
		{Conflict("already subscribed"), KindConflict},
		{NotFound("no such subscriber"), KindNotFound},
		{Internal("query failed", errors.New("disk io")), KindInternal},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

// TestKindOf_Wrapped tests that classification survives fmt.Errorf wrapping.
func TestKindOf_Wrapped(t *testing.T) {
	inner := Conflict("already unsubscribed")
	wrapped := fmt.Errorf("unsubscribe: %w", inner)
	if got := KindOf(wrapped); got != KindConflict {
		t.Errorf("KindOf(wrapped) = %v, want %v", got, KindConflict)
	}
	if got := MessageOf(wrapped); got != "already unsubscribed" {
		t.Errorf("MessageOf(wrapped) = %q, want %q", got, "already unsubscribed")
	}
}

// TestKindOf_Unclassified tests that raw errors default to internal.
func TestKindOf_Unclassified(t *testing.T) {
	raw := errors.New("sql: database is locked")
	if got := KindOf(raw); got != KindInternal {
		t.Errorf("KindOf(raw) = %v, want %v", got, KindInternal)
	}
	if got := MessageOf(raw); got != "internal error" {
		t.Errorf("MessageOf(raw) = %q, want %q", got, "internal error")
	}
}

// TestInternal_Unwrap tests that the underlying cause stays reachable.
func TestInternal_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	fe := Internal("send failed", cause)
	if !errors.Is(fe, cause) {
		t.Error("errors.Is(fe, cause) = false, want true")
	}
}
