package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"hartwig/internal/adapters/content"
	"hartwig/internal/adapters/email"
	"hartwig/internal/adapters/http/middleware"
	dispatchStore "hartwig/internal/adapters/storage/dispatch"
	ledgerStore "hartwig/internal/adapters/storage/ledger"
	subscriberStore "hartwig/internal/adapters/storage/subscriber"
	"hartwig/internal/adapters/verify"
)

// Stores holds all storage dependencies.
type Stores struct {
	SubscriberStore subscriberStore.Store
	LedgerStore     ledgerStore.Store
	DispatchStore   dispatchStore.Store
}

// Config holds the non-storage collaborators and settings the handlers need.
type Config struct {
	Sender         email.Sender
	Verifier       verify.Verifier
	Content        content.Lookup
	FromAddress    string
	ReplyTo        string
	BaseURL        string
	UnsubscribeURL string
	AdminKeyHash   string // bcrypt hash of the dispatch admin key; empty disables the endpoints
	Workers        int
}

// Global stores instance (set by NewMux)
var stores *Stores

// Global config instance (set by NewMux)
var cfg Config

// RateLimitPerSecond controls the per-IP rate limit. Tests can increase this.
var RateLimitPerSecond = 10

// timeNow is a variable for testability.
var timeNow = time.Now

// generateID creates a new UUID string.
func generateID() string {
	return uuid.New().String()
}

// NewMux wires HTTP handlers for the app.
func NewMux(s *Stores, c Config) http.Handler {
	stores = s
	cfg = c

	mux := http.NewServeMux()
	registerRoutes(mux)

	limiter := middleware.NewRateLimiter(RateLimitPerSecond, time.Second)

	// Apply middleware: SecurityHeaders -> RateLimit -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.RateLimit(limiter),
	)
}
