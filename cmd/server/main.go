package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"hartwig/internal/adapters/content"
	emailPkg "hartwig/internal/adapters/email"
	web "hartwig/internal/adapters/http"
	"hartwig/internal/adapters/storage"
	dispatchStore "hartwig/internal/adapters/storage/dispatch"
	ledgerStore "hartwig/internal/adapters/storage/ledger"
	subscriberStore "hartwig/internal/adapters/storage/subscriber"
	"hartwig/internal/adapters/verify"
	"hartwig/internal/application/orchestrators"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Initialize database with WAL mode, foreign keys, and busy timeout
	dbPath := envOrDefault("HARTWIG_DB", "hartwig.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Connection pool settings for WAL mode
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}
	if err := storage.InitDB(db); err != nil {
		log.Fatalf("failed to initialize schema: %v", err)
	}

	// Slow-query instrumentation wraps the raw handle
	timedDB := storage.NewTimedDB(db)

	stores := &web.Stores{
		SubscriberStore: subscriberStore.NewSQLiteStore(timedDB),
		LedgerStore:     ledgerStore.NewSQLiteStore(timedDB),
		DispatchStore:   dispatchStore.NewSQLiteStore(timedDB),
	}

	baseURL := envOrDefault("HARTWIG_BASE_URL", "http://localhost:8080")
	emailFrom := envOrDefault("HARTWIG_FROM", "Newsletter <newsletter@localhost>")
	emailReply := envOrDefault("HARTWIG_REPLY_TO", "")

	// Email sender: Resend when a key is present, noop otherwise
	var sender emailPkg.Sender
	if resendKey := os.Getenv("HARTWIG_RESEND_KEY"); resendKey != "" {
		sender = emailPkg.NewResendSender(resendKey, emailFrom)
		log.Println("Email sender configured (Resend)")
	} else {
		sender = emailPkg.NewNoopSender()
		if os.Getenv("HARTWIG_ENV") == "production" {
			log.Println("WARNING: HARTWIG_RESEND_KEY is not set — email delivery is DISABLED in production")
		} else {
			log.Println("Email sender configured (noop — set HARTWIG_RESEND_KEY for real delivery)")
		}
	}

	// Bot verification: Turnstile when a secret is present, accept-all otherwise
	var verifier verify.Verifier
	if secret := os.Getenv("HARTWIG_TURNSTILE_SECRET"); secret != "" {
		verifier = verify.NewTurnstileVerifier(secret)
		log.Println("Bot verification configured (Turnstile)")
	} else {
		verifier = verify.NewNoopVerifier()
		log.Println("Bot verification disabled (set HARTWIG_TURNSTILE_SECRET to enable)")
	}

	issuesDir := envOrDefault("HARTWIG_ISSUES_DIR", "issues")
	lookup := content.NewFileLookup(issuesDir, baseURL)

	workers := 4
	if v := os.Getenv("HARTWIG_DISPATCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Fatalf("HARTWIG_DISPATCH_WORKERS must be a positive integer, got %q", v)
		}
		workers = n
	}

	adminKeyHash := os.Getenv("HARTWIG_ADMIN_KEY_HASH")
	if adminKeyHash == "" {
		log.Println("WARNING: HARTWIG_ADMIN_KEY_HASH is not set — dispatch endpoints are DISABLED")
	}

	unsubscribeURL := baseURL + "/unsubscribe"

	// Resume dispatch runs a crashed process left behind
	dispatchDeps := orchestrators.DispatchDeps{
		Subscribers:    stores.SubscriberStore,
		Ledger:         stores.LedgerStore,
		Runs:           stores.DispatchStore,
		Content:        lookup,
		Sender:         sender,
		FromAddress:    emailFrom,
		ReplyTo:        emailReply,
		UnsubscribeURL: unsubscribeURL,
		Workers:        workers,
		GenerateID:     func() string { return uuid.New().String() },
		Now:            time.Now,
	}
	stopResume := orchestrators.StartDispatchResumeScheduler(context.Background(), dispatchDeps, orchestrators.ResumeConfig{
		Enabled:  true,
		Interval: time.Minute,
		MinAge:   10 * time.Minute,
		MaxRuns:  10,
	})
	defer stopResume()

	mux := web.NewMux(stores, web.Config{
		Sender:         sender,
		Verifier:       verifier,
		Content:        lookup,
		FromAddress:    emailFrom,
		ReplyTo:        emailReply,
		BaseURL:        baseURL,
		UnsubscribeURL: unsubscribeURL,
		AdminKeyHash:   adminKeyHash,
		Workers:        workers,
	})

	addr := envOrDefault("HARTWIG_ADDR", ":8080")
	log.Printf("Hartwig %s starting on %s (env=%s)", version, addr, envOrDefault("HARTWIG_ENV", "development"))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
