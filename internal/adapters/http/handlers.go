package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"hartwig/internal/adapters/verify"
	"hartwig/internal/application/orchestrators"
	"hartwig/internal/application/projections"
	"hartwig/internal/domain/fault"
)

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/subscribe", handleSubscribe)
	mux.HandleFunc("POST /api/unsubscribe", handleUnsubscribe)
	mux.HandleFunc("POST /api/confirm", handleConfirm)
	mux.HandleFunc("GET /api/confirm", handleConfirmLink)
	mux.HandleFunc("GET /api/status", handleStatus)
	mux.HandleFunc("POST /api/dispatch", handleDispatch)
	mux.HandleFunc("GET /api/dispatch/report", handleDispatchReport)
	mux.HandleFunc("GET /healthz", handleHealthz)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json_encode_error", "error", err.Error())
	}
}

// writeFault maps a classified fault to its HTTP status. The switch is
// exhaustive over the fault kinds; internal faults log the real error and
// return a generic message so store details never leak to clients.
func writeFault(w http.ResponseWriter, err error) {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fault.MessageOf(err)})
	case fault.KindConflict:
		writeJSON(w, http.StatusConflict, map[string]string{"error": fault.MessageOf(err)})
	case fault.KindNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fault.MessageOf(err)})
	case fault.KindInternal:
		slog.Error("internal_error", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// remoteIP extracts the client IP for the bot-verification collaborator.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Name        string `json:"name"`
		VerifyToken string `json:"verifyToken"`
	}
	if err := strictDecode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := cfg.Verifier.Verify(r.Context(), req.VerifyToken, remoteIP(r)); err != nil {
		if errors.Is(err, verify.ErrRejected) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "verification failed"})
			return
		}
		writeFault(w, fault.Internal("bot verification unavailable", err))
		return
	}

	result, err := orchestrators.ExecuteSubscribe(r.Context(), orchestrators.SubscribeInput{
		Email: req.Email,
		Name:  req.Name,
	}, orchestrators.SubscribeDeps{
		Subscribers: stores.SubscriberStore,
		Now:         timeNow,
	})
	if err != nil {
		writeFault(w, err)
		return
	}

	// The subscription is committed; a failed confirmation send must not
	// undo it. The token can still reach the user via the resend path.
	if err := orchestrators.ExecuteSendConfirmation(r.Context(), orchestrators.ConfirmationEmailInput{
		Email: req.Email,
		Name:  req.Name,
		Token: result.ConfirmToken,
	}, orchestrators.ConfirmationEmailDeps{
		Sender:      cfg.Sender,
		FromAddress: cfg.FromAddress,
		ReplyTo:     cfg.ReplyTo,
		BaseURL:     cfg.BaseURL,
	}); err != nil {
		slog.Warn("confirmation_email_error", "error", err.Error())
	}

	message := "subscribed, check your inbox to confirm"
	if result.Resubscribed {
		message = "welcome back, check your inbox to confirm"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":           message,
		"alreadyHadAccount": result.Resubscribed,
	})
}

func handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := strictDecode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	err := orchestrators.ExecuteUnsubscribe(r.Context(), orchestrators.UnsubscribeInput{Email: req.Email},
		orchestrators.UnsubscribeDeps{Subscribers: stores.SubscriberStore, Now: timeNow})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "unsubscribed"})
}

func handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := strictDecode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	confirmWithToken(w, r, req.Token)
}

// handleConfirmLink serves the link embedded in the confirmation email.
func handleConfirmLink(w http.ResponseWriter, r *http.Request) {
	confirmWithToken(w, r, r.URL.Query().Get("token"))
}

func confirmWithToken(w http.ResponseWriter, r *http.Request, token string) {
	err := orchestrators.ExecuteConfirm(r.Context(), orchestrators.ConfirmInput{Token: token},
		orchestrators.ConfirmDeps{Subscribers: stores.SubscriberStore, Now: timeNow})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "subscription confirmed"})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := projections.QueryGetSubscriberStatus(r.Context(),
		projections.GetSubscriberStatusQuery{Email: r.URL.Query().Get("email")},
		projections.GetSubscriberStatusDeps{Subscribers: stores.SubscriberStore})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// checkAdminKey verifies the X-Admin-Key header against the configured bcrypt
// hash. An unset hash disables the admin surface entirely.
func checkAdminKey(w http.ResponseWriter, r *http.Request) bool {
	if cfg.AdminKeyHash == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "dispatch is not configured"})
		return false
	}
	key := r.Header.Get("X-Admin-Key")
	if key == "" || bcrypt.CompareHashAndPassword([]byte(cfg.AdminKeyHash), []byte(key)) != nil {
		slog.Warn("admin_key_rejected", "path", r.URL.Path, "ip", remoteIP(r))
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return false
	}
	return true
}

func dispatchDeps() orchestrators.DispatchDeps {
	return orchestrators.DispatchDeps{
		Subscribers:    stores.SubscriberStore,
		Ledger:         stores.LedgerStore,
		Runs:           stores.DispatchStore,
		Content:        cfg.Content,
		Sender:         cfg.Sender,
		FromAddress:    cfg.FromAddress,
		ReplyTo:        cfg.ReplyTo,
		UnsubscribeURL: cfg.UnsubscribeURL,
		Workers:        cfg.Workers,
		GenerateID:     generateID,
		Now:            timeNow,
	}
}

func handleDispatch(w http.ResponseWriter, r *http.Request) {
	if !checkAdminKey(w, r) {
		return
	}
	var req struct {
		Issue       int64  `json:"issue"`
		DryRun      bool   `json:"dryRun"`
		Limit       int    `json:"limit"`
		ResumeRunID string `json:"resumeRunId"`
	}
	if err := strictDecode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	report, err := orchestrators.ExecuteDispatchIssue(r.Context(), orchestrators.DispatchInput{
		IssueNumber:    req.Issue,
		DryRun:         req.DryRun,
		RecipientLimit: req.Limit,
		ResumeRunID:    req.ResumeRunID,
	}, dispatchDeps())
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func handleDispatchReport(w http.ResponseWriter, r *http.Request) {
	if !checkAdminKey(w, r) {
		return
	}
	result, err := projections.QueryGetDispatchReport(r.Context(),
		projections.GetDispatchReportQuery{RunID: r.URL.Query().Get("runId")},
		projections.GetDispatchReportDeps{Runs: stores.DispatchStore, Ledger: stores.LedgerStore, Now: timeNow})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
