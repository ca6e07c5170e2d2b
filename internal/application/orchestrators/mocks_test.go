package orchestrators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hartwig/internal/adapters/email"
	dispatchStore "hartwig/internal/adapters/storage/dispatch"
	ledgerStore "hartwig/internal/adapters/storage/ledger"
	subscriberStore "hartwig/internal/adapters/storage/subscriber"
	dispatchDomain "hartwig/internal/domain/dispatch"
	issueDomain "hartwig/internal/domain/issue"
	ledgerDomain "hartwig/internal/domain/ledger"
	subscriberDomain "hartwig/internal/domain/subscriber"
)

// --- Mock subscriber store ---
//
// Implements the store's conditional-update semantics in memory so the
// orchestrators' race-handling paths can be exercised without a database.

type mockSubscriberStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]subscriberDomain.Subscriber
}

func newMockSubscriberStore() *mockSubscriberStore {
	return &mockSubscriberStore{byID: make(map[int64]subscriberDomain.Subscriber)}
}

func (m *mockSubscriberStore) add(s subscriberDomain.Subscriber) subscriberDomain.Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	m.byID[s.ID] = s
	return s
}

func (m *mockSubscriberStore) GetByEmail(_ context.Context, email string) (subscriberDomain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.Email == email {
			return s, nil
		}
	}
	return subscriberDomain.Subscriber{}, subscriberStore.ErrNotFound
}

func (m *mockSubscriberStore) GetByID(_ context.Context, id int64) (subscriberDomain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return subscriberDomain.Subscriber{}, subscriberStore.ErrNotFound
	}
	return s, nil
}

func (m *mockSubscriberStore) Insert(_ context.Context, s subscriberDomain.Subscriber) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == s.Email {
			return 0, subscriberStore.ErrDuplicateEmail
		}
	}
	m.nextID++
	s.ID = m.nextID
	m.byID[s.ID] = s
	return s.ID, nil
}

func (m *mockSubscriberStore) Reactivate(_ context.Context, email, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if s.Email == email && !s.UnsubscribedAt.IsZero() {
			s.UnsubscribedAt = time.Time{}
			s.ConfirmedAt = time.Time{}
			s.SubscribedAt = now
			s.ConfirmToken = token
			s.IssuesReceivedCount = 0
			m.byID[id] = s
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSubscriberStore) Deactivate(_ context.Context, email string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if s.Email == email && s.UnsubscribedAt.IsZero() {
			s.UnsubscribedAt = now
			m.byID[id] = s
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSubscriberStore) ConfirmByToken(_ context.Context, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if s.ConfirmToken == token && token != "" && s.ConfirmedAt.IsZero() {
			s.ConfirmedAt = now
			s.ConfirmToken = ""
			m.byID[id] = s
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSubscriberStore) ListEligible(_ context.Context, issueNumber int64, limit int) ([]subscriberDomain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []subscriberDomain.Subscriber
	for id := int64(1); id <= m.nextID; id++ {
		s, ok := m.byID[id]
		if !ok {
			continue
		}
		if s.EligibleFor(issueNumber) {
			out = append(out, s)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockSubscriberStore) AdvanceHighWater(_ context.Context, id, issueNumber int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	if s.LatestIssueSent >= issueNumber {
		return false, nil
	}
	s.LatestIssueSent = issueNumber
	s.IssuesReceivedCount++
	m.byID[id] = s
	return true, nil
}

// --- Mock ledger store ---

type mockLedgerStore struct {
	mu       sync.Mutex
	attempts map[string]ledgerDomain.Attempt
}

func newMockLedgerStore() *mockLedgerStore {
	return &mockLedgerStore{attempts: make(map[string]ledgerDomain.Attempt)}
}

func ledgerKey(subscriberID, issueNumber int64) string {
	return fmt.Sprintf("%d/%d", subscriberID, issueNumber)
}

func (m *mockLedgerStore) Get(_ context.Context, subscriberID, issueNumber int64) (ledgerDomain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[ledgerKey(subscriberID, issueNumber)]
	if !ok {
		return ledgerDomain.Attempt{}, ledgerStore.ErrNotFound
	}
	return a, nil
}

func (m *mockLedgerStore) Upsert(_ context.Context, a ledgerDomain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[ledgerKey(a.SubscriberID, a.IssueNumber)] = a
	return nil
}

func (m *mockLedgerStore) ListByIssue(_ context.Context, issueNumber int64) ([]ledgerDomain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledgerDomain.Attempt
	for _, a := range m.attempts {
		if a.IssueNumber == issueNumber {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- Mock run store ---

type mockRunStore struct {
	mu    sync.Mutex
	runs  map[string]dispatchDomain.Run
	steps map[string]dispatchDomain.StepOutcome
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{
		runs:  make(map[string]dispatchDomain.Run),
		steps: make(map[string]dispatchDomain.StepOutcome),
	}
}

func stepKey(runID, step string, recipientID int64) string {
	return fmt.Sprintf("%s/%s/%d", runID, step, recipientID)
}

func (m *mockRunStore) CreateRun(_ context.Context, r dispatchDomain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *mockRunStore) GetRun(_ context.Context, id string) (dispatchDomain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return dispatchDomain.Run{}, dispatchStore.ErrRunNotFound
	}
	return r, nil
}

func (m *mockRunStore) FinishRun(_ context.Context, id, status string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return dispatchStore.ErrRunNotFound
	}
	r.Status = status
	r.FinishedAt = finishedAt
	m.runs[id] = r
	return nil
}

func (m *mockRunStore) ListUnfinished(_ context.Context, limit int) ([]dispatchDomain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []dispatchDomain.Run
	for _, r := range m.runs {
		if r.Status == dispatchDomain.RunStatusRunning {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockRunStore) GetStep(_ context.Context, runID, step string, recipientID int64) (dispatchDomain.StepOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.steps[stepKey(runID, step, recipientID)]
	if !ok {
		return dispatchDomain.StepOutcome{}, dispatchStore.ErrStepNotFound
	}
	return o, nil
}

func (m *mockRunStore) PutStep(_ context.Context, o dispatchDomain.StepOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stepKey(o.RunID, o.Step, o.RecipientID)
	if _, exists := m.steps[key]; exists {
		return nil // keep the first recorded outcome
	}
	m.steps[key] = o
	return nil
}

func (m *mockRunStore) ListSteps(_ context.Context, runID, step string) ([]dispatchDomain.StepOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []dispatchDomain.StepOutcome
	for _, o := range m.steps {
		if o.RunID == runID && o.Step == step {
			out = append(out, o)
		}
	}
	return out, nil
}

// --- Mock sender ---

type mockSender struct {
	mu       sync.Mutex
	sent     []email.SendRequest
	failFor  map[string]error // recipient address -> error to return
	provider map[string]bool  // recipient+tag keys the provider claims delivered
	nextID   int
}

func newMockSender() *mockSender {
	return &mockSender{
		failFor:  make(map[string]error),
		provider: make(map[string]bool),
	}
}

func (m *mockSender) Send(_ context.Context, req email.SendRequest) (email.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(req.To) == 1 {
		if err, ok := m.failFor[req.To[0]]; ok {
			return email.SendResult{}, err
		}
	}
	m.sent = append(m.sent, req)
	m.nextID++
	return email.SendResult{MessageID: fmt.Sprintf("msg-%d", m.nextID), SentAt: time.Now()}, nil
}

func (m *mockSender) WasAlreadySent(_ context.Context, recipient, dedupeTag string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider[recipient+"/"+dedupeTag], nil
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockSender) sentTo(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.sent {
		for _, to := range req.To {
			if to == address {
				n++
			}
		}
	}
	return n
}

// --- Mock content lookup ---

type mockLookup struct {
	html      string
	meta      issueDomain.Issue
	htmlErr   error
	metaErr   error
	htmlCalls int
}

func (m *mockLookup) HTML(_ context.Context, _ int64) (string, error) {
	m.htmlCalls++
	if m.htmlErr != nil {
		return "", m.htmlErr
	}
	return m.html, nil
}

func (m *mockLookup) Metadata(_ context.Context, _ int64) (issueDomain.Issue, error) {
	if m.metaErr != nil {
		return issueDomain.Issue{}, m.metaErr
	}
	return m.meta, nil
}
