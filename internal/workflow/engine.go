package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/hub"
	"github.com/technosupport/ts-monitor/internal/metrics"
)

var (
	// ErrWebhookFailed means the actuator endpoint did not return 2xx.
	// The step stays unset; the operator retriggers manually if needed.
	ErrWebhookFailed = errors.New("webhook call failed")

	ErrInvalidAnswer = errors.New("answer must be yes or no")
)

type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Event, error)
	SetStatus(ctx context.Context, id uuid.UUID, status data.EventStatus, reason string) error
	SavePlanState(ctx context.Context, id uuid.UUID, state map[string]string) error
	SaveCallLogs(ctx context.Context, id uuid.UUID, logs []data.CallLog) error
}

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Account, error)
}

type Broadcaster interface {
	Publish(accountID uuid.UUID, kind string, payload any)
}

// Auditor records operator mutations. Implementations must not block
// the workflow path; failures are their problem to spool.
type Auditor interface {
	Record(ctx context.Context, accountID uuid.UUID, action, targetID, result string)
}

// Broadcast payloads.

type PlanDelta struct {
	EventID   string            `json:"event_id"`
	StepID    string            `json:"step_id"`
	Value     string            `json:"value"` // "" means unset
	PlanState map[string]string `json:"plan_state"`
}

type StatusChange struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type CallLogged struct {
	EventID string       `json:"event_id"`
	Entry   data.CallLog `json:"entry"`
}

// Engine executes operator actions against an event's action plan and
// escalation state. A per-event mutex serializes concurrent operators;
// the last accepted write wins and every accepted write is broadcast.
type Engine struct {
	events   EventStore
	accounts AccountStore
	hub      Broadcaster
	audit    Auditor
	client   *http.Client

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewEngine(events EventStore, accounts AccountStore, b Broadcaster, audit Auditor, webhookTimeout time.Duration) *Engine {
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	return &Engine{
		events:   events,
		accounts: accounts,
		hub:      b,
		audit:    audit,
		client:   &http.Client{Timeout: webhookTimeout},
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (en *Engine) lock(eventID uuid.UUID) *sync.Mutex {
	en.mu.Lock()
	defer en.mu.Unlock()
	m, ok := en.locks[eventID]
	if !ok {
		m = &sync.Mutex{}
		en.locks[eventID] = m
	}
	return m
}

// evictLock drops a resolved event's mutex so the map does not grow
// with the event table. A straggler that re-creates the entry still
// hits the terminal-state check and gets ErrStaleState.
func (en *Engine) evictLock(eventID uuid.UUID) {
	en.mu.Lock()
	delete(en.locks, eventID)
	en.mu.Unlock()
}

// Initialize binds an empty plan state to a fresh event after
// validating the account's template. Called once at ingestion.
func (en *Engine) Initialize(ctx context.Context, e *data.Event) error {
	account, err := en.accounts.GetByID(ctx, e.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if _, err := ParseTemplate(account.ActionPlan); err != nil {
		return err
	}
	if e.PlanState == nil {
		e.PlanState = map[string]string{}
	}
	return nil
}

func (en *Engine) loadEventAndPlan(ctx context.Context, eventID uuid.UUID) (*data.Event, *Plan, error) {
	e, err := en.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	account, err := en.accounts.GetByID(ctx, e.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("load account: %w", err)
	}
	plan, err := ParseTemplate(account.ActionPlan)
	if err != nil {
		return nil, nil, err
	}
	return e, plan, nil
}

// ApplyAnswer records yes/no on a boolean question. Switching the
// answer deactivates the other branch but keeps its recorded values.
func (en *Engine) ApplyAnswer(ctx context.Context, eventID uuid.UUID, stepID, answer string) (*data.Event, error) {
	if answer != AnswerYes && answer != AnswerNo {
		return nil, ErrInvalidAnswer
	}

	l := en.lock(eventID)
	l.Lock()
	defer l.Unlock()

	e, plan, err := en.loadEventAndPlan(ctx, eventID)
	if err != nil {
		return nil, err
	}

	step := plan.Find(stepID)
	if step == nil || step.Kind != KindBoolean || !plan.IsActive(stepID, e.PlanState) {
		return nil, ErrInvalidStep
	}

	e.PlanState[stepID] = answer
	if err := en.events.SavePlanState(ctx, eventID, e.PlanState); err != nil {
		return nil, err
	}

	en.broadcastPlan(e, stepID, answer)
	en.audit.Record(ctx, e.AccountID, "plan.answer", eventID.String(), "success")
	return e, nil
}

// ToggleStep flips done/unset on a checklist or tool-trigger step.
// Boolean questions take answers, webhooks take triggers; both reject.
func (en *Engine) ToggleStep(ctx context.Context, eventID uuid.UUID, stepID string) (*data.Event, error) {
	l := en.lock(eventID)
	l.Lock()
	defer l.Unlock()

	e, plan, err := en.loadEventAndPlan(ctx, eventID)
	if err != nil {
		return nil, err
	}

	step := plan.Find(stepID)
	if step == nil || !plan.IsActive(stepID, e.PlanState) {
		return nil, ErrInvalidStep
	}
	if step.Kind != KindChecklist && step.Kind != KindTool {
		return nil, ErrInvalidStep
	}

	var value string
	if e.PlanState[stepID] == ValueDone {
		delete(e.PlanState, stepID)
	} else {
		e.PlanState[stepID] = ValueDone
		value = ValueDone
	}

	if err := en.events.SavePlanState(ctx, eventID, e.PlanState); err != nil {
		return nil, err
	}

	en.broadcastPlan(e, stepID, value)
	en.audit.Record(ctx, e.AccountID, "plan.toggle", eventID.String(), "success")
	return e, nil
}

// TriggerWebhook fires a webhook step's actuator. Exactly one POST per
// trigger; a non-2xx response leaves the step unset and is never
// retried automatically.
func (en *Engine) TriggerWebhook(ctx context.Context, eventID uuid.UUID, stepID string) (*data.Event, error) {
	l := en.lock(eventID)
	l.Lock()
	defer l.Unlock()

	e, plan, err := en.loadEventAndPlan(ctx, eventID)
	if err != nil {
		return nil, err
	}

	step := plan.Find(stepID)
	if step == nil || step.Kind != KindWebhook || !plan.IsActive(stepID, e.PlanState) {
		return nil, ErrInvalidStep
	}

	if err := en.postWebhook(ctx, step.URL, e.ID, stepID); err != nil {
		metrics.RecordWebhookCall(false)
		en.audit.Record(ctx, e.AccountID, "plan.webhook", eventID.String(), "failure")
		return nil, err
	}
	metrics.RecordWebhookCall(true)

	e.PlanState[stepID] = ValueDone
	if err := en.events.SavePlanState(ctx, eventID, e.PlanState); err != nil {
		return nil, err
	}

	en.broadcastPlan(e, stepID, ValueDone)
	en.audit.Record(ctx, e.AccountID, "plan.webhook", eventID.String(), "success")
	return e, nil
}

func (en *Engine) postWebhook(ctx context.Context, url string, eventID uuid.UUID, stepID string) error {
	body, _ := json.Marshal(map[string]string{
		"event_id": eventID.String(),
		"step_id":  stepID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := en.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrWebhookFailed, resp.StatusCode)
	}
	return nil
}

// TransitionEvent applies an escalation-state action.
func (en *Engine) TransitionEvent(ctx context.Context, eventID uuid.UUID, action Action, reason string) (*data.Event, error) {
	l := en.lock(eventID)
	l.Lock()
	defer l.Unlock()

	e, err := en.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	next, err := Transition(e.Status, action, reason)
	if err != nil {
		if e.Status == data.StatusResolved {
			// A straggler landed after resolution; drop the entry its
			// lookup just re-created.
			en.evictLock(eventID)
		}
		return nil, err
	}

	if err := en.events.SetStatus(ctx, eventID, next, reason); err != nil {
		return nil, err
	}

	e.Status = next
	switch next {
	case data.StatusResolved:
		e.Resolution = reason
		en.evictLock(eventID)
	case data.StatusEscalated:
		e.EscalationReason = reason
	}

	en.hub.Publish(e.AccountID, hub.KindStatusChanged, StatusChange{
		EventID: e.ID.String(),
		Status:  string(next),
		Reason:  reason,
	})
	en.audit.Record(ctx, e.AccountID, "event."+string(action), eventID.String(), "success")
	return e, nil
}

// AppendCallLog records an operator phone call against the event.
func (en *Engine) AppendCallLog(ctx context.Context, eventID uuid.UUID, entry data.CallLog) (*data.Event, error) {
	l := en.lock(eventID)
	l.Lock()
	defer l.Unlock()

	e, err := en.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}
	e.CallLogs = append(e.CallLogs, entry)

	if err := en.events.SaveCallLogs(ctx, eventID, e.CallLogs); err != nil {
		return nil, err
	}

	en.hub.Publish(e.AccountID, hub.KindCallLogged, CallLogged{
		EventID: e.ID.String(),
		Entry:   entry,
	})
	en.audit.Record(ctx, e.AccountID, "event.call_log", eventID.String(), "success")
	return e, nil
}

func (en *Engine) broadcastPlan(e *data.Event, stepID, value string) {
	en.hub.Publish(e.AccountID, hub.KindPlanUpdated, PlanDelta{
		EventID:   e.ID.String(),
		StepID:    stepID,
		Value:     value,
		PlanState: e.PlanState,
	})
}

// NopAuditor is used where the audit trail is not wired (tests).
type NopAuditor struct{}

func (NopAuditor) Record(ctx context.Context, accountID uuid.UUID, action, targetID, result string) {
}

var _ Auditor = NopAuditor{}
