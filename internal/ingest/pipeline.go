package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/hub"
	"github.com/technosupport/ts-monitor/internal/media"
	"github.com/technosupport/ts-monitor/internal/metrics"
	"github.com/technosupport/ts-monitor/internal/workflow"
)

type EventStore interface {
	Insert(ctx context.Context, e *data.Event) error
}

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Account, error)
}

type ActivityStore interface {
	InsertSuppressed(ctx context.Context, s *data.SuppressedEvent) error
}

type Broadcaster interface {
	Publish(accountID uuid.UUID, kind string, payload any)
}

// Pipeline turns an accepted alarm mail into a durable Event record:
// snooze check, attachment persistence in arrival order, insert,
// workflow binding, broadcast. Broadcast is fire-and-forget; nothing
// downstream can stall or fail ingestion once the Event is persisted.
type Pipeline struct {
	events   EventStore
	accounts AccountStore
	activity ActivityStore
	store    *media.Store
	engine   *workflow.Engine
	hub      Broadcaster
}

func NewPipeline(events EventStore, accounts AccountStore, activity ActivityStore, store *media.Store, engine *workflow.Engine, b Broadcaster) *Pipeline {
	return &Pipeline{
		events:   events,
		accounts: accounts,
		activity: activity,
		store:    store,
		engine:   engine,
		hub:      b,
	}
}

// HandleMessage processes one accepted alarm mail for its camera.
func (p *Pipeline) HandleMessage(ctx context.Context, camera *data.Camera, msg *ParsedMessage) error {
	now := time.Now().UTC()

	account, err := p.accounts.GetByID(ctx, camera.AccountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", camera.AccountID, err)
	}

	if reason := snoozeReason(camera, account, now); reason != "" {
		metrics.EventsSuppressedTotal.Inc()
		log.Printf("[Ingest] Alarm from camera %s suppressed (%s)", camera.ID, reason)
		if err := p.activity.InsertSuppressed(ctx, &data.SuppressedEvent{
			CameraID:   camera.ID,
			AccountID:  camera.AccountID,
			Reason:     reason,
			OccurredAt: now,
		}); err != nil {
			log.Printf("[Ingest] Failed to record suppressed alarm for camera %s: %v", camera.ID, err)
		}
		return nil
	}

	eventID := uuid.New()

	// Attachments are stored in arrival order. An oversized or broken
	// part is skipped individually; the alarm is still recorded.
	var mediaPaths []string
	for i, att := range msg.Attachments {
		path, err := p.store.SaveAttachment(eventID.String(), i, att.Filename, bytes.NewReader(att.Content))
		if err != nil {
			if errors.Is(err, media.ErrAttachmentTooLarge) {
				log.Printf("[Ingest] Skipping oversized attachment %d (%s) for camera %s", i, att.Filename, camera.ID)
			} else {
				log.Printf("[Ingest] Failed to store attachment %d for camera %s: %v", i, camera.ID, err)
			}
			continue
		}
		mediaPaths = append(mediaPaths, path)
	}

	e := &data.Event{
		ID:         eventID,
		CameraID:   camera.ID,
		AccountID:  camera.AccountID,
		CreatedAt:  now,
		MediaPaths: mediaPaths,
		Notes:      msg.Subject,
		CallLogs:   []data.CallLog{},
		Status:     data.StatusNew,
		PlanState:  map[string]string{},
	}

	// A broken plan template must not lose the alarm; the event is
	// recorded with an empty plan and operators see the raw event.
	if err := p.engine.Initialize(ctx, e); err != nil {
		log.Printf("[Ingest] Action plan init failed for account %s: %v", camera.AccountID, err)
	}

	if err := p.events.Insert(ctx, e); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	metrics.EventsIngestedTotal.Inc()
	log.Printf("[Ingest] Event %s created for camera %s (%d attachments)", e.ID, camera.ID, len(mediaPaths))

	p.hub.Publish(e.AccountID, hub.KindEventCreated, e)
	return nil
}

func snoozeReason(camera *data.Camera, account *data.Account, now time.Time) string {
	if camera.SnoozedUntil != nil && camera.SnoozedUntil.After(now) {
		return "camera snoozed"
	}
	if account.SnoozedUntil != nil && account.SnoozedUntil.After(now) {
		return "account snoozed"
	}
	return ""
}
