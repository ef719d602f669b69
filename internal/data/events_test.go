package data_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
)

func newEventModel(t *testing.T) (data.EventModel, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return data.EventModel{DB: db}, mock
}

func TestEventInsert(t *testing.T) {
	m, mock := newEventModel(t)

	e := &data.Event{
		ID:         uuid.New(),
		CameraID:   uuid.New(),
		AccountID:  uuid.New(),
		CreatedAt:  time.Now().UTC(),
		MediaPaths: []string{"events/x/0.jpg"},
		Notes:      "Motion detected",
		CallLogs:   []data.CallLog{},
		Status:     data.StatusNew,
		PlanState:  map[string]string{},
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs(e.ID, e.CameraID, e.AccountID, e.CreatedAt, sqlmock.AnyArg(),
			e.Notes, sqlmock.AnyArg(), e.Status, "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Insert(context.Background(), e); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEventGetByID(t *testing.T) {
	m, mock := newEventModel(t)
	id := uuid.New()
	cameraID := uuid.New()
	accountID := uuid.New()
	created := time.Now().UTC().Truncate(time.Second)

	rows := sqlmock.NewRows([]string{
		"id", "camera_id", "account_id", "created_at", "media_paths",
		"notes", "call_logs", "status", "resolution", "escalation_reason", "plan_state",
	}).AddRow(
		id.String(), cameraID.String(), accountID.String(), created,
		"{events/"+id.String()+"/0.jpg,events/"+id.String()+"/1.jpg}",
		"Motion detected",
		[]byte(`[{"contact":"Site manager","phone":"+1-555-0100","outcome":"no answer","note":"","logged_at":"2026-08-25T10:00:00Z"}]`),
		"acknowledged", "", "",
		[]byte(`{"s1":"done"}`),
	)

	mock.ExpectQuery("SELECT (.+) FROM events").WithArgs(id).WillReturnRows(rows)

	e, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if e.ID != id || e.CameraID != cameraID || e.AccountID != accountID {
		t.Error("identity columns mismatched")
	}
	if len(e.MediaPaths) != 2 {
		t.Errorf("expected 2 media paths, got %v", e.MediaPaths)
	}
	if e.Status != data.StatusAcknowledged {
		t.Errorf("unexpected status %s", e.Status)
	}
	if len(e.CallLogs) != 1 || e.CallLogs[0].Contact != "Site manager" {
		t.Errorf("call logs not decoded: %+v", e.CallLogs)
	}
	if e.PlanState["s1"] != "done" {
		t.Errorf("plan state not decoded: %v", e.PlanState)
	}
}

func TestEventGetByID_NullPlanState(t *testing.T) {
	m, mock := newEventModel(t)
	id := uuid.New()

	rows := sqlmock.NewRows([]string{
		"id", "camera_id", "account_id", "created_at", "media_paths",
		"notes", "call_logs", "status", "resolution", "escalation_reason", "plan_state",
	}).AddRow(
		id.String(), uuid.New().String(), uuid.New().String(), time.Now(),
		"{}", "", nil, "new", "", "", nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM events").WithArgs(id).WillReturnRows(rows)

	e, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if e.PlanState == nil {
		t.Error("plan state must never be nil")
	}
}

func TestEventGetByID_NotFound(t *testing.T) {
	m, mock := newEventModel(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM events").WithArgs(id).WillReturnError(sql.ErrNoRows)

	if _, err := m.GetByID(context.Background(), id); !errors.Is(err, data.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestEventSetStatus_Resolved(t *testing.T) {
	m, mock := newEventModel(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE events SET status = (.+), resolution = (.+)").
		WithArgs(data.StatusResolved, id, "false alarm").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.SetStatus(context.Background(), id, data.StatusResolved, "false alarm"); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEventSetStatus_PlainTransition(t *testing.T) {
	m, mock := newEventModel(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE events SET status = (.+) WHERE").
		WithArgs(data.StatusAcknowledged, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.SetStatus(context.Background(), id, data.StatusAcknowledged, ""); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
}

func TestEventSetStatus_NotFound(t *testing.T) {
	m, mock := newEventModel(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE events SET status").
		WithArgs(data.StatusAcknowledged, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := m.SetStatus(context.Background(), id, data.StatusAcknowledged, ""); !errors.Is(err, data.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestEventSavePlanState_NotFound(t *testing.T) {
	m, mock := newEventModel(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE events SET plan_state").
		WithArgs(sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.SavePlanState(context.Background(), id, map[string]string{"s1": "done"})
	if !errors.Is(err, data.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestEventListByAccount(t *testing.T) {
	m, mock := newEventModel(t)
	accountID := uuid.New()

	rows := sqlmock.NewRows([]string{
		"id", "camera_id", "account_id", "created_at", "media_paths",
		"notes", "call_logs", "status", "resolution", "escalation_reason", "plan_state",
	}).
		AddRow(uuid.New().String(), uuid.New().String(), accountID.String(), time.Now(), "{}", "second", nil, "new", "", "", nil).
		AddRow(uuid.New().String(), uuid.New().String(), accountID.String(), time.Now().Add(-time.Hour), "{}", "first", nil, "resolved", "handled", "", nil)

	mock.ExpectQuery("SELECT (.+) FROM events").
		WithArgs(accountID, 10).
		WillReturnRows(rows)

	events, err := m.ListByAccount(context.Background(), accountID, 10)
	if err != nil {
		t.Fatalf("ListByAccount failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Notes != "second" || events[1].Notes != "first" {
		t.Error("rows out of order")
	}
}
