package audit_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/audit"
)

// 1. Audit Write Success
func TestWriteEvent_Success(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	s := audit.NewService(db)

	evt := audit.AuditEvent{EventID: uuid.New(), Action: "test.action", AccountID: uuid.New(), CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.WriteEvent(context.Background(), evt); err != nil {
		t.Errorf("WriteEvent failed: %v", err)
	}
}

// 2. Audit DB Fail -> Spool
func TestWriteEvent_Failover(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	tempDir, _ := os.MkdirTemp("", "audit_test")
	defer os.RemoveAll(tempDir)
	audit.ConfigureFailover(tempDir, 100)

	s := audit.NewService(db)
	evt := audit.AuditEvent{EventID: uuid.New(), Action: "fail.action", AccountID: uuid.New(), CreatedAt: time.Now()}

	// DB Error
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(sql.ErrConnDone)

	// Should NOT return error, but spool
	if err := s.WriteEvent(context.Background(), evt); err != nil {
		t.Errorf("WriteEvent failed on failover: %v", err)
	}

	// Verify File Exists
	files, _ := os.ReadDir(tempDir)
	if len(files) == 0 {
		t.Error("No spool file created")
	}
}

// 3. Replay Logic (Idempotency)
func TestReplay_Idempotency(t *testing.T) {
	tempDir, _ := os.MkdirTemp("", "replay_test")
	defer os.RemoveAll(tempDir)
	audit.ConfigureFailover(tempDir, 100)

	evt := audit.AuditEvent{EventID: uuid.New(), Action: "replay.action", AccountID: uuid.New()}
	audit.SpoolEvent(evt)

	db, mock, _ := sqlmock.New()
	defer db.Close()
	s := audit.NewService(db)

	// Expect Exec for Replay
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	s.ReplaySpool(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Replay didn't call DB: %s", err)
	}
}

// 4. Record is fire-and-forget even when both DB and spool fail
func TestRecord_NeverBlocks(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	tempDir, _ := os.MkdirTemp("", "record_test")
	defer os.RemoveAll(tempDir)
	audit.ConfigureFailover(tempDir, 100)

	s := audit.NewService(db)
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	// Must not panic or return anything.
	s.Record(context.Background(), uuid.New(), "event.acknowledge", uuid.New().String(), "success")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Record didn't write: %s", err)
	}
}

// 5. Retention Policy Guard
func TestRetentionGuard(t *testing.T) {
	if err := audit.CheckRetentionPolicy(1); err == nil {
		t.Error("Allowed 1 year retention (Unsafe)")
	}
	if err := audit.CheckRetentionPolicy(7); err != nil {
		t.Error("Blocked 7 year retention (Safe)")
	}

	safeDate := audit.SafePurgeCutoff()
	if !safeDate.Before(time.Now()) {
		t.Error("Safe date invalid")
	}
	if audit.CanPurge(time.Now().AddDate(-1, 0, 0)) {
		t.Error("Year-old record must not be purgeable")
	}
	if !audit.CanPurge(time.Now().AddDate(-8, 0, 0)) {
		t.Error("Eight-year-old record must be purgeable")
	}
}

// 5b. Purge refuses a cutoff inside the retention window without
// touching the DB.
func TestPurgeExpired_YoungCutoffRefused(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	s := audit.NewService(db)

	if _, err := s.PurgeExpired(context.Background(), time.Now().AddDate(-1, 0, 0)); err == nil {
		t.Error("Cutoff inside the retention window must be refused")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Refused purge must not reach the DB: %s", err)
	}
}

// 5c. Purge deletes rows once the cutoff clears the window.
func TestPurgeExpired_OldCutoffDeletes(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	s := audit.NewService(db)

	mock.ExpectExec("DELETE FROM audit_logs").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PurgeExpired(context.Background(), time.Now().AddDate(-8, 0, 0))
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows purged, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("DELETE not issued: %s", err)
	}
}

// 5d. Sweep refuses to start below the compliance floor.
func TestStartRetentionSweep_FloorEnforced(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()
	s := audit.NewService(db)

	if err := s.StartRetentionSweep(context.Background(), 2); err == nil {
		t.Error("Sweep below the retention floor must refuse to start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.StartRetentionSweep(ctx, audit.MinRetentionYears); err != nil {
		t.Errorf("Sweep at the floor should start: %v", err)
	}
}

// 6. Test Write Event generates UUID
func TestWriteEvent_GeneratesUUID(t *testing.T) {
	db, mock, _ := sqlmock.New()
	s := audit.NewService(db)
	// Event with NIL ID
	evt := audit.AuditEvent{EventID: uuid.Nil, AccountID: uuid.New()}

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.WriteEvent(context.Background(), evt); err != nil {
		t.Errorf("WriteEvent failed: %v", err)
	}
}

// 7. Test Failover Config
func TestFailover_Config(t *testing.T) {
	tmp := os.TempDir()
	audit.ConfigureFailover(tmp, 500)
	if audit.SpoolDir != tmp {
		t.Error("Config failed")
	}
}
