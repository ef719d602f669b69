package stream_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/media"
	"github.com/technosupport/ts-monitor/internal/stream"
)

// fakeProc is a controllable transcoder child.
type fakeProc struct {
	exit chan error
	done sync.Once
}

func newFakeProc() *fakeProc {
	return &fakeProc{exit: make(chan error, 1)}
}

func (p *fakeProc) Wait() error { return <-p.exit }

func (p *fakeProc) Kill() error {
	p.finish(errors.New("killed"))
	return nil
}

func (p *fakeProc) finish(err error) {
	p.done.Do(func() { p.exit <- err })
}

// fakeRunner spawns fakeProcs and drops a manifest into the output dir
// so session startup completes immediately.
type fakeRunner struct {
	mu       sync.Mutex
	procs    []*fakeProc
	startErr error
}

func (r *fakeRunner) Start(ctx context.Context, cameraID, sourceURL, outDir string) (stream.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	if err := os.WriteFile(filepath.Join(outDir, "manifest.m3u8"), []byte("#EXTM3U\n"), 0640); err != nil {
		return nil, err
	}
	p := newFakeProc()
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

func (r *fakeRunner) latest() *fakeProc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.procs) == 0 {
		return nil
	}
	return r.procs[len(r.procs)-1]
}

type noticeHub struct {
	notices chan any
}

func newNoticeHub() *noticeHub {
	return &noticeHub{notices: make(chan any, 16)}
}

func (h *noticeHub) Publish(accountID uuid.UUID, kind string, payload any) {
	h.notices <- payload
}

func testCamera() *data.Camera {
	return &data.Camera{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Name:      "gate-cam",
		SourceURL: "rtsp://192.168.1.50/stream1",
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSupervisor(t *testing.T, runner stream.Runner, cfg stream.Config) (*stream.Supervisor, *noticeHub, *media.Store) {
	t.Helper()
	store := media.NewStore(t.TempDir(), 1<<20)
	h := newNoticeHub()
	return stream.NewSupervisor(runner, store, h, cfg), h, store
}

func TestAcquire_NoSource(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, &fakeRunner{}, stream.Config{})

	cam := testCamera()
	cam.SourceURL = ""
	if _, err := sup.Acquire(context.Background(), cam); !errors.Is(err, stream.ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestAcquire_SingleSessionPerCamera(t *testing.T) {
	runner := &fakeRunner{}
	sup, _, _ := newTestSupervisor(t, runner, stream.Config{
		StartTimeout:  time.Second,
		HealthTimeout: time.Minute,
		IdleGrace:     time.Minute,
	})
	cam := testCamera()
	ctx := context.Background()

	h1, err := sup.Acquire(ctx, cam)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	h2, err := sup.Acquire(ctx, cam)
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	if runner.starts() != 1 {
		t.Errorf("expected one transcoder, got %d", runner.starts())
	}
	st := sup.Status(cam.ID)
	if st.State != stream.StateRunning || st.Viewers != 2 {
		t.Errorf("unexpected status: %+v", st)
	}

	h1.Release()
	h1.Release() // idempotent
	st = sup.Status(cam.ID)
	if st.Viewers != 1 || st.State != stream.StateRunning {
		t.Errorf("session should survive while a viewer remains: %+v", st)
	}

	h2.Release()
	sup.Shutdown()
}

func TestRelease_IdleGraceTeardown(t *testing.T) {
	runner := &fakeRunner{}
	sup, _, store := newTestSupervisor(t, runner, stream.Config{
		StartTimeout:  time.Second,
		HealthTimeout: time.Minute,
		IdleGrace:     30 * time.Millisecond,
	})
	cam := testCamera()

	h, err := sup.Acquire(context.Background(), cam)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	h.Release()

	waitFor(t, 2*time.Second, "idle teardown", func() bool {
		return sup.Status(cam.ID).State == stream.StateStopped
	})
	waitFor(t, 2*time.Second, "live dir cleanup", func() bool {
		_, err := os.Stat(store.ManifestPath(cam.ID.String()))
		return os.IsNotExist(err)
	})
	if runner.starts() != 1 {
		t.Errorf("teardown should not restart, got %d starts", runner.starts())
	}
}

func TestRelease_ReacquireWithinGraceKeepsSession(t *testing.T) {
	runner := &fakeRunner{}
	sup, _, _ := newTestSupervisor(t, runner, stream.Config{
		StartTimeout:  time.Second,
		HealthTimeout: time.Minute,
		IdleGrace:     200 * time.Millisecond,
	})
	cam := testCamera()
	ctx := context.Background()

	h, err := sup.Acquire(ctx, cam)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	h.Release()

	// Flip back before the grace period runs out.
	h2, err := sup.Acquire(ctx, cam)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if runner.starts() != 1 {
		t.Errorf("reacquire within grace should reuse the session, got %d starts", runner.starts())
	}
	if st := sup.Status(cam.ID); st.State != stream.StateRunning {
		t.Errorf("session should still be running: %+v", st)
	}
	h2.Release()
	sup.Shutdown()
}

func TestMonitor_RestartCeilingDegrades(t *testing.T) {
	runner := &fakeRunner{}
	sup, h, _ := newTestSupervisor(t, runner, stream.Config{
		StartTimeout:   time.Second,
		HealthTimeout:  time.Minute,
		IdleGrace:      time.Minute,
		RestartCeiling: 2,
	})
	cam := testCamera()
	ctx := context.Background()

	handle, err := sup.Acquire(ctx, cam)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer handle.Release()

	// Ceiling 2 allows two restarts: three process generations total.
	for gen := 1; gen <= 3; gen++ {
		want := gen + 1
		runner.latest().finish(errors.New("segfault"))
		if gen < 3 {
			waitFor(t, 2*time.Second, "restart", func() bool { return runner.starts() == want })
		}
	}

	select {
	case payload := <-h.notices:
		notice, ok := payload.(stream.DegradedNotice)
		if !ok {
			t.Fatalf("unexpected payload type %T", payload)
		}
		if notice.CameraID != cam.ID.String() {
			t.Errorf("notice for wrong camera: %s", notice.CameraID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("degraded notice never published")
	}

	if runner.starts() != 3 {
		t.Errorf("expected 3 starts total, got %d", runner.starts())
	}
	if st := sup.Status(cam.ID); st.State != stream.StateDegraded {
		t.Errorf("expected degraded, got %+v", st)
	}
	if _, err := sup.Acquire(ctx, cam); !errors.Is(err, stream.ErrDegraded) {
		t.Errorf("degraded camera must refuse viewers, got %v", err)
	}
}

func TestAcquire_StartFailureUnwindsSession(t *testing.T) {
	runner := &fakeRunner{startErr: errors.New("ffmpeg not found")}
	sup, _, _ := newTestSupervisor(t, runner, stream.Config{
		StartTimeout:  50 * time.Millisecond,
		HealthTimeout: time.Minute,
		IdleGrace:     time.Minute,
	})
	cam := testCamera()
	ctx := context.Background()

	if _, err := sup.Acquire(ctx, cam); err == nil {
		t.Fatal("expected start failure")
	}
	if st := sup.Status(cam.ID); st.State != stream.StateStopped {
		t.Errorf("failed start should leave no session: %+v", st)
	}

	// The camera is acquirable again once the runner recovers.
	runner.mu.Lock()
	runner.startErr = nil
	runner.mu.Unlock()
	handle, err := sup.Acquire(ctx, cam)
	if err != nil {
		t.Fatalf("acquire after recovery failed: %v", err)
	}
	handle.Release()
	sup.Shutdown()
}

func TestMonitor_StaleSegmentsKillTranscoder(t *testing.T) {
	runner := &fakeRunner{}
	sup, h, store := newTestSupervisor(t, runner, stream.Config{
		StartTimeout:   time.Second,
		HealthTimeout:  30 * time.Millisecond,
		IdleGrace:      time.Minute,
		RestartCeiling: 1,
	})
	cam := testCamera()

	handle, err := sup.Acquire(context.Background(), cam)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer handle.Release()

	// Plant a segment that is already far past the freshness window.
	dir, err := store.LiveDir(cam.ID.String())
	if err != nil {
		t.Fatalf("live dir: %v", err)
	}
	seg := filepath.Join(dir, "seg-0.ts")
	if err := os.WriteFile(seg, []byte("x"), 0640); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	stale := time.Now().Add(-time.Hour)
	if err := os.Chtimes(seg, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// The health check kills the stalled child each generation until
	// the ceiling trips.
	select {
	case <-h.notices:
	case <-time.After(3 * time.Second):
		t.Fatal("stalled session never degraded")
	}
	if st := sup.Status(cam.ID); st.State != stream.StateDegraded {
		t.Errorf("expected degraded, got %+v", st)
	}
}

func TestAcquire_PrunesLeftoverSegments(t *testing.T) {
	runner := &fakeRunner{}
	sup, _, store := newTestSupervisor(t, runner, stream.Config{
		StartTimeout:   time.Second,
		HealthTimeout:  time.Minute,
		IdleGrace:      time.Minute,
		RetainSegments: 2,
	})
	cam := testCamera()

	// Debris from a crashed process, oldest first, crossing the
	// one-digit/two-digit index boundary.
	dir, err := store.LiveDir(cam.ID.String())
	if err != nil {
		t.Fatalf("live dir: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"seg-9.ts", "seg-10.ts", "seg-11.ts", "seg-12.ts"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0640); err != nil {
			t.Fatalf("write segment: %v", err)
		}
		mod := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(p, mod, mod); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	handle, err := sup.Acquire(context.Background(), cam)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer handle.Release()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read live dir: %v", err)
	}
	var segs []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".ts" {
			segs = append(segs, e.Name())
		}
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 survivors, got %v", segs)
	}
	if segs[0] != "seg-11.ts" || segs[1] != "seg-12.ts" {
		t.Errorf("newest segments should survive: %v", segs)
	}
	sup.Shutdown()
}

func TestShutdown_StopsSessions(t *testing.T) {
	runner := &fakeRunner{}
	sup, _, _ := newTestSupervisor(t, runner, stream.Config{
		StartTimeout:  time.Second,
		HealthTimeout: time.Minute,
		IdleGrace:     time.Minute,
	})
	cam := testCamera()

	if _, err := sup.Acquire(context.Background(), cam); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	sup.Shutdown()

	waitFor(t, 2*time.Second, "shutdown", func() bool {
		return sup.Status(cam.ID).State == stream.StateStopped
	})
}
