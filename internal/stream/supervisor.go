package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/hub"
	"github.com/technosupport/ts-monitor/internal/media"
	"github.com/technosupport/ts-monitor/internal/metrics"
)

var (
	// ErrNoSource means the camera has no RTSP source configured.
	ErrNoSource = errors.New("camera has no stream source")

	// ErrDegraded means the session hit the restart ceiling and will
	// not be restarted until the supervisor itself is restarted.
	ErrDegraded = errors.New("stream session degraded")

	ErrStartTimeout = errors.New("transcoder did not produce a manifest in time")

	errStopped = errors.New("session stopped")
)

type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
)

type Config struct {
	StartTimeout   time.Duration
	HealthTimeout  time.Duration
	IdleGrace      time.Duration
	RestartCeiling int
	RetainSegments int
}

type Broadcaster interface {
	Publish(accountID uuid.UUID, kind string, payload any)
}

// DegradedNotice is pushed to the account channel when a session gives up.
type DegradedNotice struct {
	CameraID string `json:"camera_id"`
	Reason   string `json:"reason"`
}

// Status is the externally visible snapshot of one session.
type Status struct {
	CameraID string `json:"camera_id"`
	State    State  `json:"state"`
	Viewers  int    `json:"viewers"`
	Failures int    `json:"failures"`
}

type session struct {
	camera data.Camera
	outDir string

	state    State
	refs     int
	proc     Process
	failures int
	stopping bool

	idleTimer *time.Timer
	stopCh    chan struct{}

	// closed once the first start attempt settles; attachers that
	// arrive during startup wait on it.
	ready    chan struct{}
	startErr error
}

// Handle is one viewer's claim on a live session. Release is
// idempotent.
type Handle struct {
	sup  *Supervisor
	s    *session
	once sync.Once
}

func (h *Handle) CameraID() string { return h.s.camera.ID.String() }

func (h *Handle) Release() {
	h.once.Do(func() { h.sup.release(h.s) })
}

// Supervisor enforces at most one transcode per camera and manages
// session lifecycle: refcounted acquire/release, idle teardown,
// crash restart with a ceiling, and segment-freshness health checks.
type Supervisor struct {
	runner Runner
	store  *media.Store
	hub    Broadcaster
	cfg    Config

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

func NewSupervisor(runner Runner, store *media.Store, b Broadcaster, cfg Config) *Supervisor {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 15 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 20 * time.Second
	}
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = 30 * time.Second
	}
	if cfg.RestartCeiling <= 0 {
		cfg.RestartCeiling = 4
	}
	if cfg.RetainSegments <= 0 {
		cfg.RetainSegments = 6
	}
	return &Supervisor{
		runner:   runner,
		store:    store,
		hub:      b,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Acquire attaches a viewer to the camera's live session, starting the
// transcoder when none is running. Blocks until the session is
// producing output or the start times out.
func (sup *Supervisor) Acquire(ctx context.Context, camera *data.Camera) (*Handle, error) {
	if camera.SourceURL == "" {
		return nil, fmt.Errorf("%w: camera %s", ErrNoSource, camera.ID)
	}

	sup.mu.Lock()
	if s, ok := sup.sessions[camera.ID]; ok {
		if s.state == StateDegraded {
			sup.mu.Unlock()
			return nil, fmt.Errorf("%w: camera %s", ErrDegraded, camera.ID)
		}
		s.refs++
		if s.idleTimer != nil {
			s.idleTimer.Stop()
			s.idleTimer = nil
		}
		sup.mu.Unlock()

		select {
		case <-s.ready:
		case <-ctx.Done():
			sup.release(s)
			return nil, ctx.Err()
		}
		if s.startErr != nil {
			return nil, s.startErr
		}
		return &Handle{sup: sup, s: s}, nil
	}

	s := &session{
		camera: *camera,
		state:  StateStarting,
		refs:   1,
		stopCh: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	sup.sessions[camera.ID] = s
	sup.mu.Unlock()

	if err := sup.startSession(ctx, s); err != nil {
		sup.mu.Lock()
		delete(sup.sessions, camera.ID)
		s.startErr = err
		sup.mu.Unlock()
		close(s.ready)
		return nil, err
	}

	close(s.ready)
	go sup.monitor(s)
	return &Handle{sup: sup, s: s}, nil
}

func (sup *Supervisor) startSession(ctx context.Context, s *session) error {
	outDir, err := sup.store.LiveDir(s.camera.ID.String())
	if err != nil {
		return err
	}
	s.outDir = outDir

	// Leftovers from a previous process (crash, unclean shutdown) are
	// pruned to the rolling window before the transcoder launches.
	if err := sup.store.PruneSegments(s.camera.ID.String(), sup.cfg.RetainSegments); err != nil {
		log.Printf("[Stream] Prune leftovers for camera %s: %v", s.camera.ID, err)
	}

	proc, err := sup.runner.Start(ctx, s.camera.ID.String(), s.camera.SourceURL, outDir)
	if err != nil {
		return fmt.Errorf("start transcoder: %w", err)
	}

	if err := sup.waitForManifest(ctx, outDir); err != nil {
		proc.Kill()
		return err
	}

	sup.mu.Lock()
	s.proc = proc
	s.state = StateRunning
	sup.mu.Unlock()

	metrics.StreamsActive.Inc()
	log.Printf("[Stream] Session started for camera %s", s.camera.ID)
	return nil
}

// waitForManifest blocks until manifest.m3u8 shows up in the output
// directory. The watcher is registered before the existence check so
// a manifest appearing in between is not missed.
func (sup *Supervisor) waitForManifest(ctx context.Context, outDir string) error {
	manifest := filepath.Join(outDir, "manifest.m3u8")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(outDir); err != nil {
		return fmt.Errorf("watch %s: %w", outDir, err)
	}

	if _, err := os.Stat(manifest); err == nil {
		return nil
	}

	deadline := time.NewTimer(sup.cfg.StartTimeout)
	defer deadline.Stop()

	for {
		select {
		case ev := <-watcher.Events:
			if ev.Name == manifest && (ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write)) {
				return nil
			}
		case err := <-watcher.Errors:
			log.Printf("[Stream] Watcher error: %v", err)
		case <-deadline.C:
			return ErrStartTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (sup *Supervisor) release(s *session) {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	if s.refs > 0 {
		s.refs--
	}
	if s.refs > 0 || s.stopping || s.state == StateDegraded {
		return
	}

	// Last viewer gone. Operators often flip between cameras, so the
	// session lingers for the grace period before teardown.
	s.idleTimer = time.AfterFunc(sup.cfg.IdleGrace, func() { sup.stopIfIdle(s) })
}

func (sup *Supervisor) stopIfIdle(s *session) {
	sup.mu.Lock()
	if s.refs > 0 || s.stopping || s.state == StateDegraded {
		sup.mu.Unlock()
		return
	}
	s.stopping = true
	s.state = StateStopped
	delete(sup.sessions, s.camera.ID)
	sup.mu.Unlock()

	close(s.stopCh)
}

// monitor owns the session's process from first start to teardown:
// it reacts to exits, restarts up to the ceiling, and kills a stalled
// transcoder whose newest segment has gone stale.
func (sup *Supervisor) monitor(s *session) {
	for {
		err := sup.superviseOnce(s)
		if err == errStopped {
			metrics.StreamsActive.Dec()
			if clearErr := sup.store.ClearLive(s.camera.ID.String()); clearErr != nil {
				log.Printf("[Stream] Clear live dir for camera %s: %v", s.camera.ID, clearErr)
			}
			log.Printf("[Stream] Session stopped for camera %s", s.camera.ID)
			return
		}

		sup.mu.Lock()
		s.failures++
		failures := s.failures
		if failures > sup.cfg.RestartCeiling {
			s.state = StateDegraded
			s.proc = nil
			sup.mu.Unlock()

			metrics.StreamsActive.Dec()
			metrics.StreamsDegradedTotal.Inc()
			log.Printf("[Stream] Camera %s degraded after %d consecutive failures: %v", s.camera.ID, failures, err)
			sup.hub.Publish(s.camera.AccountID, hub.KindStreamDegraded, DegradedNotice{
				CameraID: s.camera.ID.String(),
				Reason:   "transcoder restart ceiling reached",
			})
			return
		}
		s.proc = nil
		sup.mu.Unlock()

		log.Printf("[Stream] Transcoder for camera %s failed (%d/%d): %v", s.camera.ID, failures, sup.cfg.RestartCeiling, err)
		metrics.TranscodeRestartsTotal.Inc()
	}
}

// superviseOnce runs one process generation. Returns errStopped when
// teardown was requested, otherwise the crash/start error.
func (sup *Supervisor) superviseOnce(s *session) error {
	sup.mu.Lock()
	proc := s.proc
	sup.mu.Unlock()

	if proc == nil {
		if err := sup.store.PruneSegments(s.camera.ID.String(), sup.cfg.RetainSegments); err != nil {
			log.Printf("[Stream] Prune before restart for camera %s: %v", s.camera.ID, err)
		}
		p, err := sup.runner.Start(context.Background(), s.camera.ID.String(), s.camera.SourceURL, s.outDir)
		if err != nil {
			return fmt.Errorf("restart transcoder: %w", err)
		}
		sup.mu.Lock()
		s.proc = p
		sup.mu.Unlock()
		proc = p
	}

	procExit := make(chan error, 1)
	go func() { procExit <- proc.Wait() }()

	interval := sup.cfg.HealthTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			proc.Kill()
			<-procExit
			return errStopped

		case err := <-procExit:
			if err == nil {
				err = errors.New("transcoder exited")
			}
			return err

		case <-ticker.C:
			_, info, err := sup.store.NewestSegment(s.camera.ID.String())
			if err != nil {
				continue
			}
			age := time.Since(info.ModTime())
			if age < sup.cfg.HealthTimeout {
				// Producing output; the failure streak is over.
				sup.mu.Lock()
				s.failures = 0
				sup.mu.Unlock()
			} else {
				log.Printf("[Stream] Camera %s stalled (newest segment %s old), killing transcoder", s.camera.ID, age.Round(time.Second))
				proc.Kill()
				err := <-procExit
				if err == nil {
					err = errors.New("transcoder stalled")
				}
				return err
			}
		}
	}
}

// Status reports the session snapshot for a camera. A camera with no
// session reports stopped.
func (sup *Supervisor) Status(cameraID uuid.UUID) Status {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	s, ok := sup.sessions[cameraID]
	if !ok {
		return Status{CameraID: cameraID.String(), State: StateStopped}
	}
	return Status{
		CameraID: cameraID.String(),
		State:    s.state,
		Viewers:  s.refs,
		Failures: s.failures,
	}
}

// Shutdown tears down every live session.
func (sup *Supervisor) Shutdown() {
	sup.mu.Lock()
	var open []*session
	for id, s := range sup.sessions {
		if s.state == StateDegraded {
			delete(sup.sessions, id)
			continue
		}
		s.stopping = true
		s.state = StateStopped
		delete(sup.sessions, id)
		open = append(open, s)
	}
	sup.mu.Unlock()

	for _, s := range open {
		close(s.stopCh)
	}
}
