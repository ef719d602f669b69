package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/metrics"
	"github.com/technosupport/ts-monitor/internal/ratelimit"
)

var (
	rejectUnknownRecipient = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message:      "No camera registered for this address",
	}
	rejectFlood = &smtp.SMTPError{
		Code:         452,
		EnhancedCode: smtp.EnhancedCode{4, 4, 5},
		Message:      "Camera is reporting too fast, try again later",
	}
	rejectInternal = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary processing failure",
	}
)

type ServerConfig struct {
	ListenAddr      string
	Domain          string
	MaxMessageBytes int64
	FloodRate       int
	FloodWindow     time.Duration
}

// Limiter is the per-camera flood guard. Nil disables the guard.
type Limiter interface {
	CheckCamera(ctx context.Context, cameraID string, cfg ratelimit.LimitConfig) (*ratelimit.Decision, error)
}

// Server is the inbound SMTP listener cameras deliver alarm mail to.
// It speaks just enough SMTP to accept one message for one registered
// camera; everything else is rejected at the protocol level.
type Server struct {
	resolver *Resolver
	pipeline *Pipeline
	limiter  Limiter
	cfg      ServerConfig

	srv *smtp.Server
}

func NewServer(resolver *Resolver, pipeline *Pipeline, limiter Limiter, cfg ServerConfig) *Server {
	s := &Server{
		resolver: resolver,
		pipeline: pipeline,
		limiter:  limiter,
		cfg:      cfg,
	}

	srv := smtp.NewServer(s)
	srv.Addr = cfg.ListenAddr
	srv.Domain = cfg.Domain
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	// One alarm, one camera. Multi-recipient mail is refused by the
	// protocol layer before DATA.
	srv.MaxRecipients = 1
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 30 * time.Second
	s.srv = srv

	return s
}

// ListenAndServe blocks serving SMTP until Close.
func (s *Server) ListenAndServe() error {
	log.Printf("[Ingest] SMTP listener on %s (domain %s)", s.cfg.ListenAddr, s.cfg.Domain)
	return s.srv.ListenAndServe()
}

func (s *Server) Close() error {
	return s.srv.Close()
}

// NewSession implements smtp.Backend.
func (s *Server) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{server: s}, nil
}

type session struct {
	server *Server
	camera *data.Camera
}

func (sess *session) Mail(from string, opts *smtp.MailOptions) error {
	return nil
}

// Rcpt resolves the recipient to a camera and applies the flood guard.
// Unknown aliases get a permanent 550 so misconfigured cameras fail
// loudly instead of silently queueing at their MTA.
func (sess *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	ctx := context.Background()

	camera, err := sess.server.resolver.Resolve(ctx, to)
	if err != nil {
		if errors.Is(err, ErrUnknownRecipient) {
			metrics.RecordIngestRejected("unknown_alias")
			log.Printf("[Ingest] Rejecting unknown recipient %q", to)
			return rejectUnknownRecipient
		}
		log.Printf("[Ingest] Recipient lookup failed for %q: %v", to, err)
		return rejectInternal
	}

	if sess.server.limiter != nil {
		decision, err := sess.server.limiter.CheckCamera(ctx, camera.ID.String(), ratelimit.LimitConfig{
			Rate:   sess.server.cfg.FloodRate,
			Window: sess.server.cfg.FloodWindow,
		})
		if err != nil {
			// Redis being down must not drop alarms; fail open.
			log.Printf("[Ingest] Flood guard unavailable: %v", err)
		} else if !decision.Allowed {
			metrics.RecordIngestRejected("flood")
			log.Printf("[Ingest] Flood guard tripped for camera %s", camera.ID)
			return rejectFlood
		}
	}

	sess.camera = camera
	return nil
}

func (sess *session) Data(r io.Reader) error {
	if sess.camera == nil {
		return rejectInternal
	}

	msg, err := ParseMessage(r)
	if err != nil {
		log.Printf("[Ingest] Unparseable message for camera %s: %v", sess.camera.ID, err)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}

	if err := sess.server.pipeline.HandleMessage(context.Background(), sess.camera, msg); err != nil {
		log.Printf("[Ingest] Pipeline failure for camera %s: %v", sess.camera.ID, err)
		return rejectInternal
	}
	return nil
}

func (sess *session) Reset() {
	sess.camera = nil
}

func (sess *session) Logout() error {
	return nil
}
