package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-monitor/internal/api"
	"github.com/technosupport/ts-monitor/internal/audit"
	"github.com/technosupport/ts-monitor/internal/config"
	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/hlsd"
	"github.com/technosupport/ts-monitor/internal/hub"
	"github.com/technosupport/ts-monitor/internal/ingest"
	"github.com/technosupport/ts-monitor/internal/media"
	"github.com/technosupport/ts-monitor/internal/platform/paths"
	"github.com/technosupport/ts-monitor/internal/ratelimit"
	"github.com/technosupport/ts-monitor/internal/stream"
	"github.com/technosupport/ts-monitor/internal/tokens"
	"github.com/technosupport/ts-monitor/internal/workflow"
)

const serviceName = "ts-monitor"

func main() {
	configPath := flag.String("config", "", "path to config file (default: data root config/default.yaml)")
	flag.Parse()

	// 1. Platform Paths
	if err := paths.EnsureDirs(); err != nil {
		log.Fatalf("Platform init error: %v", err)
	}

	// 2. Config
	cfg, err := config.Load(paths.ResolveConfigPath(*configPath))
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	dbHost := config.Env("DB_HOST", "localhost")
	dbPort := config.Env("DB_PORT", "5432")
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASSWORD")
	dbName := config.Env("DB_NAME", "ts_monitor")
	redisAddr := config.Env("REDIS_ADDR", "localhost:6379")
	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	hlsKey := os.Getenv("HLS_SIGNING_KEY")

	if jwtKey == "" {
		jwtKey = "dev-secret-do-not-use-in-prod"
	}
	if hlsKey == "" {
		hlsKey = "dev-hls-key-do-not-use-in-prod"
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPass, dbHost, dbPort, dbName)

	// 3. DB Init
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	// 4. Shared Redis Client (ingest flood guard)
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	limiter := ratelimit.NewLimiter(rdb)

	// 5. Repositories
	cameraRepo := data.CameraModel{DB: db}
	accountRepo := data.AccountModel{DB: db}
	eventRepo := data.EventModel{DB: db}
	activityRepo := data.ActivityModel{DB: db}

	// 6. Audit Trail (DB with file-spool failover)
	auditService := audit.NewService(db)
	audit.ConfigureFailover(cfg.Audit.SpoolDir, cfg.Audit.MaxSpoolMB)
	auditService.StartReplayer(context.Background())
	if err := auditService.StartRetentionSweep(context.Background(), cfg.Audit.RetentionYears); err != nil {
		log.Fatalf("Audit retention error: %v", err)
	}

	// 7. Broadcast Hub (+ optional NATS mirror)
	eventHub := hub.New(cfg.Hub.QueueDepth)
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		nc, err := nats.Connect(natsURL, nats.Name(serviceName))
		if err != nil {
			log.Printf("Warning: NATS connect failed: %v. Mirror disabled.", err)
		} else {
			defer nc.Close()
			eventHub.EnableMirror(nc, cfg.Hub.NatsSubject)
			log.Printf("[Main] NATS mirror enabled on %s.{account_id}", cfg.Hub.NatsSubject)
		}
	}

	// 8. Media Store + Stream Supervisor
	mediaStore := media.NewStore(paths.ResolveMediaRoot(), cfg.Ingest.MaxAttachmentBytes)
	runner := stream.NewFFmpegRunner(cfg.Stream.FFmpegPath, cfg.Stream.SegmentSeconds, cfg.Stream.RetainSegments)
	supervisor := stream.NewSupervisor(runner, mediaStore, eventHub, stream.Config{
		StartTimeout:   cfg.StreamStartTimeout(),
		HealthTimeout:  cfg.StreamHealthTimeout(),
		IdleGrace:      cfg.StreamIdleGrace(),
		RestartCeiling: cfg.Stream.RestartCeiling,
		RetainSegments: cfg.Stream.RetainSegments,
	})

	// 9. Workflow Engine
	engine := workflow.NewEngine(eventRepo, accountRepo, eventHub, auditService, cfg.WebhookTimeout())

	// 10. Ingestion (SMTP)
	resolver, err := ingest.NewResolver(cameraRepo, cfg.Ingest.AliasCacheSize, cfg.AliasCacheTTL())
	if err != nil {
		log.Fatalf("Resolver init error: %v", err)
	}
	pipeline := ingest.NewPipeline(eventRepo, accountRepo, activityRepo, mediaStore, engine, eventHub)
	smtpServer := ingest.NewServer(resolver, pipeline, limiter, ingest.ServerConfig{
		ListenAddr:      cfg.Ingest.ListenAddr,
		Domain:          cfg.Ingest.Domain,
		MaxMessageBytes: cfg.Ingest.MaxMessageBytes,
		FloodRate:       cfg.Ingest.RateLimit.Rate,
		FloodWindow:     cfg.IngestRateWindow(),
	})

	go func() {
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Fatalf("SMTP server error: %v", err)
		}
	}()

	// 11. HTTP Surface
	tokenMgr := tokens.NewManager(jwtKey)
	keys := &hlsd.MapKeyProvider{Keys: map[string][]byte{"v1": []byte(hlsKey)}}

	router := api.NewRouter(api.Deps{
		Events:  api.NewEventHandler(engine, eventRepo),
		Streams: api.NewStreamHandler(supervisor, cameraRepo, "v1", []byte(hlsKey), cfg.HLSTokenTTL()),
		Audit:   api.NewAuditHandler(auditService),
		HLS:     hlsd.NewHandler(hlsd.Config{LiveRoot: mediaStore.Root + "/live", Keys: keys}),
		WS:      hub.NewWSHandler(eventHub, tokenMgr),
		Tokens:  tokenMgr,
	})

	server := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Printf("[Main] HTTP server on %s", cfg.HTTP.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 12. Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("[Main] Shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	smtpServer.Close()
	supervisor.Shutdown()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown error: %v", err)
	}
	log.Println("[Main] Server stopped gracefully")
}
