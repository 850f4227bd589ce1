package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mealdash/internal/aiflow"
	"mealdash/internal/api"
	"mealdash/internal/attendance"
	"mealdash/internal/auth"
	"mealdash/internal/capture"
	"mealdash/internal/cloudinary"
	"mealdash/internal/config"
	"mealdash/internal/donation"
	"mealdash/internal/expense"
	"mealdash/internal/feedback"
	"mealdash/internal/hygiene"
	"mealdash/internal/identity"
	"mealdash/internal/logging"
	"mealdash/internal/lookup"
	"mealdash/internal/metrics"
	"mealdash/internal/queue"
	"mealdash/internal/roster"
	"mealdash/internal/store"
)

const queueKey = "mealdash:jobs"

func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	defer db.Close()
	if err != nil {
		logger.Warn("db not reachable, starting degraded", zap.Error(err))
	} else if err := db.Migrate(ctx); err != nil {
		logger.Warn("db migration failed", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queueKey)
	}

	m := metrics.New()

	ros, writer, err := buildRoster(cfg, db, redisClient, logger)
	if err != nil {
		return err
	}

	renderer, err := identity.NewRenderer(cfg.QRSize, cfg.QRRecovery)
	if err != nil {
		return err
	}
	cards := identity.Cards{Renderer: renderer}
	decoder := identity.NewDecoder(ros)

	iss := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if cfg.StaffPassword == "" {
		logger.Warn("STAFF_PASSWORD_HASH not set, staff login disabled")
	}
	authSvc := auth.NewService(iss, auth.NewRepository(db.Client), cfg.StaffUsername, cfg.StaffPassword)

	ai := aiflow.NewRunner(newGenerator(ctx, cfg, logger), cfg.AITimeout, logger.Named("aiflow"), m.ObserveFlow)

	// Cloudinary (nil when not configured)
	var uploader cloudinary.Uploader
	if cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder); cdn.Configured() {
		uploader = cdn
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("cloudinary not configured, photos stay in the database")
	}

	att := attendance.NewService(attendance.NewRepository(db.Client), cfg.CheckInWindow, cfg.DefaultMeals, logger.Named("attendance"))

	sessions := lookup.NewRegistry(api.ScanConfig{
		Roster:   ros,
		Decoder:  decoder,
		Cards:    cards,
		Ticks:    capture.Interval(cfg.ScanTick),
		Metrics:  m,
		Logger:   logger,
		CheckIns: att,
	}.Factory(), cfg.ScanSessionTTL, logger.Named("sessions"))
	defer sessions.Close()
	go sessions.Run(ctx, cfg.ScanSessionTTL/2)

	limiters := api.NewLimiters(cfg.RateLimitPerMin, cfg.FrameRatePerMin)
	go limiters.Run(ctx, time.Minute, 10*time.Minute)

	r := api.NewRouter(api.Deps{
		Logger:  logger,
		Metrics: m,
		Probes: []api.Probe{
			{Name: "db", Check: db.Healthy},
			{Name: "redis", Check: redisClient.Healthy},
		},
		Issuer:       iss,
		Auth:         authSvc,
		Roster:       ros,
		RosterWriter: writer,
		Decoder:      decoder,
		Cards:        cards,
		Sessions:     sessions,
		Attendance:   att,
		Hygiene:      hygiene.NewService(hygiene.NewRepository(db.Client), uploader, q, logger.Named("hygiene")),
		Feedback:     feedback.NewService(feedback.NewRepository(db.Client), ai, logger.Named("feedback")),
		Donations:    donation.NewService(donation.NewRepository(db.Client), ai, q, logger.Named("donation")),
		Expenses:     expense.NewService(expense.NewRepository(db.Client), uploader, logger.Named("expense")),
		AI:           ai,
		CORSOrigins:  cfg.CORSOrigins,
		Limiters:     limiters,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // AI flows can take a while
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("roster", cfg.RosterBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down server")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// buildRoster returns the lookup used by scans and, when the backend
// accepts imports, the writer behind it.
func buildRoster(cfg config.App, db *store.DB, rdb *store.Redis, logger *zap.Logger) (roster.Lookup, roster.Writer, error) {
	switch cfg.RosterBackend {
	case "postgres":
		cached := roster.NewCached(roster.NewRepository(db.Client), roster.RedisKV{Client: rdb.Client}, cfg.RosterCacheTTL, logger.Named("roster"))
		return cached, cached, nil
	default:
		if cfg.RosterFile == "" {
			logger.Info("using built-in sample roster")
			mem := roster.SeedRoster()
			return mem, mem, nil
		}
		mem, err := roster.LoadYAML(cfg.RosterFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("roster loaded", zap.String("file", cfg.RosterFile), zap.Int("students", len(mem.IDs())))
		return mem, mem, nil
	}
}

// newGenerator picks the model backend. A missing key leaves the runner
// without a generator, so every flow answers with its manual fallback.
func newGenerator(ctx context.Context, cfg config.App, logger *zap.Logger) aiflow.Generator {
	if cfg.AISkip {
		logger.Info("AI_SKIP set, using canned AI responses")
		return &aiflow.Mock{}
	}
	g, err := aiflow.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Warn("gemini unavailable, AI flows will fall back to manual", zap.Error(err))
		return nil
	}
	return g
}
