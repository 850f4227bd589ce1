package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mealdash/internal/aiflow"
	"mealdash/internal/config"
	"mealdash/internal/donation"
	"mealdash/internal/hygiene"
	"mealdash/internal/logging"
	"mealdash/internal/metrics"
	"mealdash/internal/notify"
	"mealdash/internal/queue"
	"mealdash/internal/store"
)

const (
	queueKey    = "mealdash:jobs"
	maxAttempts = 3
)

// Worker consumes queue messages: hygiene photos go to the AI check,
// donation offers go out over MQTT.
func main() {
	cfg := config.Load()
	logger := logging.Must(cfg.Env, cfg.LogLevel).Named("worker")
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker failed", zap.Error(err))
	}
	logger.Info("worker stopped")
}

type worker struct {
	hygiene   *hygiene.Service
	donations *donation.Service
	checker   hygiene.Checker
	notifier  notify.Notifier
	topic     string
	queue     queue.Queue
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func run(ctx context.Context, cfg config.App, logger *zap.Logger) error {
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		logger.Warn("memory queue only sees messages published in this process")
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queueKey)
	}

	m := metrics.New()

	var gen aiflow.Generator
	if cfg.AISkip {
		gen = &aiflow.Mock{}
	} else if g, err := aiflow.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel); err != nil {
		logger.Warn("gemini unavailable, hygiene photos go to manual review", zap.Error(err))
	} else {
		gen = g
	}
	ai := aiflow.NewRunner(gen, cfg.AITimeout, logger.Named("aiflow"), m.ObserveFlow)

	var n notify.Notifier = notify.Log{Logger: logger}
	if cfg.MQTTBrokerURL != "" {
		mq, err := notify.DialMQTT(cfg.MQTTBrokerURL, cfg.MQTTClientID, logger.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		n = mq
	}
	defer n.Close()

	w := &worker{
		hygiene:   hygiene.NewService(hygiene.NewRepository(db.Client), nil, q, logger.Named("hygiene")),
		donations: donation.NewService(donation.NewRepository(db.Client), ai, q, logger.Named("donation")),
		checker:   ai,
		notifier:  n,
		topic:     cfg.DonationTopic,
		queue:     q,
		metrics:   m,
		logger:    logger,
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}

	srv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: m.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("waiting for messages", zap.String("metrics_addr", srv.Addr))
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case msg, ok := <-messages:
				if !ok {
					return nil
				}
				w.handle(gctx, msg)
			}
		}
	})
	return g.Wait()
}

// handle processes one message and requeues it on failure until
// maxAttempts is reached.
func (w *worker) handle(ctx context.Context, msg queue.Message) {
	id := string(msg.Body)
	log := w.logger.With(zap.String("type", msg.Type), zap.String("id", id), zap.Int("attempts", msg.Attempts))

	var err error
	switch msg.Type {
	case queue.TypeHygiene:
		var rep hygiene.Report
		rep, err = w.hygiene.Analyze(ctx, w.checker, id)
		if err == nil {
			log.Info("hygiene report analyzed", zap.String("status", rep.Status))
		}
	case queue.TypeDonation:
		err = w.donations.Deliver(ctx, w.notifier, w.topic, id)
		if err == nil {
			log.Info("donation offer published", zap.String("topic", w.topic))
		}
	default:
		log.Warn("unknown message type dropped")
		return
	}
	w.metrics.ObserveMessage(msg.Type, err)
	if err == nil || ctx.Err() != nil {
		return
	}
	if errors.Is(err, hygiene.ErrNotFound) || errors.Is(err, donation.ErrNotFound) {
		log.Warn("record gone, dropping message", zap.Error(err))
		return
	}
	if msg.Attempts+1 >= maxAttempts {
		log.Error("giving up on message", zap.Error(err))
		return
	}
	log.Warn("message failed, requeueing", zap.Error(err))
	if perr := w.queue.Publish(ctx, msg.Retry()); perr != nil {
		log.Error("requeue failed", zap.Error(perr))
	}
}
