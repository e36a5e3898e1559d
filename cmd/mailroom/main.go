package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/mailroom/internal/auth"
	"github.com/dmitrymomot/mailroom/internal/config"
	"github.com/dmitrymomot/mailroom/internal/dispatch"
	"github.com/dmitrymomot/mailroom/internal/handler"
	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/internal/template"
	"github.com/dmitrymomot/mailroom/internal/tracker"
	"github.com/dmitrymomot/mailroom/internal/webhook"
	"github.com/dmitrymomot/mailroom/internal/worker"
	"github.com/dmitrymomot/mailroom/pkg/cache"
	"github.com/dmitrymomot/mailroom/pkg/db"
	"github.com/dmitrymomot/mailroom/pkg/job"
	"github.com/dmitrymomot/mailroom/pkg/logger"
	"github.com/dmitrymomot/mailroom/pkg/mailer"
	"github.com/dmitrymomot/mailroom/pkg/mailer/resend"
	"github.com/dmitrymomot/mailroom/pkg/mailer/ses"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("mailroom exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.NewWithSentry(cfg.Sentry, cfg.LogLevel, requestIDExtractor)

	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool, cfg.DB.MigrationsTable, log); err != nil {
		return err
	}

	systems := storage.NewSystemRepository(pool)
	templates := storage.NewTemplateRepository(pool)
	logs := storage.NewLogRepository(pool)

	authCache, err := newAuthCache(cfg)
	if err != nil {
		return err
	}
	defer authCache.Close()

	sender, err := newSender(cfg)
	if err != nil {
		return err
	}

	trk := tracker.New(logs)
	renderer := template.NewRenderer(templates)
	sendTask := worker.NewSendTask(logs, trk, renderer, sender, cfg.SendTimeout, log)
	retentionTask := worker.NewRetentionTask(logs, cfg.LogRetention, log)

	manager, err := job.NewManager(pool,
		job.WithTask[dispatch.SendPayload](sendTask),
		job.WithScheduledTask(retentionTask),
		job.WithLogger(log),
		job.WithMaxWorkers(cfg.QueueWorkers),
		job.WithRetryBackoff(cfg.RetryBackoff),
	)
	if err != nil {
		return err
	}

	validator := webhook.NewSNSValidator(nil)
	defer validator.Close()
	processor := webhook.NewProcessor(validator, trk, nil, log)

	authenticator := auth.NewAuthenticator(systems, authCache, cfg.AuthCacheTTL, log)
	dispatcher := dispatch.NewDispatcher(manager, cfg.MaxSendAttempts)

	checks := []handler.HealthCheck{
		{Name: "postgres", Check: db.Healthcheck(pool)},
		{Name: "queue", Check: manager.Healthcheck()},
	}
	h := handler.New(authenticator, dispatcher, systems, templates, trk, logs, processor, checks, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening",
			slog.String("addr", cfg.Addr),
			slog.String("environment", cfg.Environment),
			slog.String("provider", cfg.MailerProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then drain in-flight jobs.
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := manager.Stop(shutdownCtx); err != nil && !errors.Is(err, job.ErrNotStarted) {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	log.Info("mailroom stopped")
	return err
}

// newAuthCache backs credential lookups with Redis when configured,
// falling back to process memory.
func newAuthCache(cfg *config.Config) (cache.Cache[storage.AuthorizedSystem], error) {
	if cfg.RedisURL == "" {
		return cache.NewMemory[storage.AuthorizedSystem](), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	return cache.NewRedis[storage.AuthorizedSystem](client, cache.WithPrefix("mailroom")), nil
}

func newSender(cfg *config.Config) (mailer.Sender, error) {
	switch cfg.MailerProvider {
	case config.ProviderResend:
		return resend.New(cfg.Resend), nil
	default:
		return ses.New(cfg.SES), nil
	}
}

// requestIDExtractor surfaces the chi request id on every log line
// emitted within a request.
func requestIDExtractor(ctx context.Context) (slog.Attr, bool) {
	if id := middleware.GetReqID(ctx); id != "" {
		return slog.String("request_id", id), true
	}
	return slog.Attr{}, false
}
