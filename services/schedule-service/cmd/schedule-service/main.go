package main

import (
	"context"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/bookslots/libs/config"
	"github.com/md-rashed-zaman/bookslots/libs/db"
	"github.com/md-rashed-zaman/bookslots/libs/httpx"
	"github.com/md-rashed-zaman/bookslots/libs/kafkax"
	otelx "github.com/md-rashed-zaman/bookslots/libs/otel"
	"github.com/md-rashed-zaman/bookslots/libs/outbox"
	"github.com/md-rashed-zaman/bookslots/libs/runtime"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/handlers"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/retention"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "schedule-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository()
	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	pruner := retention.NewPruner(repo, logger, retention.Config{
		Schedule: config.String("OVERRIDE_PRUNE_SCHEDULE", "@daily"),
		Days:     config.Int("OVERRIDE_RETENTION_DAYS", 90),
	})
	go func() {
		if err := pruner.Run(ctx); err != nil {
			logger.Error("override retention disabled", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := handlers.New(repo, outboxRepo, logger)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if strings.TrimSpace(brokers) != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/providers/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.GetProfile(w, r)
			return
		}
		if r.Method == http.MethodPut {
			h.UpdateProfile(w, r)
			return
		}
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	mux.HandleFunc("/api/v1/providers/capacity", h.UpdateCapacity)
	mux.HandleFunc("/api/v1/providers/services", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.CreateService(w, r)
			return
		}
		if r.Method == http.MethodGet {
			h.ListServices(w, r)
			return
		}
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	mux.HandleFunc("/api/v1/providers/services/status", h.SetServiceStatus)
	mux.HandleFunc("/api/v1/providers/schedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.GetSchedule(w, r)
			return
		}
		if r.Method == http.MethodPut {
			h.ReplaceSchedule(w, r)
			return
		}
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	mux.HandleFunc("/api/v1/providers/overrides", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.ListOverrides(w, r)
			return
		}
		if r.Method == http.MethodPost {
			h.MutateOverrides(w, r)
			return
		}
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	handler := httpx.Chain(mux,
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10))*time.Second),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
	)
	handler = otelhttp.NewHandler(handler, "schedule")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	if err := startGrpcServer(ctx, logger, pool, repo); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
