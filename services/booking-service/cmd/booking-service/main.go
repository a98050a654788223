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
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	scheduleAddr := config.String("SCHEDULE_GRPC_ADDR", "schedule-service:9090")
	schedulingProvider, err := scheduling.NewProvider(ctx, scheduleAddr)
	if err != nil {
		logger.Error("schedule client init failed", "err", err, "addr", scheduleAddr)
		panic(err)
	}
	defer func() { _ = schedulingProvider.Close() }()

	var engineOpts []availability.Option
	if step := config.Int("SLOT_STEP_MINUTES", 0); step > 0 {
		engineOpts = append(engineOpts, availability.WithStep(time.Duration(step)*time.Minute))
	}
	engine := availability.New(engineOpts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo := storage.NewBookingRepository(pool)
	outboxRepo := outbox.NewRepository()
	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(repo, outboxRepo, logger, schedulingProvider, engine, m)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "schedule", Check: schedulingProvider.ReadyCheck},
	}
	if strings.TrimSpace(brokers) != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	public := publicLimiter(ctx, logger)
	mux.Handle("/api/v1/public/slots", public(http.HandlerFunc(bookingHandler.Slots)))
	mux.Handle("/api/v1/public/slots/detailed", public(http.HandlerFunc(bookingHandler.SlotsDetailed)))
	mux.Handle("/api/v1/public/book", public(http.HandlerFunc(bookingHandler.Create)))
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", bookingHandler.Reschedule)

	// Nothing between the access log and the mux may copy the request, or the
	// metrics observer loses the matched route pattern.
	httpHandler := httpx.Chain(mux,
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10))*time.Second),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger, m.ObserveHTTP),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Provider-Id", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "schedule_addr", scheduleAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
