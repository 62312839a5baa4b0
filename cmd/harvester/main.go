package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"arxiv_harvester/internal/config"
	"arxiv_harvester/internal/domain"
	"arxiv_harvester/internal/harvester"
	"arxiv_harvester/internal/publisher"
	"arxiv_harvester/internal/ratelimit"
	"arxiv_harvester/internal/scheduler"
	"arxiv_harvester/internal/source/oai"
	"arxiv_harvester/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	mode := flag.String("mode", "recent", "harvest mode: recent, backfill, both, or watch")
	startDate := flag.String("start-date", "", "backfill start date (YYYY-MM-DD)")
	endDate := flag.String("end-date", "", "backfill end date (YYYY-MM-DD, exclusive)")
	sets := flag.String("sets", "", "comma-separated set specs (overrides config)")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	setSpecs := cfg.Harvest.SetSpecs
	if *sets != "" {
		setSpecs = strings.Split(*sets, ",")
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Optional RabbitMQ publisher for downstream indexers
	var pub harvester.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	// One limiter shared by the OAI client and the harvest loop keeps the
	// aggregate request rate within the source's 3-second floor.
	clock := ratelimit.NewClock()
	limiter := ratelimit.NewLimiter(cfg.Harvest.RateLimitDelay, clock)

	oaiClient := oai.New(oai.Config{
		BaseURL:          cfg.OAI.BaseURL,
		MetadataPrefix:   cfg.OAI.MetadataPrefix,
		Timeout:          cfg.OAI.Timeout,
		MaxAttempts:      cfg.OAI.Retry.MaxAttempts,
		RetryAfter:       cfg.OAI.Retry.RetryAfter,
		RetryStatusCodes: cfg.OAI.Retry.RetryStatusCodes,
	}, limiter, clock, logger)

	recordStore := postgres.NewRecordStore(db, logger)
	stateStore := postgres.NewHarvestStateStore(db)
	txManager := postgres.NewTransactionManager(db)

	h := harvester.New(
		oaiClient,
		recordStore,
		stateStore,
		txManager,
		pub,
		limiter,
		clock,
		logger,
		cfg.Harvest,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting harvester",
		"mode", *mode,
		"base_url", cfg.OAI.BaseURL,
		"set_specs", setSpecs,
		"rate_limit_delay", cfg.Harvest.RateLimitDelay,
	)

	started := time.Now()
	total := &domain.RunStats{Mode: *mode}

	switch *mode {
	case "recent":
		runRecent(ctx, h, setSpecs, total, logger)
	case "backfill":
		runBackfill(ctx, h, setSpecs, *startDate, *endDate, total, logger)
	case "both":
		runRecent(ctx, h, setSpecs, total, logger)
		runBackfill(ctx, h, setSpecs, *startDate, *endDate, total, logger)
	case "watch":
		sched := scheduler.NewScheduler(h, setSpecs, cfg.Harvest.WatchInterval, logger)
		if err := sched.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("scheduler error", "error", err)
			os.Exit(1)
		}
		return
	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(1)
	}

	total.Duration = time.Since(started)
	logger.Info("harvest run finished",
		"mode", *mode,
		"records_written", total.RecordsWritten,
		"windows_succeeded", total.WindowsSucceeded,
		"windows_failed", total.WindowsFailed,
		"duration", total.Duration,
	)
}

func runRecent(ctx context.Context, h *harvester.Harvester, setSpecs []string, total *domain.RunStats, logger *slog.Logger) {
	stats, err := h.RunRecent(ctx, setSpecs)
	if err != nil {
		logger.Error("recent harvest aborted", "error", err)
	}
	total.Add(stats)
}

func runBackfill(ctx context.Context, h *harvester.Harvester, setSpecs []string, startDate, endDate string, total *domain.RunStats, logger *slog.Logger) {
	// arXiv's OAI interface reaches back to roughly 2007.
	start := time.Date(2007, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Now().UTC().Truncate(24 * time.Hour)

	var err error
	if startDate != "" {
		if start, err = time.Parse("2006-01-02", startDate); err != nil {
			logger.Error("invalid start date", "value", startDate, "error", err)
			os.Exit(1)
		}
	}
	if endDate != "" {
		if end, err = time.Parse("2006-01-02", endDate); err != nil {
			logger.Error("invalid end date", "value", endDate, "error", err)
			os.Exit(1)
		}
	}

	stats, err := h.Backfill(ctx, start, end, setSpecs)
	if err != nil {
		logger.Error("backfill aborted", "error", err)
	}
	total.Add(stats)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
