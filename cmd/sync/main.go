package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/bolsync/internal/bolapi"
	"github.com/joao-fontenele/bolsync/internal/config"
	"github.com/joao-fontenele/bolsync/internal/messaging"
	"github.com/joao-fontenele/bolsync/internal/pipeline"
	"github.com/joao-fontenele/bolsync/internal/telemetry"
	"github.com/joao-fontenele/bolsync/internal/transform"
	"github.com/joao-fontenele/bolsync/internal/warehouse"
)

const (
	serviceName    = "bolsync"
	serviceVersion = "0.1.0"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	dateFlag := flag.String("date", "", "processing date (YYYY-MM-DD), overrides PROCESSING_DATE")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *dateFlag != "" {
		if _, err := time.Parse("2006-01-02", *dateFlag); err != nil {
			logger.Error("invalid -date flag, want YYYY-MM-DD", "error", err)
			os.Exit(1)
		}
		cfg.ProcessingDate = *dateFlag
	}

	ctx := context.Background()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(ctx) }()
	}

	if cfg.MetricsPort != "" {
		metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
		if err != nil {
			logger.Error("failed to initialize metrics", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownMeter(ctx) }()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsServer := &http.Server{
			Addr:        ":" + cfg.MetricsPort,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "port", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() { _ = metricsServer.Shutdown(ctx) }()
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	tokens := bolapi.NewTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.TokenAuthMethod, httpClient, logger)
	client := bolapi.NewClient(cfg.APIBaseURL, tokens, httpClient, logger)

	wh, err := openWarehouse(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open warehouse", "error", err, "backend", cfg.Backend)
		os.Exit(1)
	}
	defer func() { _ = wh.Close() }()

	flattener := transform.NewFlattener(cfg.VATRate, transform.RowMode(cfg.RowMode), logger)

	var opts []pipeline.Option
	if cfg.FetchDetails {
		opts = append(opts, pipeline.WithDetailFetch())
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, messaging.DefaultTopic)
		defer func() { _ = producer.Close() }()
		opts = append(opts, pipeline.WithPublisher(producer))
	}

	p := pipeline.New(client, flattener, wh, logger, opts...)

	result, err := p.Run(ctx, cfg.ProcessingDate)
	if err != nil {
		logger.Error("sync failed", "error", err, "date", cfg.ProcessingDate)
		os.Exit(1)
	}

	logger.Info("sync succeeded",
		"date", result.Date,
		"orders", result.OrdersFetched,
		"rows", result.RowsLoaded,
	)
}

func openWarehouse(ctx context.Context, cfg *config.Config, logger *slog.Logger) (warehouse.Warehouse, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := telemetry.OpenDB("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return warehouse.NewPostgres(db, cfg.PostgresTable, logger), nil
	default:
		return warehouse.NewBigQuery(ctx, cfg.BigQueryProjectID, cfg.BigQueryDatasetID, cfg.BigQueryTableID, cfg.BigQueryCredentialsFile, logger)
	}
}
