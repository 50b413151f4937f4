package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/bolsync/internal/domain"
	"github.com/joao-fontenele/bolsync/internal/transform"
	"github.com/joao-fontenele/bolsync/internal/warehouse"
)

// Fetcher retrieves orders from the retailer API.
type Fetcher interface {
	FetchOrders(ctx context.Context, date string) ([]domain.Order, error)
	FetchOrderDetails(ctx context.Context, orderIDs []string) ([]domain.Order, error)
}

// Publisher announces a completed load to downstream consumers.
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error
}

// Result summarizes one run. Duration is filled in on every path, including
// failures.
type Result struct {
	RunID         string
	Date          string
	OrdersFetched int
	RowsLoaded    int
	Duration      time.Duration
}

// Pipeline sequences one processing date: fetch, optionally detail-fetch,
// flatten, ensure schema, append. Strictly sequential; a fatal error aborts
// the remaining stages and already-appended rows stay appended.
type Pipeline struct {
	fetcher      Fetcher
	flattener    *transform.Flattener
	warehouse    warehouse.Warehouse
	publisher    Publisher
	fetchDetails bool
	logger       *slog.Logger
	now          func() time.Time

	tracer        trace.Tracer
	ordersCounter metric.Int64Counter
	rowsCounter   metric.Int64Counter
}

type Option func(*Pipeline)

func WithPublisher(p Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithDetailFetch re-fetches every unique order id through the detail
// endpoint before flattening.
func WithDetailFetch() Option {
	return func(pl *Pipeline) { pl.fetchDetails = true }
}

func New(fetcher Fetcher, flattener *transform.Flattener, wh warehouse.Warehouse, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:   fetcher,
		flattener: flattener,
		warehouse: wh,
		logger:    logger,
		now:       time.Now,
		tracer:    otel.Tracer("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	meter := otel.Meter("pipeline")
	p.ordersCounter, _ = meter.Int64Counter("bolsync.orders.fetched",
		metric.WithDescription("Orders fetched from the retailer API"))
	p.rowsCounter, _ = meter.Int64Counter("bolsync.rows.loaded",
		metric.WithDescription("Rows appended to the warehouse table"))

	return p
}

// Run processes one date end to end. Zero matching orders is a clean no-op:
// no schema check, no write.
func (p *Pipeline) Run(ctx context.Context, date string) (*Result, error) {
	start := p.now()
	result := &Result{RunID: uuid.New().String(), Date: date}

	ctx, span := p.tracer.Start(ctx, "sync run")
	defer span.End()

	p.logger.Info("run started", "run_id", result.RunID, "date", date)

	runErr := p.run(ctx, date, start, result)

	result.Duration = p.now().Sub(start)
	minutes := int(result.Duration.Minutes())
	seconds := int(result.Duration.Seconds()) % 60
	p.logger.Info("run finished",
		"run_id", result.RunID,
		"date", date,
		"orders", result.OrdersFetched,
		"rows", result.RowsLoaded,
		"minutes", minutes,
		"seconds", seconds,
		"ok", runErr == nil,
	)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(otelcodes.Error, runErr.Error())
		return result, runErr
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, date string, start time.Time, result *Result) error {
	orders, err := p.fetcher.FetchOrders(ctx, date)
	if err != nil {
		return err
	}

	result.OrdersFetched = len(orders)
	p.ordersCounter.Add(ctx, int64(len(orders)))
	p.logger.Info("orders fetched", "date", date, "count", len(orders))

	if len(orders) == 0 {
		p.logger.Info("no orders found for date, nothing to load", "date", date)
		return nil
	}

	if p.fetchDetails {
		ids := uniqueOrderIDs(orders)
		p.logger.Info("fetching order details", "unique_orders", len(ids))
		orders, err = p.fetcher.FetchOrderDetails(ctx, ids)
		if err != nil {
			return err
		}
	}

	rows := p.flattener.FlattenAll(orders, date, p.now().UTC())
	p.logger.Info("orders flattened", "rows", len(rows))
	if len(rows) == 0 {
		p.logger.Warn("no loadable rows after flattening", "date", date)
		return nil
	}

	if err := p.warehouse.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	if err := p.warehouse.AppendRows(ctx, rows); err != nil {
		var loadErr *warehouse.LoadError
		if errors.As(err, &loadErr) {
			// Partial loads stay loaded; report what landed.
			result.RowsLoaded = loadErr.Inserted
			p.rowsCounter.Add(ctx, int64(loadErr.Inserted))
		}
		return fmt.Errorf("append rows: %w", err)
	}

	result.RowsLoaded = len(rows)
	p.rowsCounter.Add(ctx, int64(len(rows)))

	if p.publisher != nil {
		event := domain.SyncCompletedEvent{
			RunID:         result.RunID,
			Date:          date,
			OrdersFetched: result.OrdersFetched,
			RowsLoaded:    result.RowsLoaded,
			DurationMS:    p.now().Sub(start).Milliseconds(),
			Timestamp:     p.now().UTC(),
		}
		if err := p.publisher.PublishSyncCompleted(ctx, event); err != nil {
			p.logger.Error("failed to publish sync completed event", "error", err, "run_id", result.RunID)
		}
	}

	return nil
}

// uniqueOrderIDs deduplicates while keeping first-seen order, so each detail
// endpoint is hit at most once per id per run.
func uniqueOrderIDs(orders []domain.Order) []string {
	seen := make(map[string]bool, len(orders))
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		if order.OrderID == "" || seen[order.OrderID] {
			continue
		}
		seen[order.OrderID] = true
		ids = append(ids, order.OrderID)
	}
	return ids
}
