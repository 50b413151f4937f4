package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joao-fontenele/bolsync/internal/domain"
)

// postgresColumns is the required column set for the Postgres backend. The
// baseline migration creates the table without is_geannuleerd; EnsureSchema
// evolves older tables in place.
var postgresColumns = []Column{
	{Name: "order_id", Type: "text"},
	{Name: "order_placed_at", Type: "timestamptz"},
	{Name: "order_item_id", Type: "text"},
	{Name: "ean", Type: "text"},
	{Name: "quantity", Type: "bigint"},
	{Name: "unit_price", Type: "numeric(12,2)"},
	{Name: "price_excl_vat", Type: "numeric(12,2)"},
	{Name: "is_geannuleerd", Type: "boolean"},
	{Name: "customer_email", Type: "text"},
	{Name: "fulfilment_method", Type: "text"},
	{Name: "latest_change_date", Type: "date"},
	{Name: "loaded_at", Type: "timestamptz"},
}

// Postgres loads rows into a plain Postgres table. The unique key on
// (order_id, order_item_id) plus ON CONFLICT DO NOTHING gives the same
// best-effort dedup the BigQuery insert ids do.
type Postgres struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

func NewPostgres(db *sql.DB, table string, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, table: table, logger: logger}
}

func (w *Postgres) EnsureSchema(ctx context.Context) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = $1
	`, w.table)
	if err != nil {
		return fmt.Errorf("read table schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan column name: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read table schema: %w", err)
	}
	if len(existing) == 0 {
		return fmt.Errorf("table %s does not exist, run migrations first", w.table)
	}

	missing := missingColumns(existing, postgresColumns)
	if len(missing) == 0 {
		w.logger.Info("table schema up to date", "table", w.table)
		return nil
	}

	for _, col := range missing {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", w.table, col.Name, col.Type)
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.Name, err)
		}
		w.logger.Info("adding missing column", "table", w.table, "column", col.Name, "type", col.Type)
	}
	return nil
}

// AppendRows inserts row by row so a single rejection cannot roll back the
// rest of the batch; accepted rows stay appended and rejections are
// reported together.
func (w *Postgres) AppendRows(ctx context.Context, rows []domain.WarehouseRow) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (
			id, order_id, order_placed_at, order_item_id, ean, quantity,
			unit_price, price_excl_vat, is_geannuleerd, customer_email,
			fulfilment_method, latest_change_date, loaded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_id, order_item_id) DO NOTHING
	`, w.table)

	inserted := 0
	skipped := 0
	var rejected []RowError

	for i, row := range rows {
		res, err := w.db.ExecContext(ctx, stmt,
			uuid.New().String(),
			row.OrderID,
			row.OrderPlacedAt,
			row.OrderItemID,
			row.EAN,
			row.Quantity,
			row.UnitPrice,
			row.PriceExclVAT,
			row.IsGeannuleerd,
			row.CustomerEmail,
			row.FulfilmentMethod,
			row.LatestChangeDate,
			row.LoadedAt,
		)
		if err != nil {
			rejected = append(rejected, RowError{Index: i, OrderItemID: row.OrderItemID, Reason: err.Error()})
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			skipped++
			continue
		}
		inserted++
	}

	if len(rejected) > 0 {
		return &LoadError{Inserted: inserted, Rejected: rejected}
	}

	w.logger.Info("rows appended", "table", w.table, "rows", inserted, "already_loaded", skipped)
	return nil
}

func (w *Postgres) Close() error {
	return w.db.Close()
}
