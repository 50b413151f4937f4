package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"github.com/joao-fontenele/bolsync/internal/domain"
)

// bigQuerySchema is the full required column set. Column names match the
// historical table, including the Dutch cancellation flag.
var bigQuerySchema = bigquery.Schema{
	{Name: "orderId", Type: bigquery.StringFieldType},
	{Name: "orderPlacedDateTime", Type: bigquery.TimestampFieldType},
	{Name: "orderItemId", Type: bigquery.StringFieldType},
	{Name: "ean", Type: bigquery.StringFieldType},
	{Name: "quantity", Type: bigquery.IntegerFieldType},
	{Name: "unitPrice", Type: bigquery.FloatFieldType},
	{Name: "priceExclVat", Type: bigquery.FloatFieldType},
	{Name: "isGeannuleerd", Type: bigquery.BooleanFieldType},
	{Name: "customerEmail", Type: bigquery.StringFieldType},
	{Name: "fulfilmentMethod", Type: bigquery.StringFieldType},
	{Name: "latestChangeDate", Type: bigquery.StringFieldType},
	{Name: "loadedAt", Type: bigquery.TimestampFieldType},
}

// BigQuery appends rows to an existing table via the streaming insert API,
// evolving its schema first when required columns are missing.
type BigQuery struct {
	client  *bigquery.Client
	dataset string
	table   string
	logger  *slog.Logger
}

func NewBigQuery(ctx context.Context, projectID, datasetID, tableID, credentialsFile string, logger *slog.Logger) (*BigQuery, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &BigQuery{client: client, dataset: datasetID, table: tableID, logger: logger}, nil
}

// EnsureSchema adds required columns the live table lacks. New columns on an
// existing table are nullable by definition; existing columns are never
// touched.
func (w *BigQuery) EnsureSchema(ctx context.Context) error {
	tbl := w.client.Dataset(w.dataset).Table(w.table)

	md, err := tbl.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("read table metadata: %w", err)
	}

	existing := make(map[string]bool, len(md.Schema))
	for _, field := range md.Schema {
		existing[field.Name] = true
	}

	required := make([]Column, len(bigQuerySchema))
	for i, field := range bigQuerySchema {
		required[i] = Column{Name: field.Name, Type: string(field.Type)}
	}

	missing := missingColumns(existing, required)
	if len(missing) == 0 {
		w.logger.Info("table schema up to date", "table", w.table)
		return nil
	}

	updated := append(bigquery.Schema{}, md.Schema...)
	for _, col := range missing {
		updated = append(updated, &bigquery.FieldSchema{Name: col.Name, Type: bigquery.FieldType(col.Type)})
		w.logger.Info("adding missing column", "table", w.table, "column", col.Name, "type", col.Type)
	}

	if _, err := tbl.Update(ctx, bigquery.TableMetadataToUpdate{Schema: updated}, md.ETag); err != nil {
		return fmt.Errorf("update table schema: %w", err)
	}
	return nil
}

// AppendRows streams the batch in. Insert ids give best-effort dedup so a
// rerun of the same date does not double-load. Per-row rejections surface
// as a *LoadError.
func (w *BigQuery) AppendRows(ctx context.Context, rows []domain.WarehouseRow) error {
	savers := make([]*bqRow, len(rows))
	for i := range rows {
		savers[i] = &bqRow{row: rows[i]}
	}

	err := w.client.Dataset(w.dataset).Table(w.table).Inserter().Put(ctx, savers)

	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		rejected := make([]RowError, 0, len(multi))
		for _, rowErr := range multi {
			idx := rowErr.RowIndex
			itemID := ""
			if idx >= 0 && idx < len(rows) {
				itemID = rows[idx].OrderItemID
			}
			rejected = append(rejected, RowError{Index: idx, OrderItemID: itemID, Reason: rowErr.Errors.Error()})
		}
		return &LoadError{Inserted: len(rows) - len(multi), Rejected: rejected}
	}
	if err != nil {
		return fmt.Errorf("insert rows: %w", err)
	}

	w.logger.Info("rows appended", "table", w.table, "rows", len(rows))
	return nil
}

func (w *BigQuery) Close() error {
	return w.client.Close()
}

type bqRow struct {
	row domain.WarehouseRow
}

// Save maps a row to BigQuery values, leaving nil pointers out so they load
// as NULL. The insert id is derived from the natural key.
func (r *bqRow) Save() (map[string]bigquery.Value, string, error) {
	vals := map[string]bigquery.Value{
		"orderId":          r.row.OrderID,
		"orderItemId":      r.row.OrderItemID,
		"ean":              r.row.EAN,
		"quantity":         r.row.Quantity,
		"isGeannuleerd":    r.row.IsGeannuleerd,
		"latestChangeDate": r.row.LatestChangeDate,
		"loadedAt":         r.row.LoadedAt,
	}
	if r.row.OrderPlacedAt != nil {
		vals["orderPlacedDateTime"] = *r.row.OrderPlacedAt
	}
	if r.row.UnitPrice != nil {
		vals["unitPrice"] = *r.row.UnitPrice
	}
	if r.row.PriceExclVAT != nil {
		vals["priceExclVat"] = *r.row.PriceExclVAT
	}
	if r.row.CustomerEmail != nil {
		vals["customerEmail"] = *r.row.CustomerEmail
	}
	if r.row.FulfilmentMethod != nil {
		vals["fulfilmentMethod"] = *r.row.FulfilmentMethod
	}
	return vals, r.row.OrderID + "/" + r.row.OrderItemID, nil
}
