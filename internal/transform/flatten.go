package transform

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/bolsync/internal/domain"
)

// RowMode selects the output shape. Per-item is the primary mode: an order
// with N items yields N rows. Per-order reproduces the earlier aggregate
// variant with a single row per order.
type RowMode string

const (
	RowPerItem  RowMode = "per-item"
	RowPerOrder RowMode = "per-order"
)

// Flattener turns nested API orders into flat warehouse rows. It never
// fails on missing optional fields; an order without a usable item list
// yields zero rows and a warning.
type Flattener struct {
	vatDivisor decimal.Decimal
	mode       RowMode
	logger     *slog.Logger
}

func NewFlattener(vatRate float64, mode RowMode, logger *slog.Logger) *Flattener {
	if mode == "" {
		mode = RowPerItem
	}
	return &Flattener{
		vatDivisor: decimal.NewFromInt(1).Add(decimal.NewFromFloat(vatRate)),
		mode:       mode,
		logger:     logger,
	}
}

func (f *Flattener) FlattenAll(orders []domain.Order, date string, loadedAt time.Time) []domain.WarehouseRow {
	var rows []domain.WarehouseRow
	for _, order := range orders {
		rows = append(rows, f.Flatten(order, date, loadedAt)...)
	}
	return rows
}

func (f *Flattener) Flatten(order domain.Order, date string, loadedAt time.Time) []domain.WarehouseRow {
	if len(order.OrderItems) == 0 {
		f.logger.Warn("order has no usable item list, skipping", "order_id", order.OrderID)
		return nil
	}

	placedAt := parseTimestamp(order.OrderPlacedDateTime)
	email := optionalString(order.CustomerEmail())

	if f.mode == RowPerOrder {
		return []domain.WarehouseRow{f.aggregateRow(order, placedAt, email, date, loadedAt)}
	}

	rows := make([]domain.WarehouseRow, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		rows = append(rows, domain.WarehouseRow{
			OrderID:          order.OrderID,
			OrderPlacedAt:    placedAt,
			OrderItemID:      item.OrderItemID,
			EAN:              item.EAN,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			PriceExclVAT:     f.priceExclVAT(item.UnitPrice),
			IsGeannuleerd:    isCancelled(item),
			CustomerEmail:    email,
			FulfilmentMethod: fulfilmentMethod(item),
			LatestChangeDate: date,
			LoadedAt:         loadedAt,
		})
	}
	return rows
}

// aggregateRow keeps the earlier one-row-per-order shape: quantity summed
// across items, item-level identifiers and the cancellation flag taken from
// the first item.
func (f *Flattener) aggregateRow(order domain.Order, placedAt *time.Time, email *string, date string, loadedAt time.Time) domain.WarehouseRow {
	first := order.OrderItems[0]
	var quantity int64
	for _, item := range order.OrderItems {
		quantity += item.Quantity
	}
	return domain.WarehouseRow{
		OrderID:          order.OrderID,
		OrderPlacedAt:    placedAt,
		OrderItemID:      first.OrderItemID,
		EAN:              first.EAN,
		Quantity:         quantity,
		UnitPrice:        first.UnitPrice,
		PriceExclVAT:     f.priceExclVAT(first.UnitPrice),
		IsGeannuleerd:    isCancelled(first),
		CustomerEmail:    email,
		FulfilmentMethod: fulfilmentMethod(first),
		LatestChangeDate: date,
		LoadedAt:         loadedAt,
	}
}

// priceExclVAT divides the unit price by the VAT divisor, rounded to two
// decimals. A missing price stays nil.
func (f *Flattener) priceExclVAT(unitPrice *float64) *float64 {
	if unitPrice == nil {
		return nil
	}
	excl, _ := decimal.NewFromFloat(*unitPrice).Div(f.vatDivisor).Round(2).Float64()
	return &excl
}

func isCancelled(item domain.OrderItem) bool {
	return item.CancellationRequest != nil && item.CancellationRequest.IsRequested
}

func fulfilmentMethod(item domain.OrderItem) *string {
	if item.Fulfilment == nil || item.Fulfilment.Method == "" {
		return nil
	}
	return &item.Fulfilment.Method
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
