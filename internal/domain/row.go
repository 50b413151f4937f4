package domain

import "time"

// WarehouseRow is one flat destination-table record. With the default
// per-item row mode an order with N items produces N rows sharing the
// parent's id and timestamp. Pointer fields load as NULL when absent.
type WarehouseRow struct {
	OrderID          string     `json:"orderId"`
	OrderPlacedAt    *time.Time `json:"orderPlacedDateTime,omitempty"`
	OrderItemID      string     `json:"orderItemId"`
	EAN              string     `json:"ean"`
	Quantity         int64      `json:"quantity"`
	UnitPrice        *float64   `json:"unitPrice,omitempty"`
	PriceExclVAT     *float64   `json:"priceExclVat,omitempty"`
	IsGeannuleerd    bool       `json:"isGeannuleerd"`
	CustomerEmail    *string    `json:"customerEmail,omitempty"`
	FulfilmentMethod *string    `json:"fulfilmentMethod,omitempty"`
	LatestChangeDate string     `json:"latestChangeDate"`
	LoadedAt         time.Time  `json:"loadedAt"`
}
