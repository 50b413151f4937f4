package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/joao-fontenele/bolsync/internal/domain"
)

// Warehouse is the destination table. EnsureSchema only ever adds missing
// nullable columns; AppendRows only ever adds rows.
type Warehouse interface {
	EnsureSchema(ctx context.Context) error
	AppendRows(ctx context.Context, rows []domain.WarehouseRow) error
	Close() error
}

// Column is a required destination column with its backend-specific type
// token.
type Column struct {
	Name string
	Type string
}

// missingColumns preserves the required-column order so schema evolution is
// deterministic.
func missingColumns(existing map[string]bool, required []Column) []Column {
	var missing []Column
	for _, col := range required {
		if !existing[col.Name] {
			missing = append(missing, col)
		}
	}
	return missing
}

// RowError is one rejected row with the warehouse's reason.
type RowError struct {
	Index       int
	OrderItemID string
	Reason      string
}

// LoadError reports a partially or fully rejected append. Inserted counts
// rows the warehouse did accept; those stay appended.
type LoadError struct {
	Inserted int
	Rejected []RowError
}

func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "warehouse rejected %d row(s), %d inserted", len(e.Rejected), e.Inserted)
	for i, r := range e.Rejected {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Rejected)-i)
			break
		}
		fmt.Fprintf(&b, "; row %d (%s): %s", r.Index, r.OrderItemID, r.Reason)
	}
	return b.String()
}
