package domain

import "time"

// SyncCompletedEvent is published after a successful load so downstream
// consumers know fresh rows for a date are available.
type SyncCompletedEvent struct {
	RunID         string    `json:"run_id"`
	Date          string    `json:"date"`
	OrdersFetched int       `json:"orders_fetched"`
	RowsLoaded    int       `json:"rows_loaded"`
	DurationMS    int64     `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}
