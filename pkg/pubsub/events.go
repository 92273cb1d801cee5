package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event versioning strategy:
// - Version 1: Initial schema
// - Future versions: Add fields, never remove (backward compatible)
// - Consumers should check Version and handle appropriately

const (
	// EventVersion1 is the current event schema version
	EventVersion1 = 1
)

// WindowScanEvent reports the outcome of one housekeeping scan-and-evict
// pass over a façade's rolling sketches. Published to TopicWindowScan.
//
// Design notes:
//   - Facade is the publishing domain service name (e.g. "trending")
//   - EvictedBuckets counts per-key bucket sketches reclaimed, not bytes
//   - RequestID enables distributed tracing across the scan -> aggregate path
type WindowScanEvent struct {
	// Version of the event schema (for backward compatibility)
	Version int `json:"version"`

	// Facade that ran the scan (e.g. "trending", "warehouse")
	Facade string `json:"facade"`

	// EvictedBuckets is the number of bucket sketches reclaimed this scan
	EvictedBuckets int `json:"evicted_buckets"`

	// ScanLatency is how long the scan-and-evict pass took
	ScanLatency time.Duration `json:"scan_latency"`

	// ScannedAt is the time the scan completed
	ScannedAt time.Time `json:"scanned_at"`

	// Meta contains optional metadata (e.g. "shard_id")
	Meta map[string]string `json:"meta,omitempty"`

	// RequestID for distributed tracing and correlation
	RequestID string `json:"request_id"`
}

// Validate checks if the WindowScanEvent is well-formed.
func (e *WindowScanEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.Facade == "" {
		return errors.New("facade field is required")
	}

	if e.EvictedBuckets < 0 {
		return errors.New("evicted_buckets cannot be negative")
	}

	if e.ScanLatency < 0 {
		return errors.New("scan_latency cannot be negative")
	}

	if e.ScannedAt.IsZero() {
		return errors.New("scanned_at cannot be zero")
	}

	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}

	return nil
}

// ToJSON serializes the event to JSON.
func (e *WindowScanEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WindowScanEventFromJSON deserializes a WindowScanEvent from JSON.
func WindowScanEventFromJSON(data []byte) (*WindowScanEvent, error) {
	var e WindowScanEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal WindowScanEvent: %w", err)
	}
	return &e, nil
}

// StockMovedEvent represents the completion of a warehouse stock transfer.
// Published to TopicStockMoved.
//
// Use cases:
//   - Notify monitoring of transfer volume and latency
//   - Drive downstream reconciliation/audit pipelines
type StockMovedEvent struct {
	// Version of the event schema
	Version int `json:"version"`

	// Item being transferred
	Item string `json:"item"`

	// FromWarehouse is the source warehouse ID
	FromWarehouse string `json:"from_warehouse"`

	// ToWarehouse is the destination warehouse ID
	ToWarehouse string `json:"to_warehouse"`

	// Quantity transferred. Must be positive.
	Quantity uint64 `json:"quantity"`

	// MovedAt is the wall-clock time at which the transfer was applied
	MovedAt time.Time `json:"moved_at"`

	// Meta contains optional metadata (e.g. "reason", "operator")
	Meta map[string]string `json:"meta,omitempty"`

	// RequestID for distributed tracing
	RequestID string `json:"request_id"`
}

// Validate checks if the StockMovedEvent is well-formed.
func (e *StockMovedEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.Item == "" {
		return errors.New("item field is required")
	}

	if e.FromWarehouse == "" || e.ToWarehouse == "" {
		return errors.New("from_warehouse and to_warehouse are required")
	}

	if e.FromWarehouse == e.ToWarehouse {
		return errors.New("from_warehouse and to_warehouse must differ")
	}

	if e.Quantity == 0 {
		return errors.New("quantity must be positive")
	}

	if e.MovedAt.IsZero() {
		return errors.New("moved_at cannot be zero")
	}

	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}

	return nil
}

// ToJSON serializes the event to JSON.
func (e *StockMovedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// StockMovedEventFromJSON deserializes a StockMovedEvent from JSON.
func StockMovedEventFromJSON(data []byte) (*StockMovedEvent, error) {
	var e StockMovedEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal StockMovedEvent: %w", err)
	}
	return &e, nil
}

// TrendingShiftEvent represents a change in the top-1 trending hashtag.
// Published to TopicTrendingShift.
//
// Use cases:
//   - Drive a live "what's trending now" notification feed
//   - Track churn in the top-1 slot for monitoring
type TrendingShiftEvent struct {
	// Version of the event schema
	Version int `json:"version"`

	// NewTop is the hashtag that just took the top-1 slot
	NewTop string `json:"new_top"`

	// PreviousTop is the hashtag that held the top-1 slot before, empty if
	// there was none
	PreviousTop string `json:"previous_top,omitempty"`

	// Score is NewTop's current top-k score
	Score float64 `json:"score"`

	// ShiftedAt is the time the shift was observed
	ShiftedAt time.Time `json:"shifted_at"`

	// Meta contains optional metadata
	Meta map[string]string `json:"meta,omitempty"`

	// RequestID for distributed tracing
	RequestID string `json:"request_id"`
}

// Validate checks if the TrendingShiftEvent is well-formed.
func (e *TrendingShiftEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.NewTop == "" {
		return errors.New("new_top field is required")
	}

	if e.ShiftedAt.IsZero() {
		return errors.New("shifted_at cannot be zero")
	}

	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}

	return nil
}

// ToJSON serializes the event to JSON.
func (e *TrendingShiftEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TrendingShiftEventFromJSON deserializes a TrendingShiftEvent from JSON.
func TrendingShiftEventFromJSON(data []byte) (*TrendingShiftEvent, error) {
	var e TrendingShiftEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal TrendingShiftEvent: %w", err)
	}
	return &e, nil
}
