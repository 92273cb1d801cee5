// Package pubsub provides topic names and event type definitions for the
// analytics core's event-driven coordination between domain façades and the
// monitoring/invalidation services.
//
// Topic Naming Convention:
//   - window.scan: Housekeeping scan completion events, one per façade
//   - warehouse.stock.moved: Warehouse transfer completion events
//   - trending.shift: Top-1 hashtag change events
//
// Design Notes:
//   - Topics are defined as constants to avoid typos and enable compile-time checks
//   - Version field in events enables schema evolution without breaking consumers
//   - No direct Encore dependencies to keep pkg/ reusable across services
package pubsub

// Topic name constants for Encore Pub/Sub integration.
// These should be used when defining pubsub.Topic[T] in service code.
const (
	// TopicWindowScan is published every time a façade's background
	// housekeeping goroutine finishes a scan-and-evict pass over its rolling
	// sketches.
	// Event type: WindowScanEvent
	// Publishers: trending, orderbook, carpark, warehouse, visits
	// Subscribers: monitoring, invalidation
	TopicWindowScan = "window.scan"

	// TopicStockMoved is published when the warehouse façade completes a
	// stock transfer between two warehouses.
	// Event type: StockMovedEvent
	// Publishers: warehouse
	// Subscribers: monitoring
	TopicStockMoved = "warehouse.stock.moved"

	// TopicTrendingShift is published when the trending façade's top-1
	// hashtag changes.
	// Event type: TrendingShiftEvent
	// Publishers: trending
	// Subscribers: monitoring
	TopicTrendingShift = "trending.shift"
)

// AllTopics returns all defined topic names.
// Useful for validation, testing, and administrative tools.
func AllTopics() []string {
	return []string{
		TopicWindowScan,
		TopicStockMoved,
		TopicTrendingShift,
	}
}

// IsValidTopic checks if the given topic name is recognized.
func IsValidTopic(topic string) bool {
	for _, t := range AllTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

// TopicMetadata provides descriptive information about topics.
type TopicMetadata struct {
	Name        string
	Description string
	EventType   string
}

// GetTopicMetadata returns metadata for all topics.
// Useful for documentation generation and admin UIs.
func GetTopicMetadata() []TopicMetadata {
	return []TopicMetadata{
		{
			Name:        TopicWindowScan,
			Description: "Housekeeping scan-and-evict completion, per façade",
			EventType:   "WindowScanEvent",
		},
		{
			Name:        TopicStockMoved,
			Description: "Warehouse stock transfer completion",
			EventType:   "StockMovedEvent",
		},
		{
			Name:        TopicTrendingShift,
			Description: "Top-1 trending hashtag change",
			EventType:   "TrendingShiftEvent",
		},
	}
}
