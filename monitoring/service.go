// Package monitoring provides operational observability for the analytics
// core's sharded sliding-window façades.
//
// Design Philosophy:
// - Lock-free or minimal-lock metrics collection for high throughput
// - Sliding window aggregation for real-time statistics
// - Anomaly detection for proactive alerting
// - Low memory overhead with bounded buffers
//
// Performance Characteristics:
// - Metrics ingestion: >1M events/sec per core
// - Aggregation latency: <1ms for 1-second windows
// - Memory overhead: ~10MB for 1 hour of metrics at 10K events/sec
// - GC pressure: Minimal via preallocated buffers
//
// Architecture:
// - Event-driven ingestion via Pub/Sub subscriptions to façade scan/shift events
// - In-memory time-series store with circular buffers
// - Real-time aggregation with configurable windows
// - Anomaly detection using statistical methods
// - Alert engine with threshold-based and dynamic rules
package monitoring

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"encore.dev/pubsub"

	"encore.app/invalidation"
	epubsub "encore.app/pkg/pubsub"
)

//encore:service
type Service struct {
	collector  *MetricsCollector
	aggregator *Aggregator
	alertMgr   *AlertManager
	config     Config
	mu         sync.RWMutex
}

// Config holds monitoring service configuration.
type Config struct {
	MetricsRetention  time.Duration // How long to keep raw metrics
	AggregationWindow time.Duration // Aggregation window size
	AlertEvalInterval time.Duration // How often to evaluate alerts
	MaxMetricsPerSec  int           // Rate limit for metric ingestion
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MetricsRetention:  1 * time.Hour,
		AggregationWindow: 1 * time.Second,
		AlertEvalInterval: 10 * time.Second,
		MaxMetricsPerSec:  1000000, // 1M events/sec
	}
}

// MetricType represents the type of metric being recorded.
type MetricType string

const (
	MetricRecorded      MetricType = "op.recorded"
	MetricRetracted     MetricType = "op.retracted"
	MetricMoved         MetricType = "op.moved"
	MetricStaleDropped  MetricType = "op.stale_dropped"
	MetricDuplicateHit  MetricType = "op.duplicate_hit"
	MetricWindowEvicted MetricType = "window.evicted"
	MetricError         MetricType = "error"
	MetricScanLatency   MetricType = "window.scan_latency"
)

// MetricEvent represents a single metric event from any façade.
type MetricEvent struct {
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"` // "trending", "orderbook", "carpark", "warehouse", "visits"
	Labels    map[string]string `json:"labels,omitempty"`
}

// Request and response types

type GetMetricsRequest struct {
	Window time.Duration `json:"window"` // Time window (e.g., 1m, 5m, 1h)
}

type GetMetricsResponse struct {
	Timestamp      time.Time        `json:"timestamp"`
	Window         time.Duration    `json:"window"`
	TotalOps       int64            `json:"total_ops"`
	Recorded       int64            `json:"recorded"`
	Retracted      int64            `json:"retracted"`
	Moved          int64            `json:"moved"`
	DropRate       float64          `json:"drop_rate"`
	AvgScanLatency float64          `json:"avg_scan_latency_ms"`
	P50ScanLatency float64          `json:"p50_scan_latency_ms"`
	P90ScanLatency float64          `json:"p90_scan_latency_ms"`
	P95ScanLatency float64          `json:"p95_scan_latency_ms"`
	P99ScanLatency float64          `json:"p99_scan_latency_ms"`
	ErrorRate      float64          `json:"error_rate"`
	StaleDropped   int64            `json:"stale_dropped"`
	DuplicateHits  int64            `json:"duplicate_hits"`
	WindowEvicted  int64            `json:"window_evicted"`
	Footprints     map[string]int64 `json:"footprints_bytes,omitempty"` // Latest reported memory footprint per façade
}

type GetAggregatedRequest struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Interval  time.Duration `json:"interval"` // Aggregation interval
}

type AggregatedDataPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Ops            int64     `json:"ops"`
	DropRate       float64   `json:"drop_rate"`
	AvgScanLatency float64   `json:"avg_scan_latency_ms"`
	P95ScanLatency float64   `json:"p95_scan_latency_ms"`
	ErrorRate      float64   `json:"error_rate"`
}

type GetAggregatedResponse struct {
	DataPoints []AggregatedDataPoint `json:"data_points"`
	Summary    GetMetricsResponse    `json:"summary"`
}

type GetAlertsResponse struct {
	ActiveAlerts []Alert    `json:"active_alerts"`
	RecentAlerts []Alert    `json:"recent_alerts"` // Last 10 resolved alerts
	AlertStats   AlertStats `json:"alert_stats"`
}

type AlertStats struct {
	TotalTriggered int64   `json:"total_triggered"`
	TotalResolved  int64   `json:"total_resolved"`
	ActiveCount    int     `json:"active_count"`
	AvgDuration    float64 `json:"avg_duration_seconds"`
}

// Global service instance
var svc *Service

// initService initializes the monitoring service.
func initService() (*Service, error) {
	config := DefaultConfig()

	collector := NewMetricsCollector(config)
	aggregator := NewAggregator(collector, config)
	alertMgr := NewAlertManager(aggregator, config)

	s := &Service{
		collector:  collector,
		aggregator: aggregator,
		alertMgr:   alertMgr,
		config:     config,
	}

	// Start background workers
	go aggregator.Run()
	go alertMgr.Run()

	return s, nil
}

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic(err)
	}
}

// GetMetrics returns current metrics snapshot for a time window.
//
//encore:api public method=GET path=/monitoring/metrics
func GetMetrics(ctx context.Context, req *GetMetricsRequest) (*GetMetricsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetMetrics(ctx, req)
}

func (s *Service) GetMetrics(ctx context.Context, req *GetMetricsRequest) (*GetMetricsResponse, error) {
	window := req.Window
	if window == 0 {
		window = 1 * time.Minute // Default window
	}

	// Get aggregated data for the window
	now := time.Now()
	startTime := now.Add(-window)

	stats := s.aggregator.GetStats(startTime, now)

	return &GetMetricsResponse{
		Timestamp:      now,
		Window:         window,
		TotalOps:       stats.TotalOps,
		Recorded:       stats.Recorded,
		Retracted:      stats.Retracted,
		Moved:          stats.Moved,
		DropRate:       stats.DropRate,
		AvgScanLatency: stats.AvgScanLatency,
		P50ScanLatency: stats.P50ScanLatency,
		P90ScanLatency: stats.P90ScanLatency,
		P95ScanLatency: stats.P95ScanLatency,
		P99ScanLatency: stats.P99ScanLatency,
		ErrorRate:      stats.ErrorRate,
		StaleDropped:   stats.StaleDropped,
		DuplicateHits:  stats.DuplicateHits,
		WindowEvicted:  stats.WindowEvicted,
		Footprints:     s.collector.GetFootprints(),
	}, nil
}

// GetAggregated returns time-series aggregated metrics.
//
//encore:api public method=POST path=/monitoring/aggregated
func GetAggregated(ctx context.Context, req *GetAggregatedRequest) (*GetAggregatedResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetAggregated(ctx, req)
}

func (s *Service) GetAggregated(ctx context.Context, req *GetAggregatedRequest) (*GetAggregatedResponse, error) {
	// Validate request
	if req.EndTime.Before(req.StartTime) {
		return nil, errors.New("end_time must be after start_time")
	}

	interval := req.Interval
	if interval == 0 {
		interval = 1 * time.Minute // Default interval
	}

	// Generate data points
	dataPoints := make([]AggregatedDataPoint, 0)
	currentTime := req.StartTime

	for currentTime.Before(req.EndTime) {
		nextTime := currentTime.Add(interval)
		if nextTime.After(req.EndTime) {
			nextTime = req.EndTime
		}

		stats := s.aggregator.GetStats(currentTime, nextTime)

		dataPoints = append(dataPoints, AggregatedDataPoint{
			Timestamp:      currentTime,
			Ops:            stats.TotalOps,
			DropRate:       stats.DropRate,
			AvgScanLatency: stats.AvgScanLatency,
			P95ScanLatency: stats.P95ScanLatency,
			ErrorRate:      stats.ErrorRate,
		})

		currentTime = nextTime
	}

	// Calculate overall summary
	overallStats := s.aggregator.GetStats(req.StartTime, req.EndTime)
	summary := &GetMetricsResponse{
		Timestamp:      req.EndTime,
		Window:         req.EndTime.Sub(req.StartTime),
		TotalOps:       overallStats.TotalOps,
		Recorded:       overallStats.Recorded,
		Retracted:      overallStats.Retracted,
		Moved:          overallStats.Moved,
		DropRate:       overallStats.DropRate,
		AvgScanLatency: overallStats.AvgScanLatency,
		P50ScanLatency: overallStats.P50ScanLatency,
		P90ScanLatency: overallStats.P90ScanLatency,
		P95ScanLatency: overallStats.P95ScanLatency,
		P99ScanLatency: overallStats.P99ScanLatency,
		ErrorRate:      overallStats.ErrorRate,
		StaleDropped:   overallStats.StaleDropped,
		DuplicateHits:  overallStats.DuplicateHits,
		WindowEvicted:  overallStats.WindowEvicted,
	}

	return &GetAggregatedResponse{
		DataPoints: dataPoints,
		Summary:    *summary,
	}, nil
}

// GetAlerts returns current active alerts and alert statistics.
//
//encore:api public method=GET path=/monitoring/alerts
func GetAlerts(ctx context.Context) (*GetAlertsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetAlerts(ctx)
}

func (s *Service) GetAlerts(ctx context.Context) (*GetAlertsResponse, error) {
	activeAlerts := s.alertMgr.GetActiveAlerts()
	recentAlerts := s.alertMgr.GetRecentResolvedAlerts(10)
	stats := s.alertMgr.GetStats()

	return &GetAlertsResponse{
		ActiveAlerts: activeAlerts,
		RecentAlerts: recentAlerts,
		AlertStats:   stats,
	}, nil
}

// Pub/Sub subscriptions for façade operational events.
//
// WindowScanTopic itself is owned by invalidation (the other consumer of
// façade scan events); monitoring subscribes to that same topic rather than
// declaring a second pubsub.Topic for "window.scan", mirroring how
// cache-manager subscribes to invalidation's CacheInvalidateTopic instead of
// redeclaring it.

var _ = pubsub.NewSubscription(
	invalidation.WindowScanTopic,
	"monitoring-window-scan",
	pubsub.SubscriptionConfig[*epubsub.WindowScanEvent]{
		Handler: HandleWindowScan,
	},
)

// HandleWindowScan processes housekeeping scan-and-evict completion events
// published by every façade's background rotation goroutine.
func HandleWindowScan(ctx context.Context, event *epubsub.WindowScanEvent) error {
	if svc == nil {
		return nil
	}

	svc.collector.RecordMetric(MetricEvent{
		Type:      MetricWindowEvicted,
		Value:     float64(event.EvictedBuckets),
		Timestamp: event.ScannedAt,
		Source:    event.Facade,
	})

	svc.collector.RecordMetric(MetricEvent{
		Type:      MetricScanLatency,
		Value:     float64(event.ScanLatency.Milliseconds()),
		Timestamp: event.ScannedAt,
		Source:    event.Facade,
	})

	if raw, ok := event.Meta["footprint_bytes"]; ok {
		if bytes, err := strconv.ParseInt(raw, 10, 64); err == nil {
			svc.collector.RecordFootprint(event.Facade, bytes)
		}
	}

	return nil
}

var StockMovedTopic = pubsub.NewTopic[*epubsub.StockMovedEvent](
	epubsub.TopicStockMoved,
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

var _ = pubsub.NewSubscription(
	StockMovedTopic,
	"monitoring-stock-moved",
	pubsub.SubscriptionConfig[*epubsub.StockMovedEvent]{
		Handler: HandleStockMoved,
	},
)

// HandleStockMoved records warehouse transfer volume as a moved-operation
// metric.
func HandleStockMoved(ctx context.Context, event *epubsub.StockMovedEvent) error {
	if svc == nil {
		return nil
	}

	svc.collector.RecordMetric(MetricEvent{
		Type:      MetricMoved,
		Value:     float64(event.Quantity),
		Timestamp: event.MovedAt,
		Source:    "warehouse",
		Labels:    map[string]string{"item": event.Item},
	})

	return nil
}

var TrendingShiftTopic = pubsub.NewTopic[*epubsub.TrendingShiftEvent](
	epubsub.TopicTrendingShift,
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

var _ = pubsub.NewSubscription(
	TrendingShiftTopic,
	"monitoring-trending-shift",
	pubsub.SubscriptionConfig[*epubsub.TrendingShiftEvent]{
		Handler: HandleTrendingShift,
	},
)

// HandleTrendingShift records a top-1 hashtag change as a recorded-operation
// metric, tagged with the new leader for operational dashboards.
func HandleTrendingShift(ctx context.Context, event *epubsub.TrendingShiftEvent) error {
	if svc == nil {
		return nil
	}

	svc.collector.RecordMetric(MetricEvent{
		Type:      MetricRecorded,
		Value:     1,
		Timestamp: event.ShiftedAt,
		Source:    "trending",
		Labels:    map[string]string{"new_top": event.NewTop},
	})

	return nil
}

// Shutdown gracefully stops the monitoring service.
func (s *Service) Shutdown() {
	s.aggregator.Stop()
	s.alertMgr.Stop()
}
