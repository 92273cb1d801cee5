// Package trending tracks hashtag usage across a rolling window and
// surfaces the currently trending set.
//
// Design Philosophy:
// - Frequency counting goes through the shared Count-Min Sketch rather than
//   a per-hashtag timestamp list: hashtag cardinality is unbounded, so exact
//   per-key storage is the one thing this service must never do.
// - The BoundedTopK is kept warm on every post so TopKTrending(k, t) for a
//   window at or near the full configured window is an O(k log K) read
//   instead of a rescan.
// - A TrendingShiftEvent is only published when the top-1 hashtag actually
//   changes, not on every post, to keep the pubsub fan-out proportional to
//   genuine trend churn.
//
// Performance Characteristics:
// - RecordPost: O(depth) CMS update + O(log K) heap update
// - TopKTrending: O(K log K) rescore over the tracked candidate set
package trending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"encore.app/corewindow"
	"encore.app/invalidation"
	"encore.app/monitoring"
	"encore.app/pkg/models"
	epubsub "encore.app/pkg/pubsub"
)

// Service wraps a corewindow.Facade configured for approximate, high-
// cardinality hashtag counting.
//
//encore:service
type Service struct {
	facade  *corewindow.Facade
	limiter *rate.Limiter

	mu         sync.Mutex // guards topHashtag for shift detection
	topHashtag string
}

// Config holds runtime configuration for the trending service.
type Config struct {
	Window      corewindow.Config
	IngestRPS   float64 // Per-producer ingestion throttle, 0 disables limiting.
	IngestBurst int
}

// DefaultConfig returns sensible defaults: the corewindow spec defaults,
// plus a generous ingestion ceiling sized the way warming/service.go sizes
// MaxOriginRPS for a single origin.
func DefaultConfig() Config {
	return Config{
		Window:      corewindow.DefaultConfig(),
		IngestRPS:   5000,
		IngestBurst: 10000,
	}
}

var (
	svc  *Service
	once sync.Once
)

// initService constructs the façade and starts housekeeping. Called
// automatically by Encore at startup.
func initService() (*Service, error) {
	var err error
	once.Do(func() {
		cfg := DefaultConfig()
		var facade *corewindow.Facade
		facade, err = corewindow.NewFacade(cfg.Window)
		if err != nil {
			return
		}

		limit := rate.Limit(cfg.IngestRPS)
		if cfg.IngestRPS == 0 {
			limit = rate.Inf
		}
		s := &Service{
			facade:  facade,
			limiter: rate.NewLimiter(limit, cfg.IngestBurst),
		}
		facade.SetScanHook(s.onScan)
		facade.StartHousekeeping(time.Duration(cfg.Window.BucketSize) * time.Second)

		svc = s
	})
	return svc, err
}

// onScan publishes a WindowScanEvent after every housekeeping pass,
// attaching an estimated memory footprint the same way every other façade
// does, so monitoring can track all five uniformly.
func (s *Service) onScan(evicted int, latency time.Duration) {
	cfg := s.facade.Config()
	bucketsPerRing := int(cfg.WindowSeconds/cfg.BucketSize) + 1
	fp := models.NewFacadeFootprint("trending", uint(cfg.CMSDepth), uint(cfg.CMSWidth), cfg.HLLPrecision, cfg.TopKCapacity, bucketsPerRing, s.facade.ActiveRingCount())

	event := &epubsub.WindowScanEvent{
		Version:        epubsub.EventVersion1,
		Facade:         "trending",
		EvictedBuckets: evicted,
		ScanLatency:    latency,
		ScannedAt:      time.Now(),
		Meta:           map[string]string{"footprint_bytes": strconv.FormatInt(fp.TotalBytes, 10)},
		RequestID:      uuid.New().String(),
	}
	_, _ = invalidation.WindowScanTopic.Publish(context.Background(), event)
}

// Request and response types for API endpoints.

type RecordPostRequest struct {
	Hashtag        string `json:"hashtag"`
	Timestamp      int64  `json:"timestamp"` // seconds since epoch
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type RecordPostResponse struct {
	Accepted bool `json:"accepted"`
}

type TopKTrendingRequest struct {
	K             int   `json:"k"`
	WindowSeconds int64 `json:"window_seconds"`
}

type TopKTrendingResponse struct {
	Hashtags []corewindow.KeyScore `json:"hashtags"`
}

type PostRateRequest struct {
	Hashtag       string `json:"hashtag"`
	WindowSeconds int64  `json:"window_seconds"`
}

type PostRateResponse struct {
	PostsPerSecond float64 `json:"posts_per_second"`
}

// RecordPost records that hashtag was posted at ts.
//
//encore:api public method=POST path=/trending/post
func RecordPost(ctx context.Context, req *RecordPostRequest) (*RecordPostResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.RecordPost(ctx, req)
}

func (s *Service) RecordPost(ctx context.Context, req *RecordPostRequest) (*RecordPostResponse, error) {
	if req.Hashtag == "" {
		return nil, errors.New("hashtag cannot be empty")
	}
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("trending: ingestion rate limit exceeded")
	}

	accepted := s.facade.RecordApprox(req.Hashtag, req.Timestamp, 1, req.IdempotencyKey)
	if !accepted {
		return &RecordPostResponse{Accepted: false}, nil
	}

	score := float64(s.facade.CountTotalApprox(req.Hashtag))
	s.facade.UpdateTopK(req.Hashtag, score)
	s.maybePublishShift(ctx, score)

	return &RecordPostResponse{Accepted: true}, nil
}

// maybePublishShift checks whether the current top-1 hashtag differs from
// the last one this instance observed, and if so publishes a
// TrendingShiftEvent, mirroring cache-manager/subscriptions.go's
// publish-after-mutation shape.
func (s *Service) maybePublishShift(ctx context.Context, score float64) {
	top := s.facade.TopK(1)
	if len(top) == 0 {
		return
	}

	s.mu.Lock()
	previous := s.topHashtag
	changed := top[0].Key != previous
	if changed {
		s.topHashtag = top[0].Key
	}
	s.mu.Unlock()

	if !changed {
		return
	}

	event := &epubsub.TrendingShiftEvent{
		Version:     epubsub.EventVersion1,
		NewTop:      top[0].Key,
		PreviousTop: previous,
		Score:       top[0].Score,
		ShiftedAt:   time.Now(),
		RequestID:   uuid.New().String(),
	}
	_, _ = monitoring.TrendingShiftTopic.Publish(ctx, event)
}

// TopKTrending returns the top k hashtags by post count over the trailing
// window_seconds, rescoring the tracked candidate set from the Count-Min
// Sketch rather than trusting the globally-tracked score, the same
// recompute-from-the-sketch shape as the original's
// get_top_k_trending_approximate.
//
//encore:api public method=GET path=/trending/top
func TopKTrending(ctx context.Context, req *TopKTrendingRequest) (*TopKTrendingResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.TopKTrending(req)
}

func (s *Service) TopKTrending(req *TopKTrendingRequest) (*TopKTrendingResponse, error) {
	if req.K <= 0 {
		return nil, errors.New("k must be positive")
	}

	candidates := s.facade.TopK(s.facade.Config().TopKCapacity)
	rescored := make([]corewindow.KeyScore, 0, len(candidates))
	for _, c := range candidates {
		rescored = append(rescored, corewindow.KeyScore{
			Key:   c.Key,
			Score: float64(s.facade.CountWindowApprox(c.Key, req.WindowSeconds)),
		})
	}
	sort.Slice(rescored, func(i, j int) bool { return rescored[i].Score > rescored[j].Score })
	if req.K < len(rescored) {
		rescored = rescored[:req.K]
	}

	return &TopKTrendingResponse{Hashtags: rescored}, nil
}

// PostRate returns the approximate posts-per-second rate for hashtag over
// the trailing window_seconds.
//
//encore:api public method=GET path=/trending/rate
func PostRate(ctx context.Context, req *PostRateRequest) (*PostRateResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.PostRate(req)
}

func (s *Service) PostRate(req *PostRateRequest) (*PostRateResponse, error) {
	if req.Hashtag == "" {
		return nil, errors.New("hashtag cannot be empty")
	}
	if req.WindowSeconds <= 0 {
		return nil, errors.New("window_seconds must be positive")
	}

	count := s.facade.CountWindowApprox(req.Hashtag, req.WindowSeconds)
	perSecond := float64(count) / float64(req.WindowSeconds)
	rounded := float64(int64(perSecond*1000+0.5)) / 1000

	return &PostRateResponse{PostsPerSecond: rounded}, nil
}
