// Package visits tracks approximate unique visitor counts over a
// rolling window, the thinnest of the domain façades: every operation
// maps directly onto the shared RollingHLL, with no exact rings, no
// Count-Min Sketch, and no top-K tracker.
package visits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"encore.app/corewindow"
	"encore.app/invalidation"
	"encore.app/pkg/models"
	epubsub "encore.app/pkg/pubsub"

	"github.com/google/uuid"
)

//encore:service
type Service struct {
	facade  *corewindow.Facade
	limiter *rate.Limiter
}

type Config struct {
	Window      corewindow.Config
	IngestRPS   float64
	IngestBurst int
}

// DefaultConfig widens the window to 7 days at 1-hour buckets, matching
// the original's default RollingHLL sizing for a "last 7 days, arbitrary
// t" query surface.
func DefaultConfig() Config {
	window := corewindow.DefaultConfig()
	window.WindowSeconds = 7 * 24 * 60 * 60
	window.BucketSize = 60 * 60

	return Config{
		Window:      window,
		IngestRPS:   20000,
		IngestBurst: 40000,
	}
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	var err error
	once.Do(func() {
		cfg := DefaultConfig()
		var facade *corewindow.Facade
		facade, err = corewindow.NewFacade(cfg.Window)
		if err != nil {
			return
		}

		s := &Service{
			facade:  facade,
			limiter: rate.NewLimiter(rate.Limit(cfg.IngestRPS), cfg.IngestBurst),
		}
		facade.SetScanHook(s.onScan)
		facade.StartHousekeeping(time.Duration(cfg.Window.BucketSize) * time.Second)

		svc = s
	})
	return svc, err
}

func (s *Service) onScan(evicted int, latency time.Duration) {
	cfg := s.facade.Config()
	fp := models.NewFacadeFootprint("visits", 0, 0, cfg.HLLPrecision, 0, 0, 0)

	event := &epubsub.WindowScanEvent{
		Version:        epubsub.EventVersion1,
		Facade:         "visits",
		EvictedBuckets: evicted,
		ScanLatency:    latency,
		ScannedAt:      time.Now(),
		Meta:           map[string]string{"footprint_bytes": strconv.FormatInt(fp.TotalBytes, 10)},
		RequestID:      uuid.New().String(),
	}
	_, _ = invalidation.WindowScanTopic.Publish(context.Background(), event)
}

type RecordVisitRequest struct {
	UserID         string `json:"user_id"`
	Timestamp      int64  `json:"timestamp"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
type RecordVisitResponse struct {
	Accepted bool `json:"accepted"`
}

//encore:api public method=POST path=/visits/record
func RecordVisit(ctx context.Context, req *RecordVisitRequest) (*RecordVisitResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.RecordVisit(req)
}

func (s *Service) RecordVisit(req *RecordVisitRequest) (*RecordVisitResponse, error) {
	if req.UserID == "" {
		return nil, errors.New("user_id cannot be empty")
	}
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("visits: ingestion rate limit exceeded")
	}

	accepted := s.facade.RecordUnique(req.UserID, req.Timestamp, req.IdempotencyKey)
	return &RecordVisitResponse{Accepted: accepted}, nil
}

type UniqueVisitorsRequest struct {
	WindowSeconds int64 `json:"window_seconds"`
}
type UniqueVisitorsResponse struct {
	Count uint64 `json:"count"`
}

//encore:api public method=GET path=/visits/unique
func UniqueVisitors(ctx context.Context, req *UniqueVisitorsRequest) (*UniqueVisitorsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.UniqueVisitors(req)
}

func (s *Service) UniqueVisitors(req *UniqueVisitorsRequest) (*UniqueVisitorsResponse, error) {
	if req.WindowSeconds <= 0 {
		return nil, errors.New("window_seconds must be positive")
	}
	return &UniqueVisitorsResponse{Count: s.facade.UniqueWindow(req.WindowSeconds)}, nil
}
