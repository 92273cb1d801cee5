// Package carpark tracks per-lot occupancy from enter/exit events and
// reconstructs rolling occupancy rate from ring-buffer deltas rather
// than storing a timestamped occupancy history.
//
// Design Philosophy:
// - Current occupancy must be exact (a lot is either over capacity or
//   it isn't), so each lot keeps a small live set of car IDs guarded by
//   its own mutex, not an approximate sketch.
// - Occupancy rate over a trailing window is reconstructed by walking
//   the enter/exit rings backward bucket-by-bucket from the current
//   occupancy, rather than keeping a rolling history of occupancy
//   snapshots, so memory stays bounded by bucket count rather than
//   event count.
package carpark

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

type lotState struct {
	mu        sync.Mutex
	capacity  int
	occupants map[string]struct{}
}

//encore:service
type Service struct {
	facade  *corewindow.Facade
	limiter *rate.Limiter

	defaultCapacity int
	maxDelay        int64

	lots sync.Map // lotID -> *lotState
}

type Config struct {
	Window          corewindow.Config
	DefaultCapacity int
	MaxDelaySeconds int64
	IngestRPS       float64
	IngestBurst     int
}

func DefaultConfig() Config {
	return Config{
		Window:          corewindow.DefaultConfig(),
		DefaultCapacity: 1000,
		MaxDelaySeconds: 30,
		IngestRPS:       10000,
		IngestBurst:     20000,
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
			facade:          facade,
			limiter:         rate.NewLimiter(rate.Limit(cfg.IngestRPS), cfg.IngestBurst),
			defaultCapacity: cfg.DefaultCapacity,
			maxDelay:        cfg.MaxDelaySeconds,
		}
		facade.SetScanHook(s.onScan)
		facade.StartHousekeeping(time.Duration(cfg.Window.BucketSize) * time.Second)

		svc = s
	})
	return svc, err
}

func (s *Service) onScan(evicted int, latency time.Duration) {
	cfg := s.facade.Config()
	bucketsPerRing := int(cfg.WindowSeconds/cfg.BucketSize) + 1
	fp := models.NewFacadeFootprint("carpark", uint(cfg.CMSDepth), uint(cfg.CMSWidth), cfg.HLLPrecision, cfg.TopKCapacity, bucketsPerRing, s.facade.ActiveRingCount())

	event := &epubsub.WindowScanEvent{
		Version:        epubsub.EventVersion1,
		Facade:         "carpark",
		EvictedBuckets: evicted,
		ScanLatency:    latency,
		ScannedAt:      time.Now(),
		Meta:           map[string]string{"footprint_bytes": strconv.FormatInt(fp.TotalBytes, 10)},
		RequestID:      uuid.New().String(),
	}
	_, _ = invalidation.WindowScanTopic.Publish(context.Background(), event)
}

func (s *Service) getOrCreateLot(lotID string) *lotState {
	if existing, ok := s.lots.Load(lotID); ok {
		return existing.(*lotState)
	}
	fresh := &lotState{capacity: s.defaultCapacity, occupants: make(map[string]struct{})}
	actual, _ := s.lots.LoadOrStore(lotID, fresh)
	return actual.(*lotState)
}

func enterKey(lotID string) string { return "enter:" + lotID }
func exitKey(lotID string) string  { return "exit:" + lotID }

type RecordEventRequest struct {
	LotID          string `json:"lot_id"`
	CarID          string `json:"car_id"`
	Kind           string `json:"kind"` // "enter" or "exit"
	Timestamp      int64  `json:"timestamp"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
type RecordEventResponse struct {
	Accepted bool `json:"accepted"`
}

//encore:api public method=POST path=/carpark/event
func RecordEvent(ctx context.Context, req *RecordEventRequest) (*RecordEventResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.RecordEvent(req)
}

// RecordEvent applies an enter or exit, rejecting a redundant enter (car
// already inside, or lot at capacity) or exit (car not inside), mirroring
// the original's _record_occupancy guard.
func (s *Service) RecordEvent(req *RecordEventRequest) (*RecordEventResponse, error) {
	if req.LotID == "" || req.CarID == "" {
		return nil, errors.New("lot_id and car_id cannot be empty")
	}
	if req.Kind != "enter" && req.Kind != "exit" {
		return nil, fmt.Errorf("carpark: unknown event kind %q", req.Kind)
	}
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("carpark: ingestion rate limit exceeded")
	}
	if !s.facade.AcceptEvent(req.Timestamp, req.IdempotencyKey) {
		return &RecordEventResponse{Accepted: false}, nil
	}

	lot := s.getOrCreateLot(req.LotID)

	lot.mu.Lock()
	_, present := lot.occupants[req.CarID]
	var applied bool
	switch req.Kind {
	case "enter":
		if !present && len(lot.occupants) < lot.capacity {
			lot.occupants[req.CarID] = struct{}{}
			applied = true
		}
	case "exit":
		if present {
			delete(lot.occupants, req.CarID)
			applied = true
		}
	}
	lot.mu.Unlock()

	if !applied {
		return &RecordEventResponse{Accepted: false}, nil
	}

	if req.Kind == "enter" {
		s.facade.RingFor(enterKey(req.LotID)).Add(req.Timestamp, 1)
	} else {
		s.facade.RingFor(exitKey(req.LotID)).Add(req.Timestamp, 1)
	}

	return &RecordEventResponse{Accepted: true}, nil
}

type CurrentOccupancyRequest struct {
	LotID string `json:"lot_id"`
}
type CurrentOccupancyResponse struct {
	Occupancy int `json:"occupancy"`
}

//encore:api public method=GET path=/carpark/occupancy
func CurrentOccupancy(ctx context.Context, req *CurrentOccupancyRequest) (*CurrentOccupancyResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.CurrentOccupancy(req)
}

func (s *Service) CurrentOccupancy(req *CurrentOccupancyRequest) (*CurrentOccupancyResponse, error) {
	existing, ok := s.lots.Load(req.LotID)
	if !ok {
		return &CurrentOccupancyResponse{Occupancy: 0}, nil
	}
	lot := existing.(*lotState)
	lot.mu.Lock()
	occ := len(lot.occupants)
	lot.mu.Unlock()
	return &CurrentOccupancyResponse{Occupancy: occ}, nil
}

type OccupancyRateRequest struct {
	LotID         string `json:"lot_id"`
	WindowSeconds int64  `json:"window_seconds"`
}
type OccupancyRateResponse struct {
	Rate float64 `json:"rate"`
}

//encore:api public method=GET path=/carpark/occupancy-rate
func OccupancyRate(ctx context.Context, req *OccupancyRateRequest) (*OccupancyRateResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.OccupancyRate(req)
}

// OccupancyRate reconstructs a rolling average occupancy by walking the
// enter/exit rings backward from now, bucket by bucket, peeling off each
// bucket's net change from the running occupancy count — the same
// reconstruction get_occupancy_rate_rb performs, without ever storing an
// occupancy history.
func (s *Service) OccupancyRate(req *OccupancyRateRequest) (*OccupancyRateResponse, error) {
	existing, ok := s.lots.Load(req.LotID)
	if !ok {
		return nil, fmt.Errorf("carpark: unknown lot_id %q", req.LotID)
	}
	lot := existing.(*lotState)

	cfg := s.facade.Config()
	windowSeconds := req.WindowSeconds
	if windowSeconds < cfg.BucketSize {
		windowSeconds = cfg.BucketSize
	}
	if windowSeconds > cfg.WindowSeconds {
		windowSeconds = cfg.WindowSeconds
	}

	now := s.facade.ObservedTime()
	cutoff := now - windowSeconds

	lot.mu.Lock()
	capacity := lot.capacity
	current := int64(len(lot.occupants))
	lot.mu.Unlock()
	if capacity == 0 {
		return &OccupancyRateResponse{Rate: 0}, nil
	}

	enterRing := s.facade.RingFor(enterKey(req.LotID))
	exitRing := s.facade.RingFor(exitKey(req.LotID))

	occupancies := []int64{current}
	prevChange := int64(0)
	for curr := now; curr-cfg.BucketSize >= cutoff; curr -= cfg.BucketSize {
		currChange := int64(enterRing.SumSince(curr)) - int64(exitRing.SumSince(curr))
		diff := currChange - prevChange
		next := occupancies[len(occupancies)-1] - diff
		if next < 0 {
			next = 0
		}
		occupancies = append(occupancies, next)
		prevChange = currChange
	}

	var sum int64
	for _, o := range occupancies {
		sum += o
	}
	rate := float64(sum) / float64(len(occupancies)) / float64(capacity)

	return &OccupancyRateResponse{Rate: rate}, nil
}

type CitywideTrendingLotsRequest struct {
	WindowSeconds int64 `json:"window_seconds"`
	K             int   `json:"k"`
}
type LotChange struct {
	LotID     string  `json:"lot_id"`
	NetChange float64 `json:"net_change"`
}
type CitywideTrendingLotsResponse struct {
	Lots []LotChange `json:"lots"`
}

//encore:api public method=GET path=/carpark/trending
func CitywideTrendingLots(ctx context.Context, req *CitywideTrendingLotsRequest) (*CitywideTrendingLotsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.CitywideTrendingLots(req)
}

// CitywideTrendingLots ranks every known lot by the absolute rate of
// occupancy change over window_seconds, recomputed on demand the same
// way the original's heapq.nlargest pass does, rather than maintained as
// a running top-K: the ranking criterion (signed net change) can't be
// expressed as a monotonically-updated BoundedTopK score.
func (s *Service) CitywideTrendingLots(req *CitywideTrendingLotsRequest) (*CitywideTrendingLotsResponse, error) {
	if req.K <= 0 {
		return nil, errors.New("k must be positive")
	}
	cfg := s.facade.Config()
	windowSeconds := req.WindowSeconds
	if windowSeconds < cfg.BucketSize {
		windowSeconds = cfg.BucketSize
	}
	if windowSeconds > cfg.WindowSeconds {
		windowSeconds = cfg.WindowSeconds
	}
	now := s.facade.ObservedTime()
	cutoff := now - windowSeconds

	var changes []LotChange
	s.lots.Range(func(key, _ any) bool {
		lotID := key.(string)
		enterRing := s.facade.RingFor(enterKey(lotID))
		exitRing := s.facade.RingFor(exitKey(lotID))
		net := int64(enterRing.SumSince(cutoff)) - int64(exitRing.SumSince(cutoff))
		changes = append(changes, LotChange{LotID: lotID, NetChange: float64(net) / float64(windowSeconds)})
		return true
	})

	sort.Slice(changes, func(i, j int) bool {
		return absFloat(changes[i].NetChange) > absFloat(changes[j].NetChange)
	})
	if req.K < len(changes) {
		changes = changes[:req.K]
	}

	return &CitywideTrendingLotsResponse{Lots: changes}, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
