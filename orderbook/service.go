// Package orderbook tracks quantity-at-price-level across a rolling
// window for a single instrument.
//
// Design Philosophy:
// - Prices are rounded to a configured tick and tracked as int64 tick
//   counts, never as float64: two floats that should be the same price
//   level must never compare unequal because of representation error.
// - Per-order state (which price level an order currently sits at, and
//   how much quantity) is kept exactly, in a map keyed by order ID under
//   a sync.RWMutex,
//   because order count is bounded by what's actually live — unlike
//   hashtags or visitors, cardinality here is naturally capped.
// - Quantity-at-price-level itself goes through the façade's exact
//   rings so QuantityInRange and rolling window queries reuse the same
//   housekeeping and stale-event policy every other façade gets for
//   free.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"math/big"
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

// order is the per-order-ID record this service keeps exactly. priceTicks
// is the rounded-tick price level the order currently contributes its
// quantity to.
type order struct {
	priceTicks int64
	quantity   uint64
	ts         int64
}

//encore:service
type Service struct {
	facade  *corewindow.Facade
	limiter *rate.Limiter

	tickSize float64 // Minimum price increment; prices round half-up to a multiple of this.

	mu     sync.RWMutex
	orders map[string]*order
}

type Config struct {
	Window      corewindow.Config
	TickSize    float64
	IngestRPS   float64
	IngestBurst int
}

func DefaultConfig() Config {
	return Config{
		Window:      corewindow.DefaultConfig(),
		TickSize:    0.01,
		IngestRPS:   10000,
		IngestBurst: 20000,
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
			facade:   facade,
			limiter:  rate.NewLimiter(rate.Limit(cfg.IngestRPS), cfg.IngestBurst),
			tickSize: cfg.TickSize,
			orders:   make(map[string]*order),
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
	fp := models.NewFacadeFootprint("orderbook", uint(cfg.CMSDepth), uint(cfg.CMSWidth), cfg.HLLPrecision, cfg.TopKCapacity, bucketsPerRing, s.facade.ActiveRingCount())

	event := &epubsub.WindowScanEvent{
		Version:        epubsub.EventVersion1,
		Facade:         "orderbook",
		EvictedBuckets: evicted,
		ScanLatency:    latency,
		ScannedAt:      time.Now(),
		Meta:           map[string]string{"footprint_bytes": strconv.FormatInt(fp.TotalBytes, 10)},
		RequestID:      uuid.New().String(),
	}
	_, _ = invalidation.WindowScanTopic.Publish(context.Background(), event)
}

// roundToTicks rounds price half-up to the nearest multiple of tickSize
// and returns it as an integer tick count, the fixed-point stand-in for
// Decimal quantization in the original's _round_price. The division is
// done exactly on the shortest decimal forms of price and tickSize, so a
// price such as 100.005 lands on the tick above it rather than below.
func (s *Service) roundToTicks(price float64) int64 {
	p, _ := new(big.Rat).SetString(strconv.FormatFloat(price, 'f', -1, 64))
	t, _ := new(big.Rat).SetString(strconv.FormatFloat(s.tickSize, 'f', -1, 64))
	q := new(big.Rat).Quo(p, t)
	q.Add(q, big.NewRat(1, 2))
	return new(big.Int).Div(q.Num(), q.Denom()).Int64()
}

func (s *Service) priceKey(priceTicks int64) string {
	return "price:" + strconv.FormatInt(priceTicks, 10)
}

type RecordOrderRequest struct {
	OrderID        string  `json:"order_id"`
	Price          float64 `json:"price"`
	Quantity       uint64  `json:"quantity"`
	Timestamp      int64   `json:"timestamp"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}
type RecordOrderResponse struct {
	Accepted bool `json:"accepted"`
}

//encore:api public method=POST path=/orderbook/order
func RecordOrder(ctx context.Context, req *RecordOrderRequest) (*RecordOrderResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.RecordOrder(req)
}

// RecordOrder creates order_id if it doesn't exist yet; recording an
// order_id that already exists is treated as an update, per the
// original's record_order contract.
func (s *Service) RecordOrder(req *RecordOrderRequest) (*RecordOrderResponse, error) {
	if req.OrderID == "" {
		return nil, errors.New("order_id cannot be empty")
	}
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("orderbook: ingestion rate limit exceeded")
	}

	s.mu.RLock()
	_, exists := s.orders[req.OrderID]
	s.mu.RUnlock()
	if exists {
		resp, err := s.updateOrder(&UpdateOrderRequest{
			OrderID:        req.OrderID,
			NewPrice:       req.Price,
			NewQuantity:    req.Quantity,
			Timestamp:      req.Timestamp,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return nil, err
		}
		return &RecordOrderResponse{Accepted: resp.Accepted}, nil
	}

	priceTicks := s.roundToTicks(req.Price)
	key := s.priceKey(priceTicks)

	accepted := s.facade.RecordExact(key, req.Timestamp, req.Quantity, req.IdempotencyKey)
	if !accepted {
		return &RecordOrderResponse{Accepted: false}, nil
	}

	s.mu.Lock()
	s.orders[req.OrderID] = &order{priceTicks: priceTicks, quantity: req.Quantity, ts: req.Timestamp}
	s.mu.Unlock()

	s.facade.UpdateTopK(key, float64(s.facade.CountTotalExact(key)))

	return &RecordOrderResponse{Accepted: true}, nil
}

type UpdateOrderRequest struct {
	OrderID        string  `json:"order_id"`
	NewPrice       float64 `json:"new_price"`
	NewQuantity    uint64  `json:"new_quantity"`
	Timestamp      int64   `json:"timestamp"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}
type UpdateOrderResponse struct {
	Accepted bool `json:"accepted"`
}

//encore:api public method=PUT path=/orderbook/order
func UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*UpdateOrderResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.updateOrder(req)
}

// updateOrder moves an order's quantity from its current price level to
// a new one (or adjusts quantity in place if the price is unchanged),
// under both price keys' shard locks at once so no other mutation of
// either level interleaves with the move. Readers take no shard lock and
// may observe the state between the two halves.
func (s *Service) updateOrder(req *UpdateOrderRequest) (*UpdateOrderResponse, error) {
	if req.OrderID == "" {
		return nil, errors.New("order_id cannot be empty")
	}

	s.mu.Lock()
	existing, ok := s.orders[req.OrderID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("orderbook: unknown order_id %q", req.OrderID)
	}
	if req.Timestamp <= existing.ts {
		s.mu.Unlock()
		return &UpdateOrderResponse{Accepted: false}, nil
	}

	oldPriceTicks := existing.priceTicks
	oldQuantity := existing.quantity
	oldTs := existing.ts
	newPriceTicks := s.roundToTicks(req.NewPrice)

	existing.priceTicks = newPriceTicks
	existing.quantity = req.NewQuantity
	existing.ts = req.Timestamp
	s.mu.Unlock()

	oldKey := s.priceKey(oldPriceTicks)
	newKey := s.priceKey(newPriceTicks)

	unlock := s.facade.ShardLocks().LockTwo(oldKey, newKey)
	s.facade.RingFor(oldKey).Sub(oldTs, oldQuantity)
	s.facade.RingFor(newKey).Add(req.Timestamp, req.NewQuantity)
	unlock()

	s.facade.UpdateTopK(oldKey, float64(s.facade.CountTotalExact(oldKey)))
	s.facade.UpdateTopK(newKey, float64(s.facade.CountTotalExact(newKey)))

	return &UpdateOrderResponse{Accepted: true}, nil
}

type CancelOrderRequest struct {
	Timestamp      int64  `json:"timestamp"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
type CancelOrderResponse struct {
	Accepted bool `json:"accepted"`
}

//encore:api public method=DELETE path=/orderbook/order/:orderID
func CancelOrder(ctx context.Context, orderID string, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.CancelOrder(orderID, req)
}

func (s *Service) CancelOrder(orderID string, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	s.mu.Lock()
	existing, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return &CancelOrderResponse{Accepted: false}, nil
	}
	delete(s.orders, orderID)
	s.mu.Unlock()

	key := s.priceKey(existing.priceTicks)
	accepted := s.facade.RetractExact(key, req.Timestamp, existing.quantity, req.IdempotencyKey)
	s.facade.UpdateTopK(key, float64(s.facade.CountTotalExact(key)))

	return &CancelOrderResponse{Accepted: accepted}, nil
}

type QuantityAtPriceRequest struct {
	Price         float64 `json:"price"`
	WindowSeconds int64   `json:"window_seconds"`
}
type QuantityAtPriceResponse struct {
	Quantity uint64 `json:"quantity"`
}

//encore:api public method=GET path=/orderbook/quantity
func QuantityAtPrice(ctx context.Context, req *QuantityAtPriceRequest) (*QuantityAtPriceResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.QuantityAtPrice(req)
}

func (s *Service) QuantityAtPrice(req *QuantityAtPriceRequest) (*QuantityAtPriceResponse, error) {
	key := s.priceKey(s.roundToTicks(req.Price))
	var qty uint64
	if req.WindowSeconds > 0 {
		qty = s.facade.CountWindowExact(key, req.WindowSeconds)
	} else {
		qty = s.facade.CountTotalExact(key)
	}
	return &QuantityAtPriceResponse{Quantity: qty}, nil
}

type QuantityInRangeRequest struct {
	Low           float64 `json:"low"`
	High          float64 `json:"high"`
	WindowSeconds int64   `json:"window_seconds"`
}
type QuantityInRangeResponse struct {
	Quantity uint64 `json:"quantity"`
}

//encore:api public method=GET path=/orderbook/quantity-range
func QuantityInRange(ctx context.Context, req *QuantityInRangeRequest) (*QuantityInRangeResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.QuantityInRange(req)
}

// QuantityInRange sums every tracked price level whose rounded tick
// falls within [low, high]. Price levels are discovered from the live
// order set rather than enumerated across the full tick range, since
// the tick range is unbounded but the set of levels with an open order
// is not.
func (s *Service) QuantityInRange(req *QuantityInRangeRequest) (*QuantityInRangeResponse, error) {
	if req.Low > req.High {
		return nil, errors.New("low must not exceed high")
	}
	lowTicks := s.roundToTicks(req.Low)
	highTicks := s.roundToTicks(req.High)

	seen := make(map[int64]struct{})
	s.mu.RLock()
	for _, o := range s.orders {
		if o.priceTicks >= lowTicks && o.priceTicks <= highTicks {
			seen[o.priceTicks] = struct{}{}
		}
	}
	s.mu.RUnlock()

	var total uint64
	for ticks := range seen {
		key := s.priceKey(ticks)
		if req.WindowSeconds > 0 {
			total += s.facade.CountWindowExact(key, req.WindowSeconds)
		} else {
			total += s.facade.CountTotalExact(key)
		}
	}
	return &QuantityInRangeResponse{Quantity: total}, nil
}

type TopKPriceLevelsRequest struct {
	K int `json:"k"`
}
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}
type TopKPriceLevelsResponse struct {
	Levels []PriceLevel `json:"levels"`
}

//encore:api public method=GET path=/orderbook/top-levels
func TopKPriceLevels(ctx context.Context, req *TopKPriceLevelsRequest) (*TopKPriceLevelsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.TopKPriceLevels(req)
}

func (s *Service) TopKPriceLevels(req *TopKPriceLevelsRequest) (*TopKPriceLevelsResponse, error) {
	if req.K <= 0 {
		return nil, errors.New("k must be positive")
	}

	top := s.facade.TopK(req.K)
	levels := make([]PriceLevel, 0, len(top))
	for _, ks := range top {
		ticks, err := strconv.ParseInt(ks.Key[len("price:"):], 10, 64)
		if err != nil {
			continue
		}
		levels = append(levels, PriceLevel{Price: float64(ticks) * s.tickSize, Quantity: ks.Score})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Quantity > levels[j].Quantity })

	return &TopKPriceLevelsResponse{Levels: levels}, nil
}
