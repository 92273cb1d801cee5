// Package warehouse tracks per-item, per-warehouse stock levels and
// stock-movement activity, without relying on time windows: inventory
// counts must never age out the way a trending hashtag's count does.
//
// Design Philosophy:
// - Stock itself bypasses corewindow's RingBuffer entirely (that
//   primitive is windowed by construction) and instead lives in a flat
//   key-value map keyed by "item:warehouse", guarded by the same
//   ShardedLockMap the façade already builds for exact-count keys, so
//   a transfer between two warehouses still gets the canonical
//   two-key locking the rest of this codebase uses for compound
//   mutations.
// - "Most transferred items" and "most active warehouses" are two
//   independent rankings over two different key spaces, so they need
//   two independent BoundedTopK trackers rather than the one a
//   corewindow.Facade exposes.
// - The audit log is a small fixed-capacity ring per item, the
//   in-memory analogue of the teacher's container/list-backed LRU:
//   bounded by count, not by time.
package warehouse

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
	"encore.app/monitoring"
	"encore.app/pkg/models"
	epubsub "encore.app/pkg/pubsub"

	"github.com/google/uuid"
)

type auditEntry struct {
	Timestamp   int64
	Operation   string
	WarehouseID string
	OtherID     string // populated for transfers; the counterpart warehouse
	Quantity    uint64
}

// auditRing is a fixed-capacity circular buffer of the most recent
// operations for one item, the bounded-memory analogue of
// cache-manager/cache.go's container/list-based LRU but indexed by slot
// rather than by recency pointer, since entries are never looked up by
// key, only appended and walked most-recent-first.
type auditRing struct {
	mu       sync.Mutex
	entries  []auditEntry
	capacity int
	next     int
	filled   bool
}

func newAuditRing(capacity int) *auditRing {
	return &auditRing{entries: make([]auditEntry, capacity), capacity: capacity}
}

func (r *auditRing) append(e auditEntry) {
	if r.capacity == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.filled = true
	}
}

// recent returns up to limit entries, most recent first.
func (r *auditRing) recent(limit int) []auditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.filled {
		n = r.capacity
	}
	if limit > n {
		limit = n
	}
	out := make([]auditEntry, 0, limit)
	idx := r.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + r.capacity) % r.capacity
		out = append(out, r.entries[idx])
	}
	return out
}

// itemState holds everything tracked per item: its stock per warehouse
// and its audit trail. One mutex covers the warehouse-quantity map
// (not the quantities themselves, which still go through the façade's
// shard locks for cross-item-state-free updates) so StockDistribution
// sees a consistent set of warehouse keys.
type itemState struct {
	mu         sync.Mutex
	warehouses map[string]struct{}
	audit      *auditRing
}

//encore:service
type Service struct {
	facade  *corewindow.Facade
	limiter *rate.Limiter

	stock sync.Map // "item:warehouse" -> uint64
	items sync.Map // item -> *itemState

	transferredItems *corewindow.BoundedTopK
	activeWarehouses *corewindow.BoundedTopK
	auditCapacity    int
}

type Config struct {
	Window       corewindow.Config
	TopKCapacity int
	IngestRPS    float64
	IngestBurst  int
}

// DefaultConfig sizes the embedded corewindow.Facade down to the
// smallest valid sketches: warehouse only borrows the façade for its
// ShardedLockMap, dedup cache, and housekeeping ticker, never its
// RollingCMS/RollingHLL/BoundedTopK (stock is unbounded in time by
// design, so it never goes through a RingBuffer), so there is no reason
// to pay for a full-size sketch nothing will ever query.
func DefaultConfig() Config {
	window := corewindow.DefaultConfig()
	window.CMSDepth = 1
	window.CMSWidth = 1
	window.HLLPrecision = 4
	window.TopKCapacity = 1

	return Config{
		Window:       window,
		TopKCapacity: 100,
		IngestRPS:    10000,
		IngestBurst:  20000,
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
			facade:           facade,
			limiter:          rate.NewLimiter(rate.Limit(cfg.IngestRPS), cfg.IngestBurst),
			transferredItems: corewindow.NewBoundedTopK(cfg.TopKCapacity),
			activeWarehouses: corewindow.NewBoundedTopK(cfg.TopKCapacity),
			auditCapacity:    cfg.Window.AuditCapacity,
		}
		facade.SetScanHook(s.onScan)
		facade.StartHousekeeping(time.Duration(cfg.Window.BucketSize) * time.Second)

		svc = s
	})
	return svc, err
}

// onScan reports memory footprint in terms of warehouse's own two
// BoundedTopK trackers rather than the façade's internal (unused) CMS
// and HLL, since those are sized down to a placeholder minimum and
// would understate nothing meaningful if reported.
func (s *Service) onScan(evicted int, latency time.Duration) {
	fp := models.NewFacadeFootprint("warehouse", 0, 0, 0, s.transferredItems.Len()+s.activeWarehouses.Len(), 0, 0)

	event := &epubsub.WindowScanEvent{
		Version:        epubsub.EventVersion1,
		Facade:         "warehouse",
		EvictedBuckets: evicted,
		ScanLatency:    latency,
		ScannedAt:      time.Now(),
		Meta:           map[string]string{"footprint_bytes": strconv.FormatInt(fp.TotalBytes, 10)},
		RequestID:      uuid.New().String(),
	}
	_, _ = invalidation.WindowScanTopic.Publish(context.Background(), event)
}

func stockKey(item, warehouse string) string { return item + ":" + warehouse }

// dedupKey returns the caller-supplied idempotency key if present,
// otherwise derives a canonical one from the operation's natural
// (operation, item, warehouse, timestamp) tuple, so two calls describing
// the same stock movement at the same instant collapse into one even
// when the caller never set idempotency_key explicitly.
func dedupKey(explicit, operation, item, warehouse string, ts int64) string {
	if explicit != "" {
		return explicit
	}
	return operation + ":" + item + ":" + warehouse + ":" + strconv.FormatInt(ts, 10)
}

func (s *Service) getOrCreateItem(item string) *itemState {
	if existing, ok := s.items.Load(item); ok {
		return existing.(*itemState)
	}
	fresh := &itemState{warehouses: make(map[string]struct{}), audit: newAuditRing(s.auditCapacity)}
	actual, _ := s.items.LoadOrStore(item, fresh)
	return actual.(*itemState)
}

func (s *Service) loadStock(item, warehouse string) uint64 {
	if v, ok := s.stock.Load(stockKey(item, warehouse)); ok {
		return v.(uint64)
	}
	return 0
}

func (s *Service) registerWarehouse(item, warehouse string) {
	st := s.getOrCreateItem(item)
	st.mu.Lock()
	st.warehouses[warehouse] = struct{}{}
	st.mu.Unlock()
}

type AddStockRequest struct {
	ItemID         string `json:"item_id"`
	WarehouseID    string `json:"warehouse_id"`
	Quantity       uint64 `json:"quantity"`
	Timestamp      int64  `json:"timestamp"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
type AddStockResponse struct {
	Accepted bool `json:"accepted"`
}

//encore:api public method=POST path=/warehouse/stock/add
func AddStock(ctx context.Context, req *AddStockRequest) (*AddStockResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.AddStock(req)
}

func (s *Service) AddStock(req *AddStockRequest) (*AddStockResponse, error) {
	if req.ItemID == "" || req.WarehouseID == "" {
		return nil, errors.New("item_id and warehouse_id cannot be empty")
	}
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("warehouse: ingestion rate limit exceeded")
	}
	if !s.facade.AcceptEvent(req.Timestamp, dedupKey(req.IdempotencyKey, "add", req.ItemID, req.WarehouseID, req.Timestamp)) {
		return &AddStockResponse{Accepted: false}, nil
	}

	key := stockKey(req.ItemID, req.WarehouseID)
	s.facade.ShardLocks().WithLock(key, func() {
		s.stock.Store(key, s.loadStock(req.ItemID, req.WarehouseID)+req.Quantity)
	})
	s.registerWarehouse(req.ItemID, req.WarehouseID)

	item := s.getOrCreateItem(req.ItemID)
	item.audit.append(auditEntry{Timestamp: req.Timestamp, Operation: "add", WarehouseID: req.WarehouseID, Quantity: req.Quantity})

	s.activeWarehouses.Offer(req.WarehouseID, s.warehouseActivityScore(req.WarehouseID)+float64(req.Quantity))

	return &AddStockResponse{Accepted: true}, nil
}

type RemoveStockRequest struct {
	ItemID         string `json:"item_id"`
	WarehouseID    string `json:"warehouse_id"`
	Quantity       uint64 `json:"quantity"`
	Timestamp      int64  `json:"timestamp"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
type RemoveStockResponse struct {
	Accepted bool `json:"accepted"`
}

//encore:api public method=POST path=/warehouse/stock/remove
func RemoveStock(ctx context.Context, req *RemoveStockRequest) (*RemoveStockResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.RemoveStock(req)
}

// RemoveStock rolls back (does nothing) and returns false if the
// resulting stock would go negative, matching the original contract.
func (s *Service) RemoveStock(req *RemoveStockRequest) (*RemoveStockResponse, error) {
	if req.ItemID == "" || req.WarehouseID == "" {
		return nil, errors.New("item_id and warehouse_id cannot be empty")
	}
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("warehouse: ingestion rate limit exceeded")
	}
	if !s.facade.AcceptEvent(req.Timestamp, dedupKey(req.IdempotencyKey, "remove", req.ItemID, req.WarehouseID, req.Timestamp)) {
		return &RemoveStockResponse{Accepted: false}, nil
	}

	key := stockKey(req.ItemID, req.WarehouseID)
	ok := false
	s.facade.ShardLocks().WithLock(key, func() {
		current := s.loadStock(req.ItemID, req.WarehouseID)
		if current < req.Quantity {
			return
		}
		s.stock.Store(key, current-req.Quantity)
		ok = true
	})
	if !ok {
		return &RemoveStockResponse{Accepted: false}, nil
	}

	item := s.getOrCreateItem(req.ItemID)
	item.audit.append(auditEntry{Timestamp: req.Timestamp, Operation: "remove", WarehouseID: req.WarehouseID, Quantity: req.Quantity})
	s.activeWarehouses.Offer(req.WarehouseID, s.warehouseActivityScore(req.WarehouseID)+float64(req.Quantity))

	return &RemoveStockResponse{Accepted: true}, nil
}

type TransferStockRequest struct {
	ItemID         string `json:"item_id"`
	FromWarehouse  string `json:"from_warehouse"`
	ToWarehouse    string `json:"to_warehouse"`
	Quantity       uint64 `json:"quantity"`
	Timestamp      int64  `json:"timestamp"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
type TransferStockResponse struct {
	Accepted bool `json:"accepted"`
}

//encore:api public method=POST path=/warehouse/stock/transfer
func TransferStock(ctx context.Context, req *TransferStockRequest) (*TransferStockResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.TransferStock(ctx, req)
}

// TransferStock moves quantity from one warehouse to another atomically:
// both the source-decrement and destination-increment happen under one
// acquisition of both warehouses' stripes (in canonical order, so a
// concurrent transfer in the opposite direction can never deadlock). The
// source stock is checked first; if it is short, neither side is written.
func (s *Service) TransferStock(ctx context.Context, req *TransferStockRequest) (*TransferStockResponse, error) {
	if req.ItemID == "" || req.FromWarehouse == "" || req.ToWarehouse == "" {
		return nil, errors.New("item_id, from_warehouse, and to_warehouse cannot be empty")
	}
	if req.FromWarehouse == req.ToWarehouse {
		return nil, errors.New("from_warehouse and to_warehouse must differ")
	}
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("warehouse: ingestion rate limit exceeded")
	}
	transferKey := req.FromWarehouse + "->" + req.ToWarehouse
	if !s.facade.AcceptEvent(req.Timestamp, dedupKey(req.IdempotencyKey, "transfer", req.ItemID, transferKey, req.Timestamp)) {
		return &TransferStockResponse{Accepted: false}, nil
	}

	fromKey := stockKey(req.ItemID, req.FromWarehouse)
	toKey := stockKey(req.ItemID, req.ToWarehouse)

	ok := false
	unlock := s.facade.ShardLocks().LockTwo(fromKey, toKey)
	current := s.loadStock(req.ItemID, req.FromWarehouse)
	if current >= req.Quantity {
		s.stock.Store(fromKey, current-req.Quantity)
		s.stock.Store(toKey, s.loadStock(req.ItemID, req.ToWarehouse)+req.Quantity)
		ok = true
	}
	unlock()

	if !ok {
		return &TransferStockResponse{Accepted: false}, nil
	}

	s.registerWarehouse(req.ItemID, req.ToWarehouse)

	item := s.getOrCreateItem(req.ItemID)
	item.audit.append(auditEntry{
		Timestamp:   req.Timestamp,
		Operation:   "transfer",
		WarehouseID: req.FromWarehouse,
		OtherID:     req.ToWarehouse,
		Quantity:    req.Quantity,
	})

	s.transferredItems.Offer(req.ItemID, s.transferredScore(req.ItemID)+float64(req.Quantity))
	s.activeWarehouses.Offer(req.FromWarehouse, s.warehouseActivityScore(req.FromWarehouse)+float64(req.Quantity))
	s.activeWarehouses.Offer(req.ToWarehouse, s.warehouseActivityScore(req.ToWarehouse)+float64(req.Quantity))

	event := &epubsub.StockMovedEvent{
		Version:       epubsub.EventVersion1,
		Item:          req.ItemID,
		FromWarehouse: req.FromWarehouse,
		ToWarehouse:   req.ToWarehouse,
		Quantity:      req.Quantity,
		MovedAt:       time.Now(),
		RequestID:     uuid.New().String(),
	}
	_, _ = monitoring.StockMovedTopic.Publish(ctx, event)

	return &TransferStockResponse{Accepted: true}, nil
}

// warehouseActivityScore returns the warehouse's currently-tracked
// movement score, or 0 if it isn't tracked yet — BoundedTopK.Offer
// always wants the new total, not a delta.
func (s *Service) warehouseActivityScore(warehouseID string) float64 {
	score, _ := s.activeWarehouses.Score(warehouseID)
	return score
}

func (s *Service) transferredScore(itemID string) float64 {
	score, _ := s.transferredItems.Score(itemID)
	return score
}

type GlobalStockRequest struct {
	ItemID string `json:"item_id"`
}
type GlobalStockResponse struct {
	Quantity uint64 `json:"quantity"`
}

//encore:api public method=GET path=/warehouse/stock/global
func GlobalStock(ctx context.Context, req *GlobalStockRequest) (*GlobalStockResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GlobalStock(req)
}

func (s *Service) GlobalStock(req *GlobalStockRequest) (*GlobalStockResponse, error) {
	existing, ok := s.items.Load(req.ItemID)
	if !ok {
		return &GlobalStockResponse{Quantity: 0}, nil
	}
	item := existing.(*itemState)

	item.mu.Lock()
	warehouses := make([]string, 0, len(item.warehouses))
	for w := range item.warehouses {
		warehouses = append(warehouses, w)
	}
	item.mu.Unlock()

	var total uint64
	for _, w := range warehouses {
		total += s.loadStock(req.ItemID, w)
	}
	return &GlobalStockResponse{Quantity: total}, nil
}

type WarehouseStockRequest struct {
	ItemID      string `json:"item_id"`
	WarehouseID string `json:"warehouse_id"`
}
type WarehouseStockResponse struct {
	Quantity uint64 `json:"quantity"`
}

//encore:api public method=GET path=/warehouse/stock
func WarehouseStock(ctx context.Context, req *WarehouseStockRequest) (*WarehouseStockResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.WarehouseStock(req)
}

func (s *Service) WarehouseStock(req *WarehouseStockRequest) (*WarehouseStockResponse, error) {
	return &WarehouseStockResponse{Quantity: s.loadStock(req.ItemID, req.WarehouseID)}, nil
}

type TopKRequest struct {
	K int `json:"k"`
}
type TopKResponse struct {
	Items []corewindow.KeyScore `json:"items"`
}

//encore:api public method=GET path=/warehouse/top-transferred
func MostTransferredItems(ctx context.Context, req *TopKRequest) (*TopKResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	if req.K <= 0 {
		return nil, errors.New("k must be positive")
	}
	return &TopKResponse{Items: svc.transferredItems.Top(req.K)}, nil
}

//encore:api public method=GET path=/warehouse/top-active
func MostActiveWarehouses(ctx context.Context, req *TopKRequest) (*TopKResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	if req.K <= 0 {
		return nil, errors.New("k must be positive")
	}
	return &TopKResponse{Items: svc.activeWarehouses.Top(req.K)}, nil
}

type StockDistributionRequest struct {
	ItemID string `json:"item_id"`
}
type StockDistributionResponse struct {
	Distribution map[string]uint64 `json:"distribution"`
}

//encore:api public method=GET path=/warehouse/distribution
func StockDistribution(ctx context.Context, req *StockDistributionRequest) (*StockDistributionResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.StockDistribution(req)
}

func (s *Service) StockDistribution(req *StockDistributionRequest) (*StockDistributionResponse, error) {
	existing, ok := s.items.Load(req.ItemID)
	if !ok {
		return &StockDistributionResponse{Distribution: map[string]uint64{}}, nil
	}
	item := existing.(*itemState)

	item.mu.Lock()
	warehouses := make([]string, 0, len(item.warehouses))
	for w := range item.warehouses {
		warehouses = append(warehouses, w)
	}
	item.mu.Unlock()

	dist := make(map[string]uint64, len(warehouses))
	for _, w := range warehouses {
		dist[w] = s.loadStock(req.ItemID, w)
	}
	return &StockDistributionResponse{Distribution: dist}, nil
}

type AuditLogRequest struct {
	ItemID string `json:"item_id"`
	Limit  int    `json:"limit"`
}
type AuditLogEntry struct {
	Timestamp   int64  `json:"timestamp"`
	Operation   string `json:"operation"`
	WarehouseID string `json:"warehouse_id"`
	OtherID     string `json:"other_id,omitempty"`
	Quantity    uint64 `json:"quantity"`
}
type AuditLogResponse struct {
	Entries []AuditLogEntry `json:"entries"`
}

//encore:api public method=GET path=/warehouse/audit
func AuditLog(ctx context.Context, req *AuditLogRequest) (*AuditLogResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.AuditLog(req)
}

func (s *Service) AuditLog(req *AuditLogRequest) (*AuditLogResponse, error) {
	existing, ok := s.items.Load(req.ItemID)
	if !ok {
		return &AuditLogResponse{Entries: nil}, nil
	}
	item := existing.(*itemState)

	raw := item.audit.recent(req.Limit)
	entries := make([]AuditLogEntry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, AuditLogEntry{
			Timestamp:   e.Timestamp,
			Operation:   e.Operation,
			WarehouseID: e.WarehouseID,
			OtherID:     e.OtherID,
			Quantity:    e.Quantity,
		})
	}
	return &AuditLogResponse{Entries: entries}, nil
}
