package orderbook

import (
	"testing"

	"golang.org/x/time/rate"

	"encore.app/corewindow"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	facade, err := corewindow.NewFacade(corewindow.Config{
		WindowSeconds:      3600,
		BucketSize:         10,
		CMSDepth:           4,
		CMSWidth:           256,
		HLLPrecision:       10,
		TopKCapacity:       5,
		NumStripes:         8,
		MaxLatenessSeconds: 3600,
		DedupCacheSize:     100,
		AuditCapacity:      0,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Service{
		facade:   facade,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		tickSize: 0.01,
		orders:   make(map[string]*order),
	}
}

func TestService_RecordOrder_TracksQuantityAtPrice(t *testing.T) {
	s := newTestService(t)

	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 100.00, Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o2", Price: 99.995, Quantity: 5, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	resp, err := s.QuantityAtPrice(&QuantityAtPriceRequest{Price: 100.00})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Quantity != 15 {
		t.Errorf("expected 15 (99.995 rounds half-up to the 100.00 tick), got %d", resp.Quantity)
	}
}

func TestService_RecordOrder_DuplicateIDIsUpdate(t *testing.T) {
	s := newTestService(t)

	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 100.00, Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 101.00, Quantity: 20, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	oldResp, err := s.QuantityAtPrice(&QuantityAtPriceRequest{Price: 100.00})
	if err != nil {
		t.Fatal(err)
	}
	if oldResp.Quantity != 0 {
		t.Errorf("expected old price level to be empty after the move, got %d", oldResp.Quantity)
	}

	newResp, err := s.QuantityAtPrice(&QuantityAtPriceRequest{Price: 101.00})
	if err != nil {
		t.Fatal(err)
	}
	if newResp.Quantity != 20 {
		t.Errorf("expected 20 at the new price level, got %d", newResp.Quantity)
	}
}

func TestService_RecordOrder_UpdateAcrossEraBoundaryRetractsOldLevel(t *testing.T) {
	s := newTestService(t)

	// BucketSize is 10; ts=1 and ts=130 fall in different eras, so the
	// retraction on update must use the order's original timestamp, not
	// the new one, to land in the bucket that actually holds its quantity.
	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 100.50, Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o2", Price: 100.50, Quantity: 10, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 101.00, Quantity: 10, Timestamp: 130}); err != nil {
		t.Fatal(err)
	}

	resp, err := s.QuantityAtPrice(&QuantityAtPriceRequest{Price: 100.50})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Quantity != 10 {
		t.Errorf("expected o1's era-0 contribution to be retracted, leaving only o2's 10, got %d", resp.Quantity)
	}
}

func TestService_UpdateOrder_RejectsOutOfOrderTimestamp(t *testing.T) {
	s := newTestService(t)

	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 100.00, Quantity: 10, Timestamp: 10}); err != nil {
		t.Fatal(err)
	}
	resp, err := s.updateOrder(&UpdateOrderRequest{OrderID: "o1", NewPrice: 105.00, NewQuantity: 50, Timestamp: 5})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Accepted {
		t.Error("expected an earlier timestamp than the order's current one to be rejected")
	}
}

func TestService_CancelOrder_RemovesQuantity(t *testing.T) {
	s := newTestService(t)

	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 100.00, Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	resp, err := s.CancelOrder("o1", &CancelOrderRequest{Timestamp: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Accepted {
		t.Fatal("expected cancel to be accepted")
	}

	qty, err := s.QuantityAtPrice(&QuantityAtPriceRequest{Price: 100.00})
	if err != nil {
		t.Fatal(err)
	}
	if qty.Quantity != 0 {
		t.Errorf("expected quantity to be zero after cancel, got %d", qty.Quantity)
	}
}

func TestService_CancelOrder_UnknownIDIsNoop(t *testing.T) {
	s := newTestService(t)
	resp, err := s.CancelOrder("missing", &CancelOrderRequest{Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Accepted {
		t.Error("expected canceling an unknown order_id to be a no-op")
	}
}

func TestService_QuantityInRange(t *testing.T) {
	s := newTestService(t)

	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 100.00, Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o2", Price: 102.00, Quantity: 20, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o3", Price: 200.00, Quantity: 99, Timestamp: 3}); err != nil {
		t.Fatal(err)
	}

	resp, err := s.QuantityInRange(&QuantityInRangeRequest{Low: 99.00, High: 110.00})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Quantity != 30 {
		t.Errorf("expected 30 across the two in-range price levels, got %d", resp.Quantity)
	}
}

func TestService_TopKPriceLevels(t *testing.T) {
	s := newTestService(t)

	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o1", Price: 100.00, Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordOrder(&RecordOrderRequest{OrderID: "o2", Price: 200.00, Quantity: 50, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	resp, err := s.TopKPriceLevels(&TopKPriceLevelsRequest{K: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Levels) != 1 || resp.Levels[0].Quantity != 50 {
		t.Errorf("expected the 200.00 level with quantity 50 to be top-1, got %+v", resp.Levels)
	}
}
