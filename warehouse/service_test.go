package warehouse

import (
	"context"
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
		AuditCapacity:      5,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Service{
		facade:           facade,
		limiter:          rate.NewLimiter(rate.Inf, 0),
		transferredItems: corewindow.NewBoundedTopK(5),
		activeWarehouses: corewindow.NewBoundedTopK(5),
		auditCapacity:    5,
	}
}

func TestService_AddStock_IncreasesQuantity(t *testing.T) {
	s := newTestService(t)

	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 5, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	resp, err := s.WarehouseStock(&WarehouseStockRequest{ItemID: "widget", WarehouseID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Quantity != 15 {
		t.Errorf("expected 15, got %d", resp.Quantity)
	}
}

func TestService_RemoveStock_RejectsInsufficientStock(t *testing.T) {
	s := newTestService(t)

	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 5, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	resp, err := s.RemoveStock(&RemoveStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 10, Timestamp: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Accepted {
		t.Error("expected removing more stock than is present to be rejected")
	}

	qty, err := s.WarehouseStock(&WarehouseStockRequest{ItemID: "widget", WarehouseID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if qty.Quantity != 5 {
		t.Errorf("expected stock unchanged at 5 after a rejected removal, got %d", qty.Quantity)
	}
}

func TestService_AddStock_DuplicateCallWithoutIdempotencyKeyIsNoop(t *testing.T) {
	s := newTestService(t)

	req := &AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 10, Timestamp: 100}
	if _, err := s.AddStock(req); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddStock(req); err != nil {
		t.Fatal(err)
	}

	resp, err := s.WarehouseStock(&WarehouseStockRequest{ItemID: "widget", WarehouseID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Quantity != 10 {
		t.Errorf("expected the identical (item,warehouse,ts,qty) call to be deduplicated, got %d", resp.Quantity)
	}

	audit, err := s.AuditLog(&AuditLogRequest{ItemID: "widget", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(audit.Entries) != 1 {
		t.Errorf("expected exactly one audit entry for the deduplicated add, got %d", len(audit.Entries))
	}
}

func TestService_TransferStock_MovesBetweenWarehouses(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 20, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	resp, err := s.TransferStock(ctx, &TransferStockRequest{ItemID: "widget", FromWarehouse: "w1", ToWarehouse: "w2", Quantity: 8, Timestamp: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Accepted {
		t.Fatal("expected transfer to be accepted")
	}

	from, err := s.WarehouseStock(&WarehouseStockRequest{ItemID: "widget", WarehouseID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if from.Quantity != 12 {
		t.Errorf("expected source to drop to 12, got %d", from.Quantity)
	}

	to, err := s.WarehouseStock(&WarehouseStockRequest{ItemID: "widget", WarehouseID: "w2"})
	if err != nil {
		t.Fatal(err)
	}
	if to.Quantity != 8 {
		t.Errorf("expected destination to receive 8, got %d", to.Quantity)
	}
}

func TestService_TransferStock_RollsBackOnInsufficientStock(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 3, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	resp, err := s.TransferStock(ctx, &TransferStockRequest{ItemID: "widget", FromWarehouse: "w1", ToWarehouse: "w2", Quantity: 10, Timestamp: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Accepted {
		t.Error("expected an over-quantity transfer to be rejected")
	}

	to, err := s.WarehouseStock(&WarehouseStockRequest{ItemID: "widget", WarehouseID: "w2"})
	if err != nil {
		t.Fatal(err)
	}
	if to.Quantity != 0 {
		t.Errorf("expected destination untouched after a rolled-back transfer, got %d", to.Quantity)
	}
}

func TestService_GlobalStock_SumsAcrossWarehouses(t *testing.T) {
	s := newTestService(t)

	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w2", Quantity: 7, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	resp, err := s.GlobalStock(&GlobalStockRequest{ItemID: "widget"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Quantity != 17 {
		t.Errorf("expected 17, got %d", resp.Quantity)
	}
}

func TestService_AuditLog_TracksRecentOperationsMostRecentFirst(t *testing.T) {
	s := newTestService(t)

	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 10, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RemoveStock(&RemoveStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 4, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	resp, err := s.AuditLog(&AuditLogRequest{ItemID: "widget", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(resp.Entries))
	}
	if resp.Entries[0].Operation != "remove" {
		t.Errorf("expected the most recent entry to be the remove, got %q", resp.Entries[0].Operation)
	}
}

func TestService_MostActiveWarehouses_RanksByMovement(t *testing.T) {
	s := newTestService(t)

	if _, err := s.AddStock(&AddStockRequest{ItemID: "widget", WarehouseID: "w1", Quantity: 100, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddStock(&AddStockRequest{ItemID: "gadget", WarehouseID: "w2", Quantity: 1, Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	top := s.activeWarehouses.Top(1)
	if len(top) != 1 || top[0].Key != "w1" {
		t.Errorf("expected w1 to rank above w2, got %+v", top)
	}
}
