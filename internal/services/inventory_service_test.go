package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/repositories"
)

var inventoryNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestInventoryService(t *testing.T, repo repositories.InventoryRepository, events EventPublisher) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Inventory:   repo,
		Events:      events,
		Clock:       fixedClock(inventoryNow),
		IDGenerator: sequentialIDs("evt"),
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	return svc
}

func TestReserveAggregatesAndSortsLines(t *testing.T) {
	var got repositories.StockReserveRequest
	repo := &stubInventoryRepository{
		reserve: func(_ context.Context, req repositories.StockReserveRequest) (repositories.StockMutationResult, error) {
			got = req
			return repositories.StockMutationResult{}, nil
		},
	}
	publisher := &capturePublisher{}
	svc := newTestInventoryService(t, repo, publisher)

	err := svc.Reserve(context.Background(), []domain.StockLine{
		{ProductID: "p2", Size: "M", Quantity: 1},
		{ProductID: "p1", Size: " M ", Quantity: 2},
		{ProductID: "p1", Size: "M", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	want := []domain.StockLine{
		{ProductID: "p1", Size: "M", Quantity: 5},
		{ProductID: "p2", Size: "M", Quantity: 1},
	}
	if !reflect.DeepEqual(got.Lines, want) {
		t.Errorf("reserved lines = %#v, want %#v", got.Lines, want)
	}
	if !got.Now.Equal(inventoryNow) {
		t.Errorf("reserve now = %v, want %v", got.Now, inventoryNow)
	}
	if events := publisher.byType("inventory.stock_reserved"); len(events) != 1 {
		t.Errorf("stock_reserved events = %d, want 1", len(events))
	}
}

func TestReserveRejectsInvalidLines(t *testing.T) {
	svc := newTestInventoryService(t, &stubInventoryRepository{}, nil)

	tests := []struct {
		name  string
		lines []domain.StockLine
	}{
		{"empty", nil},
		{"missing product", []domain.StockLine{{Size: "M", Quantity: 1}}},
		{"missing size", []domain.StockLine{{ProductID: "p1", Quantity: 1}}},
		{"zero quantity", []domain.StockLine{{ProductID: "p1", Size: "M", Quantity: 0}}},
		{"negative quantity", []domain.StockLine{{ProductID: "p1", Size: "M", Quantity: -1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.Reserve(context.Background(), tc.lines); !errors.Is(err, ErrInventoryInvalidInput) {
				t.Fatalf("err = %v, want ErrInventoryInvalidInput", err)
			}
		})
	}
}

func TestReserveMapsRepositoryErrors(t *testing.T) {
	tests := []struct {
		name string
		code repositories.InventoryErrorCode
		want error
	}{
		{"insufficient", repositories.InventoryErrorInsufficientStock, ErrInventoryInsufficientStock},
		{"missing bucket", repositories.InventoryErrorStockNotFound, ErrInventoryStockNotFound},
		{"bad quantity", repositories.InventoryErrorInvalidQuantity, ErrInventoryInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubInventoryRepository{
				reserve: func(context.Context, repositories.StockReserveRequest) (repositories.StockMutationResult, error) {
					return repositories.StockMutationResult{}, repositories.NewInventoryError(tc.code, "boom", nil)
				},
			}
			svc := newTestInventoryService(t, repo, nil)

			err := svc.Reserve(context.Background(), []domain.StockLine{{ProductID: "p1", Size: "M", Quantity: 1}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRestorePublishesEvent(t *testing.T) {
	repo := &stubInventoryRepository{
		restore: func(context.Context, repositories.StockRestoreRequest) (repositories.StockMutationResult, error) {
			return repositories.StockMutationResult{}, nil
		},
	}
	publisher := &capturePublisher{}
	svc := newTestInventoryService(t, repo, publisher)

	err := svc.Restore(context.Background(), []domain.StockLine{{ProductID: "p1", Size: "M", Quantity: 2}})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if events := publisher.byType("inventory.stock_restored"); len(events) != 1 {
		t.Errorf("stock_restored events = %d, want 1", len(events))
	}
}

func TestAdjustStock(t *testing.T) {
	repo := &stubInventoryRepository{
		adjust: func(_ context.Context, productID, size string, quantity int, now time.Time) (domain.StockLevel, error) {
			return domain.StockLevel{ProductID: productID, Size: size, Available: quantity, UpdatedAt: now}, nil
		},
	}
	publisher := &capturePublisher{}
	svc := newTestInventoryService(t, repo, publisher)

	level, err := svc.AdjustStock(context.Background(), "p1", "M", 10)
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if level.Available != 10 {
		t.Errorf("available = %d, want 10", level.Available)
	}
	if events := publisher.byType("inventory.stock_adjusted"); len(events) != 1 {
		t.Errorf("stock_adjusted events = %d, want 1", len(events))
	}

	if _, err := svc.AdjustStock(context.Background(), "p1", "M", -1); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("negative adjust err = %v, want ErrInventoryInvalidInput", err)
	}
}

func TestGetStock(t *testing.T) {
	repo := &stubInventoryRepository{
		getLevel: func(context.Context, string, string) (domain.StockLevel, error) {
			return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "no bucket", nil)
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	if _, err := svc.GetStock(context.Background(), "p1", "M"); !errors.Is(err, ErrInventoryStockNotFound) {
		t.Fatalf("err = %v, want ErrInventoryStockNotFound", err)
	}
	if _, err := svc.GetStock(context.Background(), "", "M"); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("err = %v, want ErrInventoryInvalidInput", err)
	}
}

func TestReserveFailurePublishesNothing(t *testing.T) {
	repo := &stubInventoryRepository{
		reserve: func(context.Context, repositories.StockReserveRequest) (repositories.StockMutationResult, error) {
			return repositories.StockMutationResult{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "short", nil)
		},
	}
	publisher := &capturePublisher{}
	svc := newTestInventoryService(t, repo, publisher)

	_ = svc.Reserve(context.Background(), []domain.StockLine{{ProductID: "p1", Size: "M", Quantity: 9}})
	if len(publisher.events) != 0 {
		t.Errorf("events published after failed reserve = %d, want 0", len(publisher.events))
	}
}
