package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/repositories"
)

const (
	eventStockReserved = "inventory.stock_reserved"
	eventStockRestored = "inventory.stock_restored"
	eventStockAdjusted = "inventory.stock_adjusted"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryStockNotFound indicates the (product, size) bucket has no stock record.
	ErrInventoryStockNotFound = errors.New("inventory: stock not found")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory   repositories.InventoryRepository
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	events EventPublisher
	clock  func() time.Time
	newID  func() string
	logger Logger
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:   deps.Inventory,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, lines []domain.StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	now := s.clock()
	_, err = s.repo.Reserve(ctx, repositories.StockReserveRequest{Lines: normalised, Now: now})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.publishStockEvent(ctx, eventStockReserved, normalised, now)
	return nil
}

func (s *inventoryService) Restore(ctx context.Context, lines []domain.StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	now := s.clock()
	_, err = s.repo.Restore(ctx, repositories.StockRestoreRequest{Lines: normalised, Now: now})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.publishStockEvent(ctx, eventStockRestored, normalised, now)
	return nil
}

func (s *inventoryService) AdjustStock(ctx context.Context, productID string, size string, quantity int) (domain.StockLevel, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if strings.TrimSpace(size) == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: size is required", ErrInventoryInvalidInput)
	}
	if quantity < 0 {
		return domain.StockLevel{}, fmt.Errorf("%w: quantity must be >= 0", ErrInventoryInvalidInput)
	}

	now := s.clock()
	level, err := s.repo.Adjust(ctx, productID, size, quantity, now)
	if err != nil {
		return domain.StockLevel{}, s.mapRepositoryError(err)
	}

	s.publishStockEvent(ctx, eventStockAdjusted, []domain.StockLine{{ProductID: productID, Size: size, Quantity: quantity}}, now)
	return level, nil
}

func (s *inventoryService) GetStock(ctx context.Context, productID string, size string) (domain.StockLevel, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if strings.TrimSpace(size) == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: size is required", ErrInventoryInvalidInput)
	}

	level, err := s.repo.GetLevel(ctx, productID, size)
	if err != nil {
		return domain.StockLevel{}, s.mapRepositoryError(err)
	}
	return level, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, invErr.Message)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryStockNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}

	return err
}

func (s *inventoryService) publishStockEvent(ctx context.Context, eventType string, lines []domain.StockLine, occurredAt time.Time) {
	if s.events == nil {
		return
	}

	payload := make([]map[string]any, len(lines))
	for i, line := range lines {
		payload[i] = map[string]any{
			"productId": line.ProductID,
			"size":      line.Size,
			"qty":       line.Quantity,
		}
	}

	err := s.events.Publish(ctx, Event{
		ID:         s.newID(),
		Type:       eventType,
		OccurredAt: occurredAt,
		Payload:    map[string]any{"lines": payload},
	})
	if err != nil {
		s.logger(ctx, "inventory_event_publish_failed", map[string]any{"error": err.Error()})
	}
}

// normaliseStockLines validates and aggregates duplicate (product, size) lines.
func normaliseStockLines(lines []domain.StockLine) ([]domain.StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	aggregated := make(map[string]*domain.StockLine)
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		size := strings.TrimSpace(line.Size)
		if size == "" {
			return nil, fmt.Errorf("%w: line size is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s/%s must be positive", ErrInventoryInvalidInput, productID, size)
		}

		key := productID + "#" + size
		agg, ok := aggregated[key]
		if !ok {
			agg = &domain.StockLine{ProductID: productID, Size: size}
			aggregated[key] = agg
		}
		agg.Quantity += line.Quantity
	}

	result := make([]domain.StockLine, 0, len(aggregated))
	for _, line := range aggregated {
		result = append(result, *line)
	}
	if len(result) > 1 {
		sort.Slice(result, func(i, j int) bool {
			if result[i].ProductID == result[j].ProductID {
				return result[i].Size < result[j].Size
			}
			return result[i].ProductID < result[j].ProductID
		})
	}
	return result, nil
}
