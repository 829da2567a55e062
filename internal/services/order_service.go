package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/platform/textutil"
	"github.com/warpweft/api/internal/repositories"
)

const (
	eventOrderCreated       = "order.created"
	eventOrderStatusChanged = "order.status_changed"
	eventOrderCancelled     = "order.cancelled"
	eventOrderFailed        = "order.failed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not operate on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent request changed the order first.
	ErrOrderConflict = errors.New("order: modified concurrently")
	// ErrOrderProductUnavailable indicates a referenced product is missing or inactive.
	ErrOrderProductUnavailable = errors.New("order: product unavailable")
)

// orderTransitions is the complete forward transition table. Cancellation and
// failure are handled separately because they carry extra side effects.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:        {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusFailed},
	domain.OrderStatusConfirmed:      {domain.OrderStatusPacking},
	domain.OrderStatusPacking:        {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:        {domain.OrderStatusOutForDelivery},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:      nil,
	domain.OrderStatusCancelled:      nil,
	domain.OrderStatusFailed:         nil,
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, candidate := range orderTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// userCancellableStatuses are the states a customer may cancel from. Admins
// may cancel from any non-terminal state.
var userCancellableStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPending: true,
	domain.OrderStatusPacking: true,
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Inventory   InventoryService
	Pricing     PricingEngine
	Codes       OrderCodeAllocator
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	inventory InventoryService
	pricing   PricingEngine
	codes     OrderCodeAllocator
	events    EventPublisher
	clock     func() time.Time
	newID     func() string
	logger    Logger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Codes == nil {
		return nil, errors.New("order service: code allocator is required")
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

	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		inventory: deps.Inventory,
		pricing:   deps.Pricing,
		codes:     deps.Codes,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Create places a new order: resolve the catalog snapshot, price it, reserve
// stock, allocate a public code, and persist. A persistence failure after the
// stock reservation triggers a compensating restore.
func (s *orderService) Create(ctx context.Context, input OrderCreateInput) (domain.Order, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(input.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	address := input.ShippingAddress.Normalize()
	if address.Line1 == "" || address.City == "" || address.Country == "" {
		return domain.Order{}, fmt.Errorf("%w: shipping address needs line1, city, and country", ErrOrderInvalidInput)
	}

	lines, stockLines, err := s.resolveLines(ctx, input.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	quote, err := s.pricing.Quote(ctx, PricingInput{
		Lines:       lines,
		CouponCode:  input.CouponCode,
		Destination: address,
	})
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.inventory.Reserve(ctx, stockLines); err != nil {
		return domain.Order{}, err
	}

	order, err := s.persistNewOrder(ctx, input, lines, address, quote)
	if err != nil {
		if restoreErr := s.inventory.Restore(ctx, stockLines); restoreErr != nil {
			s.logger(ctx, "order_create_compensation_failed", map[string]any{
				"userId": input.UserID,
				"error":  restoreErr.Error(),
			})
		}
		return domain.Order{}, err
	}

	s.publishOrderEvent(ctx, eventOrderCreated, order, nil)
	return order, nil
}

func (s *orderService) persistNewOrder(ctx context.Context, input OrderCreateInput, lines []domain.OrderLine, address domain.Address, quote PricingQuote) (domain.Order, error) {
	code, err := s.codes.Allocate(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	couponCode := ""
	if quote.CouponApplied {
		couponCode = strings.ToUpper(strings.TrimSpace(input.CouponCode))
	}

	now := s.clock()
	order := domain.Order{
		ID:              s.newID(),
		Code:            code,
		UserID:          input.UserID,
		Lines:           lines,
		Amounts:         quote.Amounts,
		CouponCode:      couponCode,
		ShippingAddress: address,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		Metadata:        textutil.NormalizeAnyMap(input.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// resolveLines snapshots name, category, and unit price from the catalog so
// later catalog edits never change an existing order.
func (s *orderService) resolveLines(ctx context.Context, inputs []OrderLineInput) ([]domain.OrderLine, []domain.StockLine, error) {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in.ProductID) == "" {
			return nil, nil, fmt.Errorf("%w: line product id is required", ErrOrderInvalidInput)
		}
		if strings.TrimSpace(in.Size) == "" {
			return nil, nil, fmt.Errorf("%w: line size is required", ErrOrderInvalidInput)
		}
		if in.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, in.ProductID)
		}
		ids = append(ids, in.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]domain.OrderLine, 0, len(inputs))
	stockLines := make([]domain.StockLine, 0, len(inputs))
	for _, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok || !product.Active {
			return nil, nil, fmt.Errorf("%w: %s", ErrOrderProductUnavailable, in.ProductID)
		}
		if _, ok := product.Sizes[in.Size]; len(product.Sizes) > 0 && !ok {
			return nil, nil, fmt.Errorf("%w: %s has no size %s", ErrOrderProductUnavailable, in.ProductID, in.Size)
		}

		lines = append(lines, domain.OrderLine{
			ProductID: product.ID,
			Name:      product.Name,
			Category:  product.Category,
			Size:      in.Size,
			UnitPrice: product.Price,
			Quantity:  in.Quantity,
		})
		stockLines = append(stockLines, domain.StockLine{
			ProductID: product.ID,
			Size:      in.Size,
			Quantity:  in.Quantity,
		})
	}
	return lines, stockLines, nil
}

func (s *orderService) Get(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error) {
	return s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     query.UserID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
}

// UpdateStatus moves an order along the fulfilment path. Only admins drive
// fulfilment transitions; cancellation goes through Cancel so its stock side
// effects are never skipped.
func (s *orderService) UpdateStatus(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor) (domain.Order, error) {
	if !actor.IsAdmin() {
		return domain.Order{}, fmt.Errorf("%w: status updates require admin", ErrOrderForbidden)
	}
	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, orderID, actor)
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !transitionAllowed(order.Status, target) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}

	from := order.Status
	now := s.clock()
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
		order.PaymentStatus = domain.PaymentStatusPaid
	case domain.OrderStatusFailed:
		order.FailedAt = &now
	}

	if err := s.orders.Update(ctx, order, from); err != nil {
		return domain.Order{}, mapStatusConflict(err, orderID)
	}

	s.publishOrderEvent(ctx, eventOrderStatusChanged, order, map[string]any{
		"from": string(from),
		"to":   string(target),
	})
	return order, nil
}

// Cancel moves an order to cancelled and restores its stock exactly once.
// Customers may cancel their own pending or packing orders; admins may cancel
// any order that has not reached a terminal state.
func (s *orderService) Cancel(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if !actor.IsAdmin() {
		if order.UserID != actor.UserID {
			return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, orderID)
		}
		if !userCancellableStatuses[order.Status] {
			return domain.Order{}, fmt.Errorf("%w: cannot cancel from %s", ErrOrderForbidden, order.Status)
		}
	} else if orderTransitions[order.Status] == nil {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusCancelled)
	}

	now := s.clock()
	cancelledBy := actor.Role
	if cancelledBy == "" {
		cancelledBy = domain.ActorRoleSystem
	}

	from := order.Status
	order.Status = domain.OrderStatusCancelled
	order.CancelledBy = cancelledBy
	order.CancelledAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order, from); err != nil {
		return domain.Order{}, mapStatusConflict(err, orderID)
	}

	restored := s.restoreStockOnce(ctx, &order)
	if restored {
		order.StockRestored = true
	}

	s.publishOrderEvent(ctx, eventOrderCancelled, order, map[string]any{
		"cancelledBy":   string(cancelledBy),
		"stockRestored": restored,
	})
	return order, nil
}

// Fail marks a pending order as terminally failed and restores its stock.
func (s *orderService) Fail(ctx context.Context, orderID string, reason string) (domain.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !transitionAllowed(order.Status, domain.OrderStatusFailed) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusFailed)
	}

	now := s.clock()
	from := order.Status
	order.Status = domain.OrderStatusFailed
	order.FailedAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order, from); err != nil {
		return domain.Order{}, mapStatusConflict(err, orderID)
	}

	if s.restoreStockOnce(ctx, &order) {
		order.StockRestored = true
	}

	s.publishOrderEvent(ctx, eventOrderFailed, order, map[string]any{"reason": reason})
	return order, nil
}

// restoreStockOnce wins the stockRestored flag transactionally before putting
// quantities back, so replays and concurrent paths restock at most once.
func (s *orderService) restoreStockOnce(ctx context.Context, order *domain.Order) bool {
	if order.StockRestored {
		return false
	}

	err := s.orders.MarkStockRestored(ctx, order.ID, s.clock())
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorStockAlreadyRestored {
			return false
		}
		s.logger(ctx, "order_stock_restore_mark_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return false
	}

	stockLines := make([]domain.StockLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		stockLines = append(stockLines, domain.StockLine{
			ProductID: line.ProductID,
			Size:      line.Size,
			Quantity:  line.Quantity,
		})
	}
	if err := s.inventory.Restore(ctx, stockLines); err != nil {
		s.logger(ctx, "order_stock_restore_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	return true
}

// mapStatusConflict turns the repository's conditional-write failure into the
// service-level conflict error; everything else passes through unchanged.
func mapStatusConflict(err error, orderID string) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorStatusConflict {
		return fmt.Errorf("%w: order %s", ErrOrderConflict, orderID)
	}
	return err
}

func (s *orderService) findOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) publishOrderEvent(ctx context.Context, eventType string, order domain.Order, extra map[string]any) {
	if s.events == nil {
		return
	}

	payload := map[string]any{
		"code":   order.Code,
		"status": string(order.Status),
		"total":  order.Amounts.Total,
	}
	for k, v := range extra {
		payload[k] = v
	}

	err := s.events.Publish(ctx, Event{
		ID:         s.newID(),
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		OccurredAt: s.clock(),
		Payload:    payload,
	})
	if err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}
