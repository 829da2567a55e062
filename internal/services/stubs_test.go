package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/payments"
	"github.com/warpweft/api/internal/repositories"
)

// Function-field stubs shared across the service tests. Unset fields panic so
// a test touching an unexpected collaborator fails loudly.

type stubOrderRepository struct {
	insert            func(ctx context.Context, order domain.Order) error
	update            func(ctx context.Context, order domain.Order, expected domain.OrderStatus) error
	deleteFn          func(ctx context.Context, orderID string) error
	findByID          func(ctx context.Context, orderID string) (domain.Order, error)
	findByCode        func(ctx context.Context, code string) (domain.Order, error)
	findBySession     func(ctx context.Context, sessionID string) (domain.Order, error)
	codeExists        func(ctx context.Context, code string) (bool, error)
	list              func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	markStockRestored func(ctx context.Context, orderID string, now time.Time) error
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return s.insert(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	return s.update(ctx, order, expected)
}

func (s *stubOrderRepository) Delete(ctx context.Context, orderID string) error {
	return s.deleteFn(ctx, orderID)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return s.findByID(ctx, orderID)
}

func (s *stubOrderRepository) FindByCode(ctx context.Context, code string) (domain.Order, error) {
	return s.findByCode(ctx, code)
}

func (s *stubOrderRepository) FindByExternalSessionID(ctx context.Context, sessionID string) (domain.Order, error) {
	return s.findBySession(ctx, sessionID)
}

func (s *stubOrderRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	return s.codeExists(ctx, code)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return s.list(ctx, filter)
}

func (s *stubOrderRepository) MarkStockRestored(ctx context.Context, orderID string, now time.Time) error {
	return s.markStockRestored(ctx, orderID, now)
}

type stubProductRepository struct {
	findByID  func(ctx context.Context, productID string) (domain.Product, error)
	findByIDs func(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	return s.findByID(ctx, productID)
}

func (s *stubProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	return s.findByIDs(ctx, productIDs)
}

type stubInventoryRepository struct {
	reserve  func(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockMutationResult, error)
	restore  func(ctx context.Context, req repositories.StockRestoreRequest) (repositories.StockMutationResult, error)
	adjust   func(ctx context.Context, productID string, size string, quantity int, now time.Time) (domain.StockLevel, error)
	getLevel func(ctx context.Context, productID string, size string) (domain.StockLevel, error)
}

func (s *stubInventoryRepository) Reserve(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockMutationResult, error) {
	return s.reserve(ctx, req)
}

func (s *stubInventoryRepository) Restore(ctx context.Context, req repositories.StockRestoreRequest) (repositories.StockMutationResult, error) {
	return s.restore(ctx, req)
}

func (s *stubInventoryRepository) Adjust(ctx context.Context, productID string, size string, quantity int, now time.Time) (domain.StockLevel, error) {
	return s.adjust(ctx, productID, size, quantity, now)
}

func (s *stubInventoryRepository) GetLevel(ctx context.Context, productID string, size string) (domain.StockLevel, error) {
	return s.getLevel(ctx, productID, size)
}

type stubCouponRepository struct {
	findByCode     func(ctx context.Context, code string) (domain.Coupon, error)
	upsert         func(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
	incrementUsage func(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
}

func (s *stubCouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return s.findByCode(ctx, code)
}

func (s *stubCouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	return s.upsert(ctx, coupon)
}

func (s *stubCouponRepository) IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	return s.incrementUsage(ctx, code, now)
}

type stubCartRepository struct {
	getCart   func(ctx context.Context, userID string) (domain.Cart, error)
	clearCart func(ctx context.Context, userID string) error
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	return s.getCart(ctx, userID)
}

func (s *stubCartRepository) ClearCart(ctx context.Context, userID string) error {
	return s.clearCart(ctx, userID)
}

type stubPaymentEventRepository struct {
	append      func(ctx context.Context, event domain.PaymentEvent) error
	listByOrder func(ctx context.Context, orderID string) ([]domain.PaymentEvent, error)
}

func (s *stubPaymentEventRepository) Append(ctx context.Context, event domain.PaymentEvent) error {
	return s.append(ctx, event)
}

func (s *stubPaymentEventRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentEvent, error) {
	return s.listByOrder(ctx, orderID)
}

type stubInventoryService struct {
	reserve     func(ctx context.Context, lines []domain.StockLine) error
	restore     func(ctx context.Context, lines []domain.StockLine) error
	adjustStock func(ctx context.Context, productID string, size string, quantity int) (domain.StockLevel, error)
	getStock    func(ctx context.Context, productID string, size string) (domain.StockLevel, error)
}

func (s *stubInventoryService) Reserve(ctx context.Context, lines []domain.StockLine) error {
	return s.reserve(ctx, lines)
}

func (s *stubInventoryService) Restore(ctx context.Context, lines []domain.StockLine) error {
	return s.restore(ctx, lines)
}

func (s *stubInventoryService) AdjustStock(ctx context.Context, productID string, size string, quantity int) (domain.StockLevel, error) {
	return s.adjustStock(ctx, productID, size, quantity)
}

func (s *stubInventoryService) GetStock(ctx context.Context, productID string, size string) (domain.StockLevel, error) {
	return s.getStock(ctx, productID, size)
}

type stubCouponService struct {
	validate func(ctx context.Context, code string) (CouponValidation, error)
	redeem   func(ctx context.Context, code string) (domain.Coupon, error)
}

func (s *stubCouponService) Validate(ctx context.Context, code string) (CouponValidation, error) {
	return s.validate(ctx, code)
}

func (s *stubCouponService) Redeem(ctx context.Context, code string) (domain.Coupon, error) {
	return s.redeem(ctx, code)
}

type stubPricingEngine struct {
	quote func(ctx context.Context, input PricingInput) (PricingQuote, error)
}

func (s *stubPricingEngine) Quote(ctx context.Context, input PricingInput) (PricingQuote, error) {
	return s.quote(ctx, input)
}

type stubCodeAllocator struct {
	allocate func(ctx context.Context) (string, error)
}

func (s *stubCodeAllocator) Allocate(ctx context.Context) (string, error) {
	return s.allocate(ctx)
}

type stubOrderService struct {
	create       func(ctx context.Context, input OrderCreateInput) (domain.Order, error)
	get          func(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	list         func(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error)
	updateStatus func(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor) (domain.Order, error)
	cancel       func(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	fail         func(ctx context.Context, orderID string, reason string) (domain.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, input OrderCreateInput) (domain.Order, error) {
	return s.create(ctx, input)
}

func (s *stubOrderService) Get(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.get(ctx, orderID, actor)
}

func (s *stubOrderService) List(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error) {
	return s.list(ctx, query)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor) (domain.Order, error) {
	return s.updateStatus(ctx, orderID, target, actor)
}

func (s *stubOrderService) Cancel(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.cancel(ctx, orderID, actor)
}

func (s *stubOrderService) Fail(ctx context.Context, orderID string, reason string) (domain.Order, error) {
	return s.fail(ctx, orderID, reason)
}

type stubPaymentProvider struct {
	createSession func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	lookupSession func(ctx context.Context, sessionID string) (payments.SessionDetails, error)
	parseWebhook  func(payload []byte, signature string) (payments.WebhookEvent, error)
}

func (s *stubPaymentProvider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	return s.createSession(ctx, req)
}

func (s *stubPaymentProvider) LookupSession(ctx context.Context, sessionID string) (payments.SessionDetails, error) {
	return s.lookupSession(ctx, sessionID)
}

func (s *stubPaymentProvider) ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	return s.parseWebhook(payload, signature)
}

// capturePublisher records every published event, safe for concurrent use.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, event := range p.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s%02d", prefix, next)
	}
}
