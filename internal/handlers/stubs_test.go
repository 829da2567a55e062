package handlers

import (
	"context"
	"net/http"
	"time"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/platform/auth"
	"github.com/warpweft/api/internal/services"
)

// Function-field stubs for the service layer. Unset fields panic so a handler
// reaching an unexpected service fails loudly.

type stubOrderService struct {
	create       func(ctx context.Context, input services.OrderCreateInput) (domain.Order, error)
	get          func(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	list         func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error)
	updateStatus func(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor) (domain.Order, error)
	cancel       func(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	fail         func(ctx context.Context, orderID string, reason string) (domain.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, input services.OrderCreateInput) (domain.Order, error) {
	return s.create(ctx, input)
}

func (s *stubOrderService) Get(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.get(ctx, orderID, actor)
}

func (s *stubOrderService) List(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error) {
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

type stubPaymentService struct {
	createSession  func(ctx context.Context, orderID string, actor domain.Actor) (services.PaymentSession, error)
	handleCallback func(ctx context.Context, payload []byte, signature string) (services.CallbackResult, error)
	verifyStatus   func(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
}

func (s *stubPaymentService) CreateSession(ctx context.Context, orderID string, actor domain.Actor) (services.PaymentSession, error) {
	return s.createSession(ctx, orderID, actor)
}

func (s *stubPaymentService) HandleCallback(ctx context.Context, payload []byte, signature string) (services.CallbackResult, error) {
	return s.handleCallback(ctx, payload, signature)
}

func (s *stubPaymentService) VerifyStatus(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.verifyStatus(ctx, orderID, actor)
}

type stubInvoiceService struct {
	fetch func(ctx context.Context, orderID string, actor domain.Actor) (services.InvoiceDocument, error)
}

func (s *stubInvoiceService) Fetch(ctx context.Context, orderID string, actor domain.Actor) (services.InvoiceDocument, error) {
	return s.fetch(ctx, orderID, actor)
}

type stubCouponService struct {
	validate func(ctx context.Context, code string) (services.CouponValidation, error)
	redeem   func(ctx context.Context, code string) (domain.Coupon, error)
}

func (s *stubCouponService) Validate(ctx context.Context, code string) (services.CouponValidation, error) {
	return s.validate(ctx, code)
}

func (s *stubCouponService) Redeem(ctx context.Context, code string) (domain.Coupon, error) {
	return s.redeem(ctx, code)
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

type stubSystemService struct {
	health func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubSystemService) Health(ctx context.Context) (domain.SystemHealthReport, error) {
	return s.health(ctx)
}

// withIdentity injects an authenticated identity the way the auth middleware
// would.
func withIdentity(r *http.Request, uid string, roles ...string) *http.Request {
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}
	identity := &auth.Identity{UID: uid, Roles: roles}
	return r.WithContext(auth.WithIdentity(r.Context(), identity))
}

func sampleOrder() domain.Order {
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:     "ord-1",
		Code:   "AB12",
		UserID: "user-1",
		Lines: []domain.OrderLine{
			{ProductID: "p1", Name: "Crew Socks", Category: "socks", Size: "M", UnitPrice: 600, Quantity: 2},
		},
		Amounts:       domain.OrderAmounts{Subtotal: 1200, Shipping: 500, Total: 1700},
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		ShippingAddress: domain.Address{
			Line1:   "1-2-3 Chuo",
			City:    "Osaka",
			Region:  "Osaka",
			Country: "JP",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}
