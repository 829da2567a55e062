package services

import (
	"context"
	"io"
	"time"

	domain "github.com/warpweft/api/internal/domain"
)

// Logger is the structured logging hook services emit events through.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Event is a domain notification published after a state change commits.
type Event struct {
	ID         string
	Type       string
	OrderID    string
	UserID     string
	OccurredAt time.Time
	Payload    map[string]any
}

// EventPublisher delivers domain events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// InventoryService guards stock availability for order placement and restock.
type InventoryService interface {
	// Reserve decrements stock for every line, all-or-nothing.
	Reserve(ctx context.Context, lines []domain.StockLine) error
	// Restore puts previously reserved quantities back.
	Restore(ctx context.Context, lines []domain.StockLine) error
	// AdjustStock sets the absolute availability of one bucket.
	AdjustStock(ctx context.Context, productID string, size string, quantity int) (domain.StockLevel, error)
	// GetStock reads the availability of one bucket.
	GetStock(ctx context.Context, productID string, size string) (domain.StockLevel, error)
}

// OrderCodeAllocator issues short public order codes, retrying on collision.
type OrderCodeAllocator interface {
	Allocate(ctx context.Context) (string, error)
}

// CouponValidation is the outcome of checking a coupon code.
type CouponValidation struct {
	Valid  bool
	Reason domain.CouponRejectReason
	Coupon domain.Coupon
}

// CouponService validates and redeems percentage discount codes.
type CouponService interface {
	Validate(ctx context.Context, code string) (CouponValidation, error)
	// Redeem counts one use against the coupon's cap.
	Redeem(ctx context.Context, code string) (domain.Coupon, error)
}

// PricingInput carries everything the engine needs to price an order.
type PricingInput struct {
	Lines       []domain.OrderLine
	CouponCode  string
	Destination domain.Address
}

// PricingQuote is the canonical monetary breakdown for an order.
type PricingQuote struct {
	Amounts       domain.OrderAmounts
	CouponApplied bool
}

// PricingEngine owns the single composition of bundle offer, coupon, and shipping.
type PricingEngine interface {
	Quote(ctx context.Context, input PricingInput) (PricingQuote, error)
}

// OrderLineInput selects a product variant and quantity at order creation.
type OrderLineInput struct {
	ProductID string
	Size      string
	Quantity  int
}

// OrderCreateInput is the payload for placing a new order.
type OrderCreateInput struct {
	UserID          string
	Lines           []OrderLineInput
	CouponCode      string
	ShippingAddress domain.Address
	Metadata        map[string]any
}

// OrderListQuery narrows order listings for users and admins.
type OrderListQuery struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderService drives the order lifecycle from placement to terminal states.
type OrderService interface {
	Create(ctx context.Context, input OrderCreateInput) (domain.Order, error)
	Get(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	List(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor) (domain.Order, error)
	Cancel(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	Fail(ctx context.Context, orderID string, reason string) (domain.Order, error)
}

// PaymentSession is the client-facing handle for a gateway checkout session.
type PaymentSession struct {
	OrderID   string
	Provider  string
	SessionID string
	URL       string
	ExpiresAt time.Time
}

// CallbackResult reports how a gateway callback was applied.
type CallbackResult struct {
	OrderID   string
	EventType string
	Applied   bool
}

// PaymentService reconciles orders with the payment gateway.
type PaymentService interface {
	CreateSession(ctx context.Context, orderID string, actor domain.Actor) (PaymentSession, error)
	HandleCallback(ctx context.Context, payload []byte, signature string) (CallbackResult, error)
	VerifyStatus(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
}

// InvoiceDocument streams a rendered invoice to the caller.
type InvoiceDocument struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.ReadCloser
}

// InvoiceService fetches rendered invoices with owner/admin access control.
type InvoiceService interface {
	Fetch(ctx context.Context, orderID string, actor domain.Actor) (InvoiceDocument, error)
}

// SystemService reports dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
}
