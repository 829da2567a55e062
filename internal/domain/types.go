package domain

import (
	"strings"
	"time"
)

// Money values are stored in the smallest currency unit (e.g. yen, cents).

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is placed but not yet confirmed or paid.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment succeeded or staff confirmed the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPacking indicates the order is being picked and packed.
	OrderStatusPacking OrderStatus = "packing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery indicates the parcel is on its final delivery leg.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before fulfilment completed.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusFailed indicates order placement or payment failed terminally.
	OrderStatusFailed OrderStatus = "failed"
)

// PaymentStatus enumerates settlement states independent of fulfilment.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// ActorRole identifies who performed an action on an order.
type ActorRole string

const (
	ActorRoleUser   ActorRole = "user"
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleSystem ActorRole = "system"
)

// Actor is the authenticated principal driving an operation.
type Actor struct {
	UserID string
	Role   ActorRole
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == ActorRoleAdmin }

// Address is the canonical shipping destination value object.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
	Phone      string
}

// Normalize trims whitespace on every field and returns the cleaned copy.
func (a Address) Normalize() Address {
	return Address{
		Name:       strings.TrimSpace(a.Name),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		Region:     strings.TrimSpace(a.Region),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

// OrderLine mirrors a purchased product variant at the time of ordering.
type OrderLine struct {
	ProductID string
	Name      string
	Category  string
	Size      string
	UnitPrice int64
	Quantity  int
}

// LineTotal returns unit price times quantity for the line.
func (l OrderLine) LineTotal() int64 { return l.UnitPrice * int64(l.Quantity) }

// OrderAmounts holds the rolled-up monetary breakdown for an order.
type OrderAmounts struct {
	Subtotal       int64
	BundleDiscount int64
	CouponDiscount int64
	Shipping       int64
	Total          int64
}

// OrderPayment tracks the external gateway session bound to an order.
type OrderPayment struct {
	Provider          string
	ExternalSessionID string
	SessionURL        string
}

// Order is the aggregate returned to handlers and services.
type Order struct {
	ID              string
	Code            string
	UserID          string
	Lines           []OrderLine
	Amounts         OrderAmounts
	CouponCode      string
	ShippingAddress Address
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	StockRestored   bool
	CancelledBy     ActorRole
	Payment         *OrderPayment
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	FailedAt        *time.Time
}

// StockLine addresses a quantity of one (product, size) stock bucket.
type StockLine struct {
	ProductID string
	Size      string
	Quantity  int
}

// StockLevel is the persisted availability of one (product, size) bucket.
type StockLevel struct {
	ProductID string
	Size      string
	Available int
	UpdatedAt time.Time
}

// Product is the catalog read model used for pricing and stock checks.
type Product struct {
	ID        string
	Name      string
	Category  string
	Price     int64
	Sizes     map[string]int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Coupon is a percentage discount code with a validity window and usage cap.
type Coupon struct {
	ID             string
	Code           string
	Percentage     int
	Active         bool
	ValidFrom      time.Time
	ValidUntil     time.Time
	MaxRedemptions int
	UsedCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CouponRejectReason explains why a coupon could not be applied.
type CouponRejectReason string

const (
	CouponRejectNotFound     CouponRejectReason = "not_found"
	CouponRejectInactive     CouponRejectReason = "inactive"
	CouponRejectExpired      CouponRejectReason = "expired"
	CouponRejectLimitReached CouponRejectReason = "limit_reached"
)

// Cart is the lightweight per-user cart header cleared after payment.
type Cart struct {
	UserID    string
	Lines     []OrderLine
	UpdatedAt time.Time
}

// Pagination carries cursor paging inputs through service and repository layers.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is a single page of results plus the cursor for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// HealthStatus summarises the state of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for readiness reporting.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// PaymentEvent is the audit record of a raw gateway callback payload.
type PaymentEvent struct {
	ID                string
	OrderID           string
	Provider          string
	ExternalSessionID string
	EventType         string
	Payload           []byte
	ReceivedAt        time.Time
}
