package repositories

import (
	"context"
	"time"

	domain "github.com/warpweft/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InventoryRepository manages per-(product, size) stock buckets with transactional guarantees.
type InventoryRepository interface {
	// Reserve decrements availability for every line in a single transaction.
	// Either all lines are applied or none are.
	Reserve(ctx context.Context, req StockReserveRequest) (StockMutationResult, error)
	// Restore increments availability for every line in a single transaction.
	Restore(ctx context.Context, req StockRestoreRequest) (StockMutationResult, error)
	// Adjust sets the absolute availability of one bucket.
	Adjust(ctx context.Context, productID string, size string, quantity int, now time.Time) (domain.StockLevel, error)
	GetLevel(ctx context.Context, productID string, size string) (domain.StockLevel, error)
}

// StockReserveRequest carries the aggregated lines to decrement.
type StockReserveRequest struct {
	Lines []domain.StockLine
	Now   time.Time
}

// StockRestoreRequest carries the aggregated lines to increment.
type StockRestoreRequest struct {
	Lines []domain.StockLine
	Now   time.Time
}

// StockMutationResult reports resulting levels keyed by "productID#size".
type StockMutationResult struct {
	Levels map[string]domain.StockLevel
}

// OrderRepository persists order aggregates and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update overwrites the order document only while the stored status still
	// equals expected. A concurrent transition fails the write with an
	// OrderError carrying OrderErrorStatusConflict instead of losing it.
	Update(ctx context.Context, order domain.Order, expected domain.OrderStatus) error
	// Delete voids a never-confirmed order after gateway-failure compensation.
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCode(ctx context.Context, code string) (domain.Order, error)
	FindByExternalSessionID(ctx context.Context, sessionID string) (domain.Order, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// MarkStockRestored flips the stockRestored flag from false to true inside a
	// transaction. Returns ErrOrderStockAlreadyRestored (via OrderError code
	// conflict) when the flag was already set, so restock runs at most once.
	MarkStockRestored(ctx context.Context, orderID string, now time.Time) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CouponRepository stores percentage discount codes and their redemption counts.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
	// IncrementUsage bumps usedCount transactionally, failing with a conflict
	// code when the redemption cap is already exhausted.
	IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
}

// CartRepository owns the per-user cart header cleared after successful payment.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// ProductRepository exposes the catalog read model used for pricing and stock checks.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// PaymentEventRepository appends immutable gateway callback audit records.
type PaymentEventRepository interface {
	Append(ctx context.Context, event domain.PaymentEvent) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentEvent, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
