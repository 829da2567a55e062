package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/warpweft/api/internal/domain"
	pfirestore "github.com/warpweft/api/internal/platform/firestore"
	"github.com/warpweft/api/internal/platform/pagination"
	"github.com/warpweft/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order aggregates in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewCollection[orderDocument](provider, orderCollection)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert creates the order document, failing when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document inside a transaction, failing with a
// status conflict when the stored status no longer matches expected. Two
// racing writers both read the same status; the loser's write aborts here
// instead of clobbering the winner's transition.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	if r == nil || r.provider == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.Doc(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", order.ID), err)
			}
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		if stored.Status != string(expected) {
			return repositories.NewOrderError(repositories.OrderErrorStatusConflict,
				fmt.Sprintf("order %s is %s, caller expected %s", order.ID, stored.Status, expected), nil)
		}
		doc := newOrderDocument(order)
		// MarkStockRestored may have won the flag between the caller's read
		// and this write; a committed restore is never unset.
		doc.StockRestored = doc.StockRestored || stored.StockRestored
		return tx.Set(ref, doc)
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) {
			return orderErr
		}
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// Delete removes the order document. Used only to void never-confirmed orders.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	ref, err := r.base.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, pfirestore.WrapError("orders.findById", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByCode resolves an order by its public order code.
func (r *OrderRepository) FindByCode(ctx context.Context, code string) (domain.Order, error) {
	return r.findOneByField(ctx, "code", strings.TrimSpace(code), "orders.findByCode")
}

// FindByExternalSessionID resolves an order by the gateway session identifier.
func (r *OrderRepository) FindByExternalSessionID(ctx context.Context, sessionID string) (domain.Order, error) {
	return r.findOneByField(ctx, "payment.externalSessionId", strings.TrimSpace(sessionID), "orders.findBySession")
}

func (r *OrderRepository) findOneByField(ctx context.Context, field string, value string, op string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if value == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("%s: lookup value is required", op), nil)
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	if len(docs) == 0 {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order with %s %q not found", field, value), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// CodeExists reports whether an order already holds the given code.
func (r *OrderRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := r.FindByCode(ctx, code)
	if err == nil {
		return true, nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound {
		return false, nil
	}
	return false, err
}

// List returns a page of orders newest first, optionally scoped to a user and statuses.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	var cursor *orderPageToken
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		cursor = decoded
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor != nil {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// MarkStockRestored flips stockRestored from false to true transactionally so
// restock side effects run at most once per order.
func (r *OrderRepository) MarkStockRestored(ctx context.Context, orderID string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.StockRestored {
			return repositories.NewOrderError(repositories.OrderErrorStockAlreadyRestored, fmt.Sprintf("order %s stock already restored", orderID), nil)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "stockRestored", Value: true},
			{Path: "updatedAt", Value: now.UTC()},
		})
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) {
			return orderErr
		}
		return pfirestore.WrapError("orders.markStockRestored", err)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	Code            string                `firestore:"code"`
	UserID          string                `firestore:"userId"`
	Lines           []orderLineDocument   `firestore:"lines"`
	Amounts         orderAmountsDocument  `firestore:"amounts"`
	CouponCode      string                `firestore:"couponCode,omitempty"`
	ShippingAddress addressDocument       `firestore:"shippingAddress"`
	Status          string                `firestore:"status"`
	PaymentStatus   string                `firestore:"paymentStatus"`
	StockRestored   bool                  `firestore:"stockRestored"`
	CancelledBy     string                `firestore:"cancelledBy,omitempty"`
	Payment         *orderPaymentDocument `firestore:"payment,omitempty"`
	Metadata        map[string]any        `firestore:"metadata,omitempty"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
	ConfirmedAt     *time.Time            `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time            `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time            `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time            `firestore:"cancelledAt,omitempty"`
	FailedAt        *time.Time            `firestore:"failedAt,omitempty"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Category  string `firestore:"category"`
	Size      string `firestore:"size"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"qty"`
}

type orderAmountsDocument struct {
	Subtotal       int64 `firestore:"subtotal"`
	BundleDiscount int64 `firestore:"bundleDiscount"`
	CouponDiscount int64 `firestore:"couponDiscount"`
	Shipping       int64 `firestore:"shipping"`
	Total          int64 `firestore:"total"`
}

type orderPaymentDocument struct {
	Provider          string `firestore:"provider"`
	ExternalSessionID string `firestore:"externalSessionId"`
	SessionURL        string `firestore:"sessionUrl,omitempty"`
}

type addressDocument struct {
	Name       string `firestore:"name"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	Region     string `firestore:"region"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			Name:      strings.TrimSpace(line.Name),
			Category:  strings.TrimSpace(line.Category),
			Size:      strings.TrimSpace(line.Size),
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		}
	}

	doc := orderDocument{
		Code:   strings.TrimSpace(order.Code),
		UserID: strings.TrimSpace(order.UserID),
		Lines:  lines,
		Amounts: orderAmountsDocument{
			Subtotal:       order.Amounts.Subtotal,
			BundleDiscount: order.Amounts.BundleDiscount,
			CouponDiscount: order.Amounts.CouponDiscount,
			Shipping:       order.Amounts.Shipping,
			Total:          order.Amounts.Total,
		},
		CouponCode:      strings.TrimSpace(order.CouponCode),
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		StockRestored:   order.StockRestored,
		CancelledBy:     string(order.CancelledBy),
		Metadata:        order.Metadata,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		ConfirmedAt:     order.ConfirmedAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		FailedAt:        order.FailedAt,
	}
	if order.Payment != nil {
		doc.Payment = &orderPaymentDocument{
			Provider:          strings.TrimSpace(order.Payment.Provider),
			ExternalSessionID: strings.TrimSpace(order.Payment.ExternalSessionID),
			SessionURL:        strings.TrimSpace(order.Payment.SessionURL),
		}
	}
	return doc
}

func newAddressDocument(addr domain.Address) addressDocument {
	addr = addr.Normalize()
	return addressDocument{
		Name:       addr.Name,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Category:  line.Category,
			Size:      line.Size,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		}
	}

	order := domain.Order{
		ID:     id,
		Code:   d.Code,
		UserID: d.UserID,
		Lines:  lines,
		Amounts: domain.OrderAmounts{
			Subtotal:       d.Amounts.Subtotal,
			BundleDiscount: d.Amounts.BundleDiscount,
			CouponDiscount: d.Amounts.CouponDiscount,
			Shipping:       d.Amounts.Shipping,
			Total:          d.Amounts.Total,
		},
		CouponCode: d.CouponCode,
		ShippingAddress: domain.Address{
			Name:       d.ShippingAddress.Name,
			Line1:      d.ShippingAddress.Line1,
			Line2:      d.ShippingAddress.Line2,
			City:       d.ShippingAddress.City,
			Region:     d.ShippingAddress.Region,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			Phone:      d.ShippingAddress.Phone,
		},
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		StockRestored: d.StockRestored,
		CancelledBy:   domain.ActorRole(d.CancelledBy),
		Metadata:      d.Metadata,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		ConfirmedAt:   d.ConfirmedAt,
		ShippedAt:     d.ShippedAt,
		DeliveredAt:   d.DeliveredAt,
		CancelledAt:   d.CancelledAt,
		FailedAt:      d.FailedAt,
	}
	if d.Payment != nil {
		order.Payment = &domain.OrderPayment{
			Provider:          d.Payment.Provider,
			ExternalSessionID: d.Payment.ExternalSessionID,
			SessionURL:        d.Payment.SessionURL,
		}
	}
	return order
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{token.CreatedAt.UTC().Format(time.RFC3339Nano), token.ID},
	})
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, err
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: order cursor requires two values", pagination.ErrInvalidPageToken)
	}
	createdAtRaw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: order cursor timestamp must be a string", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: order cursor id must be a string", pagination.ErrInvalidPageToken)
	}
	return &orderPageToken{ID: id, CreatedAt: createdAt}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
