package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/warpweft/api/internal/domain"
	pfirestore "github.com/warpweft/api/internal/platform/firestore"
	"github.com/warpweft/api/internal/repositories"
)

const paymentEventCollection = "paymentEvents"

// PaymentEventRepository appends immutable gateway callback audit records.
type PaymentEventRepository struct {
	base *pfirestore.Collection[paymentEventDocument]
}

// NewPaymentEventRepository constructs a Firestore-backed payment event repository.
func NewPaymentEventRepository(provider *pfirestore.Provider) (*PaymentEventRepository, error) {
	if provider == nil {
		return nil, errors.New("payment event repository requires firestore provider")
	}
	base := pfirestore.NewCollection[paymentEventDocument](provider, paymentEventCollection)
	return &PaymentEventRepository{base: base}, nil
}

// Append stores the raw callback payload. Records are never updated.
func (r *PaymentEventRepository) Append(ctx context.Context, event domain.PaymentEvent) error {
	if r == nil || r.base == nil {
		return errors.New("payment event repository not initialised")
	}
	if strings.TrimSpace(event.ID) == "" {
		return errors.New("payment event repository: event id is required")
	}

	ref, err := r.base.Doc(ctx, event.ID)
	if err != nil {
		return err
	}
	doc := paymentEventDocument{
		OrderID:           strings.TrimSpace(event.OrderID),
		Provider:          strings.TrimSpace(event.Provider),
		ExternalSessionID: strings.TrimSpace(event.ExternalSessionID),
		EventType:         strings.TrimSpace(event.EventType),
		Payload:           event.Payload,
		ReceivedAt:        event.ReceivedAt.UTC(),
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("paymentEvents.append", err)
	}
	return nil
}

// ListByOrder returns all audit records for an order, oldest first.
func (r *PaymentEventRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentEvent, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment event repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("payment event repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", id).OrderBy("receivedAt", firestore.Asc)
	})
	if err != nil {
		return nil, pfirestore.WrapError("paymentEvents.listByOrder", err)
	}

	events := make([]domain.PaymentEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, domain.PaymentEvent{
			ID:                doc.ID,
			OrderID:           doc.Data.OrderID,
			Provider:          doc.Data.Provider,
			ExternalSessionID: doc.Data.ExternalSessionID,
			EventType:         doc.Data.EventType,
			Payload:           doc.Data.Payload,
			ReceivedAt:        doc.Data.ReceivedAt,
		})
	}
	return events, nil
}

type paymentEventDocument struct {
	OrderID           string    `firestore:"orderId"`
	Provider          string    `firestore:"provider"`
	ExternalSessionID string    `firestore:"externalSessionId"`
	EventType         string    `firestore:"eventType"`
	Payload           []byte    `firestore:"payload"`
	ReceivedAt        time.Time `firestore:"receivedAt"`
}

var _ repositories.PaymentEventRepository = (*PaymentEventRepository)(nil)
