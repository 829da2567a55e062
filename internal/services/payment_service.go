package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/payments"
	"github.com/warpweft/api/internal/platform/textutil"
	"github.com/warpweft/api/internal/repositories"
)

const (
	eventPaymentSessionCreated = "payment.session_created"
	eventPaymentSucceeded      = "payment.succeeded"
	eventPaymentFailed         = "payment.failed"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid arguments.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentOrderNotPayable indicates the order is not in a payable state.
	ErrPaymentOrderNotPayable = errors.New("payment: order not payable")
	// ErrPaymentGateway wraps a gateway-side failure during session creation.
	ErrPaymentGateway = errors.New("payment: gateway error")
	// ErrPaymentInvalidSignature indicates callback signature verification failed.
	ErrPaymentInvalidSignature = errors.New("payment: invalid signature")
	// ErrPaymentSessionMissing indicates the order carries no gateway session.
	ErrPaymentSessionMissing = errors.New("payment: no session for order")
)

// PaymentServiceConfig carries the checkout-facing settings.
type PaymentServiceConfig struct {
	Currency   string
	SuccessURL string
	CancelURL  string
}

// PaymentServiceDeps bundles the collaborators required to construct a payment service.
type PaymentServiceDeps struct {
	Orders      repositories.OrderRepository
	Events      repositories.PaymentEventRepository
	Carts       repositories.CartRepository
	OrderFlow   OrderService
	Inventory   InventoryService
	Coupons     CouponService
	Providers   *payments.Manager
	Publisher   EventPublisher
	Config      PaymentServiceConfig
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type paymentService struct {
	orders    repositories.OrderRepository
	eventLog  repositories.PaymentEventRepository
	carts     repositories.CartRepository
	orderFlow OrderService
	inventory InventoryService
	coupons   CouponService
	providers *payments.Manager
	publisher EventPublisher
	cfg       PaymentServiceConfig
	clock     func() time.Time
	newID     func() string
	logger    Logger
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Events == nil {
		return nil, errors.New("payment service: payment event repository is required")
	}
	if deps.OrderFlow == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("payment service: inventory service is required")
	}
	if deps.Providers == nil {
		return nil, errors.New("payment service: provider manager is required")
	}

	cfg := deps.Config
	if cfg.Currency == "" {
		cfg.Currency = "jpy"
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

	return &paymentService{
		orders:    deps.Orders,
		eventLog:  deps.Events,
		carts:     deps.Carts,
		orderFlow: deps.OrderFlow,
		inventory: deps.Inventory,
		coupons:   deps.Coupons,
		providers: deps.Providers,
		publisher: deps.Publisher,
		cfg:       cfg,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateSession opens a gateway checkout session for a pending unpaid order.
// When the gateway rejects the request the reservation is unwound: stock goes
// back and the order moves to failed, so no stock stays held for a session
// that never existed.
func (s *paymentService) CreateSession(ctx context.Context, orderID string, actor domain.Actor) (PaymentSession, error) {
	order, err := s.orderFlow.Get(ctx, orderID, actor)
	if err != nil {
		return PaymentSession{}, err
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusUnpaid {
		return PaymentSession{}, fmt.Errorf("%w: status=%s payment=%s", ErrPaymentOrderNotPayable, order.Status, order.PaymentStatus)
	}

	providerName, provider, err := s.providers.Resolve("")
	if err != nil {
		return PaymentSession{}, err
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, payments.CheckoutLineItem{
			Name:     line.Name,
			Size:     line.Size,
			Quantity: int64(line.Quantity),
			Amount:   line.UnitPrice,
			Currency: s.cfg.Currency,
		})
	}

	session, err := provider.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Amount:     order.Amounts.Total,
		Currency:   s.cfg.Currency,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata: textutil.NormalizeStringMap(map[string]string{
			"orderId":   order.ID,
			"orderCode": order.Code,
		}),
		IdempotencyKey: "order-session-" + order.ID,
		Items:          items,
	})
	if err != nil {
		s.compensateFailedSession(ctx, order, err)
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	order.Payment = &domain.OrderPayment{
		Provider:          providerName,
		ExternalSessionID: session.ID,
		SessionURL:        session.URL,
	}
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order, domain.OrderStatusPending); err != nil {
		return PaymentSession{}, err
	}

	s.publish(ctx, eventPaymentSessionCreated, order, map[string]any{
		"provider":  providerName,
		"sessionId": session.ID,
	})
	return PaymentSession{
		OrderID:   order.ID,
		Provider:  providerName,
		SessionID: session.ID,
		URL:       session.URL,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// compensateFailedSession unwinds the order after a gateway failure. Fail
// restores stock through the stockRestored flag, so a concurrent cancel
// cannot double-restock. The never-confirmed order is then voided; it only
// ever existed to back a session the gateway refused to open.
func (s *paymentService) compensateFailedSession(ctx context.Context, order domain.Order, cause error) {
	s.logger(ctx, "payment_session_create_failed", map[string]any{
		"orderId": order.ID,
		"error":   cause.Error(),
	})
	if _, err := s.orderFlow.Fail(ctx, order.ID, "gateway session creation failed"); err != nil {
		s.logger(ctx, "payment_compensation_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		s.logger(ctx, "payment_order_void_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

// HandleCallback applies a gateway webhook. The signature is verified before
// anything else; an unverified payload causes no reads or writes. Replayed
// events are recorded but change nothing.
func (s *paymentService) HandleCallback(ctx context.Context, payload []byte, signature string) (CallbackResult, error) {
	_, provider, err := s.providers.Resolve("")
	if err != nil {
		return CallbackResult{}, err
	}

	event, err := provider.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return CallbackResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidSignature, err)
		}
		return CallbackResult{}, err
	}
	if event.SessionID == "" {
		s.logger(ctx, "payment_callback_without_session", map[string]any{"type": event.Type})
		return CallbackResult{EventType: event.Type}, nil
	}

	order, err := s.orders.FindByExternalSessionID(ctx, event.SessionID)
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound {
			s.logger(ctx, "payment_callback_unknown_session", map[string]any{
				"sessionId": event.SessionID,
				"type":      event.Type,
			})
			return CallbackResult{EventType: event.Type}, nil
		}
		return CallbackResult{}, err
	}

	s.recordEvent(ctx, order, event)

	applied, err := s.applyGatewayStatus(ctx, &order, event.Status)
	if err != nil {
		return CallbackResult{}, err
	}
	return CallbackResult{OrderID: order.ID, EventType: event.Type, Applied: applied}, nil
}

// VerifyStatus polls the gateway for the order's session and converges the
// order the same way a callback would. It backs up webhooks that never arrive.
func (s *paymentService) VerifyStatus(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	order, err := s.orderFlow.Get(ctx, orderID, actor)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Payment == nil || order.Payment.ExternalSessionID == "" {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrPaymentSessionMissing, orderID)
	}

	_, provider, err := s.providers.Resolve(order.Payment.Provider)
	if err != nil {
		return domain.Order{}, err
	}
	details, err := provider.LookupSession(ctx, order.Payment.ExternalSessionID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	if _, err := s.applyGatewayStatus(ctx, &order, details.Status); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// applyGatewayStatus converges the order onto the gateway's view. Already-paid
// orders ignore further success signals, making replays idempotent.
func (s *paymentService) applyGatewayStatus(ctx context.Context, order *domain.Order, status payments.Status) (bool, error) {
	switch status {
	case payments.StatusSucceeded:
		if order.PaymentStatus == domain.PaymentStatusPaid {
			return false, nil
		}
		return true, s.settleSuccess(ctx, order)
	case payments.StatusFailed, payments.StatusExpired:
		if order.Status != domain.OrderStatusPending {
			return false, nil
		}
		failed, err := s.orderFlow.Fail(ctx, order.ID, "gateway reported "+string(status))
		if err != nil {
			if errors.Is(err, ErrOrderInvalidTransition) {
				return false, nil
			}
			return false, err
		}
		*order = failed
		order.PaymentStatus = domain.PaymentStatusFailed
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, *order, domain.OrderStatusFailed); err != nil {
			return false, err
		}
		s.publish(ctx, eventPaymentFailed, *order, map[string]any{"gatewayStatus": string(status)})
		return true, nil
	default:
		return false, nil
	}
}

func (s *paymentService) settleSuccess(ctx context.Context, order *domain.Order) error {
	now := s.clock()
	from := order.Status
	order.PaymentStatus = domain.PaymentStatusPaid
	if order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusConfirmed
		order.ConfirmedAt = &now
	}
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, *order, from); err != nil {
		return err
	}

	if order.CouponCode != "" && s.coupons != nil {
		if _, err := s.coupons.Redeem(ctx, order.CouponCode); err != nil {
			s.logger(ctx, "payment_coupon_redeem_failed", map[string]any{
				"orderId": order.ID,
				"code":    order.CouponCode,
				"error":   err.Error(),
			})
		}
	}

	if s.carts != nil {
		if err := s.carts.ClearCart(ctx, order.UserID); err != nil {
			s.logger(ctx, "payment_cart_clear_failed", map[string]any{
				"orderId": order.ID,
				"userId":  order.UserID,
				"error":   err.Error(),
			})
		}
	}

	s.publish(ctx, eventPaymentSucceeded, *order, nil)
	return nil
}

// recordEvent appends the raw payload for audit. Append failures are logged
// and do not block reconciliation.
func (s *paymentService) recordEvent(ctx context.Context, order domain.Order, event payments.WebhookEvent) {
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		eventID = s.newID()
	}
	err := s.eventLog.Append(ctx, domain.PaymentEvent{
		ID:                eventID,
		OrderID:           order.ID,
		Provider:          event.Provider,
		ExternalSessionID: event.SessionID,
		EventType:         event.Type,
		Payload:           event.Raw,
		ReceivedAt:        s.clock(),
	})
	if err != nil {
		s.logger(ctx, "payment_event_append_failed", map[string]any{
			"orderId": order.ID,
			"eventId": eventID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) publish(ctx context.Context, eventType string, order domain.Order, extra map[string]any) {
	if s.publisher == nil {
		return
	}

	payload := map[string]any{
		"code":          order.Code,
		"paymentStatus": string(order.PaymentStatus),
	}
	for k, v := range extra {
		payload[k] = v
	}

	err := s.publisher.Publish(ctx, Event{
		ID:         s.newID(),
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		OccurredAt: s.clock(),
		Payload:    payload,
	})
	if err != nil {
		s.logger(ctx, "payment_event_publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}
