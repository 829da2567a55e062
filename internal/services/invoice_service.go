package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/platform/storage"
)

// ErrInvoiceNotFound indicates no rendered invoice exists for the order yet.
var ErrInvoiceNotFound = errors.New("invoice: not found")

// InvoiceServiceDeps bundles the collaborators required to construct an invoice service.
type InvoiceServiceDeps struct {
	Orders  OrderService
	Objects storage.Reader
	Logger  Logger
}

type invoiceService struct {
	orders  OrderService
	objects storage.Reader
	logger  Logger
}

// NewInvoiceService wires dependencies into a concrete InvoiceService implementation.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Orders == nil {
		return nil, errors.New("invoice service: order service is required")
	}
	if deps.Objects == nil {
		return nil, errors.New("invoice service: object reader is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &invoiceService{orders: deps.Orders, objects: deps.Objects, logger: logger}, nil
}

// Fetch streams the rendered invoice after the order-level access check.
// Going through OrderService.Get means the owner/admin rule lives in one place.
func (s *invoiceService) Fetch(ctx context.Context, orderID string, actor domain.Actor) (InvoiceDocument, error) {
	order, err := s.orders.Get(ctx, orderID, actor)
	if err != nil {
		return InvoiceDocument{}, err
	}

	path, err := storage.InvoiceObjectPath(order.ID)
	if err != nil {
		return InvoiceDocument{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	object, err := s.objects.Open(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return InvoiceDocument{}, fmt.Errorf("%w: order %s", ErrInvoiceNotFound, order.ID)
		}
		return InvoiceDocument{}, err
	}

	contentType := object.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	return InvoiceDocument{
		Filename:    fmt.Sprintf("invoice-%s.pdf", order.Code),
		ContentType: contentType,
		Size:        object.Size,
		Content:     object.Body,
	}, nil
}
