package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/platform/storage"
)

type stubObjectReader struct {
	open func(ctx context.Context, object string) (storage.Object, error)
}

func (s *stubObjectReader) Open(ctx context.Context, object string) (storage.Object, error) {
	return s.open(ctx, object)
}

func newTestInvoiceService(t *testing.T, orders OrderService, objects storage.Reader) InvoiceService {
	t.Helper()
	svc, err := NewInvoiceService(InvoiceServiceDeps{Orders: orders, Objects: objects})
	if err != nil {
		t.Fatalf("NewInvoiceService: %v", err)
	}
	return svc
}

func TestInvoiceFetch(t *testing.T) {
	orders := &stubOrderService{
		get: func(_ context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
			if actor.UserID != "user-1" {
				t.Fatalf("get called with actor %q", actor.UserID)
			}
			order := pendingOrder()
			order.ID = orderID
			return order, nil
		},
	}
	objects := &stubObjectReader{
		open: func(_ context.Context, object string) (storage.Object, error) {
			if object != "invoices/ord-1.pdf" {
				t.Fatalf("open called with %q", object)
			}
			return storage.Object{
				Name:        object,
				ContentType: "application/pdf",
				Size:        42,
				Body:        io.NopCloser(strings.NewReader("%PDF-1.7")),
			}, nil
		},
	}
	svc := newTestInvoiceService(t, orders, objects)

	doc, err := svc.Fetch(context.Background(), "ord-1", domain.Actor{UserID: "user-1", Role: domain.ActorRoleUser})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer doc.Content.Close()

	if doc.Filename != "invoice-AB12.pdf" {
		t.Errorf("filename = %q, want invoice-AB12.pdf", doc.Filename)
	}
	if doc.ContentType != "application/pdf" {
		t.Errorf("contentType = %q", doc.ContentType)
	}
	if doc.Size != 42 {
		t.Errorf("size = %d, want 42", doc.Size)
	}
}

func TestInvoiceFetchContentTypeFallback(t *testing.T) {
	orders := &stubOrderService{
		get: func(context.Context, string, domain.Actor) (domain.Order, error) {
			return pendingOrder(), nil
		},
	}
	objects := &stubObjectReader{
		open: func(context.Context, string) (storage.Object, error) {
			return storage.Object{Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}
	svc := newTestInvoiceService(t, orders, objects)

	doc, err := svc.Fetch(context.Background(), "ord-1", domain.Actor{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer doc.Content.Close()

	if doc.ContentType != "application/pdf" {
		t.Errorf("contentType = %q, want the pdf fallback", doc.ContentType)
	}
}

func TestInvoiceFetchForbiddenOrder(t *testing.T) {
	orders := &stubOrderService{
		get: func(context.Context, string, domain.Actor) (domain.Order, error) {
			return domain.Order{}, ErrOrderForbidden
		},
	}
	objects := &stubObjectReader{
		open: func(context.Context, string) (storage.Object, error) {
			t.Fatal("the object store must not be touched when access is denied")
			return storage.Object{}, nil
		},
	}
	svc := newTestInvoiceService(t, orders, objects)

	_, err := svc.Fetch(context.Background(), "ord-1", domain.Actor{UserID: "user-2"})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("err = %v, want ErrOrderForbidden", err)
	}
}

func TestInvoiceFetchMissingObject(t *testing.T) {
	orders := &stubOrderService{
		get: func(context.Context, string, domain.Actor) (domain.Order, error) {
			return pendingOrder(), nil
		},
	}
	objects := &stubObjectReader{
		open: func(context.Context, string) (storage.Object, error) {
			return storage.Object{}, storage.ErrObjectNotFound
		},
	}
	svc := newTestInvoiceService(t, orders, objects)

	_, err := svc.Fetch(context.Background(), "ord-1", domain.Actor{UserID: "user-1"})
	if !errors.Is(err, ErrInvoiceNotFound) {
		t.Fatalf("err = %v, want ErrInvoiceNotFound", err)
	}
}
