package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/services"
)

func mountCouponRoutes(h *CouponHandlers) http.Handler {
	r := chi.NewRouter()
	r.Route("/public", h.Routes)
	return r
}

func TestValidateCouponHandlerValid(t *testing.T) {
	coupons := &stubCouponService{
		validate: func(_ context.Context, code string) (services.CouponValidation, error) {
			if code != "SAVE10" {
				t.Fatalf("validate called with %q", code)
			}
			return services.CouponValidation{
				Valid:  true,
				Coupon: domain.Coupon{Code: "SAVE10", Percentage: 10},
			}, nil
		},
	}
	handler := mountCouponRoutes(NewCouponHandlers(coupons))

	req := httptest.NewRequest(http.MethodPost, "/public/coupons:validate", strings.NewReader(`{"code": "SAVE10"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Valid              bool   `json:"valid"`
		Code               string `json:"code"`
		DiscountPercentage int    `json:"discountPercentage"`
	}
	decodeJSON(t, rec.Body, &resp)
	if !resp.Valid || resp.Code != "SAVE10" || resp.DiscountPercentage != 10 {
		t.Errorf("response = %+v", resp)
	}
}

func TestValidateCouponHandlerUnknownCodeIs404(t *testing.T) {
	coupons := &stubCouponService{
		validate: func(context.Context, string) (services.CouponValidation, error) {
			return services.CouponValidation{Reason: domain.CouponRejectNotFound}, nil
		},
	}
	handler := mountCouponRoutes(NewCouponHandlers(coupons))

	req := httptest.NewRequest(http.MethodPost, "/public/coupons:validate", strings.NewReader(`{"code": "nope"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	decodeJSON(t, rec.Body, &resp)
	if resp.Error != "coupon_not_found" {
		t.Errorf("error = %q, want coupon_not_found", resp.Error)
	}
	if !strings.Contains(resp.Message, "NOPE") {
		t.Errorf("message = %q, want the uppercased code", resp.Message)
	}
}

func TestValidateCouponHandlerRejectedCodeIs422(t *testing.T) {
	reasons := []domain.CouponRejectReason{
		domain.CouponRejectInactive,
		domain.CouponRejectExpired,
		domain.CouponRejectLimitReached,
	}
	for _, reason := range reasons {
		t.Run(string(reason), func(t *testing.T) {
			coupons := &stubCouponService{
				validate: func(context.Context, string) (services.CouponValidation, error) {
					return services.CouponValidation{Reason: reason}, nil
				},
			}
			handler := mountCouponRoutes(NewCouponHandlers(coupons))

			req := httptest.NewRequest(http.MethodPost, "/public/coupons:validate", strings.NewReader(`{"code": "old10"}`))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
			}
			var resp struct {
				Error   string `json:"error"`
				Message string `json:"message"`
			}
			decodeJSON(t, rec.Body, &resp)
			if resp.Error != "coupon_rejected" {
				t.Errorf("error = %q, want coupon_rejected", resp.Error)
			}
			if !strings.Contains(resp.Message, string(reason)) {
				t.Errorf("message = %q, want reason %s", resp.Message, reason)
			}
		})
	}
}

func TestValidateCouponHandlerEmptyCode(t *testing.T) {
	coupons := &stubCouponService{
		validate: func(context.Context, string) (services.CouponValidation, error) {
			return services.CouponValidation{}, services.ErrCouponInvalidInput
		},
	}
	handler := mountCouponRoutes(NewCouponHandlers(coupons))

	req := httptest.NewRequest(http.MethodPost, "/public/coupons:validate", strings.NewReader(`{"code": "  "}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestValidateCouponHandlerBadJSON(t *testing.T) {
	handler := mountCouponRoutes(NewCouponHandlers(&stubCouponService{}))

	req := httptest.NewRequest(http.MethodPost, "/public/coupons:validate", strings.NewReader("not-json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
