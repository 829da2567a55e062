package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/platform/httpx"
	"github.com/warpweft/api/internal/services"
)

const maxCouponBodySize = 4 * 1024

type validateCouponRequest struct {
	Code string `json:"code"`
}

// CouponHandlers exposes the public coupon validation endpoint.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers the coupon endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/coupons:validate", h.validateCoupon)
}

// validateCoupon reports whether a code is currently applicable. An unknown
// code is a 404; a known but unusable code is a 422 naming the reason.
func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req validateCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	validation, err := h.coupons.Validate(ctx, req.Code)
	if err != nil {
		if errors.Is(err, services.ErrCouponInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to validate coupon", http.StatusInternalServerError))
		return
	}

	if !validation.Valid {
		writeCouponRejection(ctx, w, req.Code, validation.Reason)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"valid":              true,
		"code":               validation.Coupon.Code,
		"discountPercentage": validation.Coupon.Percentage,
	})
}

func writeCouponRejection(ctx context.Context, w http.ResponseWriter, rawCode string, reason domain.CouponRejectReason) {
	code := strings.ToUpper(strings.TrimSpace(rawCode))
	if reason == domain.CouponRejectNotFound {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", fmt.Sprintf("coupon %s not found", code), http.StatusNotFound))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", fmt.Sprintf("coupon %s rejected: %s", code, reason), http.StatusUnprocessableEntity))
}
