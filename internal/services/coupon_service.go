package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/repositories"
)

var (
	// ErrCouponInvalidInput signals the caller provided invalid arguments.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotRedeemable indicates redemption failed because the cap is exhausted.
	ErrCouponNotRedeemable = errors.New("coupon: not redeemable")
)

// CouponServiceDeps bundles collaborators for the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  Logger
}

type couponService struct {
	repo   repositories.CouponRepository
	clock  func() time.Time
	logger Logger
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		repo: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Validate checks a code against existence, active flag, validity window, and
// redemption cap, in that order. The first failing check wins.
func (s *couponService) Validate(ctx context.Context, code string) (CouponValidation, error) {
	normalised := strings.ToUpper(strings.TrimSpace(code))
	if normalised == "" {
		return CouponValidation{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.repo.FindByCode(ctx, normalised)
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) && couponErr.Code == repositories.CouponErrorNotFound {
			return CouponValidation{Reason: domain.CouponRejectNotFound}, nil
		}
		return CouponValidation{}, err
	}

	if !coupon.Active {
		return CouponValidation{Reason: domain.CouponRejectInactive, Coupon: coupon}, nil
	}

	now := s.clock()
	if (!coupon.ValidFrom.IsZero() && now.Before(coupon.ValidFrom)) ||
		(!coupon.ValidUntil.IsZero() && now.After(coupon.ValidUntil)) {
		return CouponValidation{Reason: domain.CouponRejectExpired, Coupon: coupon}, nil
	}

	if coupon.MaxRedemptions > 0 && coupon.UsedCount >= coupon.MaxRedemptions {
		return CouponValidation{Reason: domain.CouponRejectLimitReached, Coupon: coupon}, nil
	}

	return CouponValidation{Valid: true, Coupon: coupon}, nil
}

// Redeem counts one use against the coupon's cap at confirmation time.
func (s *couponService) Redeem(ctx context.Context, code string) (domain.Coupon, error) {
	normalised := strings.ToUpper(strings.TrimSpace(code))
	if normalised == "" {
		return domain.Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	coupon, err := s.repo.IncrementUsage(ctx, normalised, s.clock())
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) && couponErr.Code == repositories.CouponErrorLimitReached {
			return domain.Coupon{}, fmt.Errorf("%w: %s", ErrCouponNotRedeemable, couponErr.Message)
		}
		return domain.Coupon{}, err
	}

	s.logger(ctx, "coupon_redeemed", map[string]any{
		"code":      coupon.Code,
		"usedCount": coupon.UsedCount,
	})
	return coupon, nil
}
