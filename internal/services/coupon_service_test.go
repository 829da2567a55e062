package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/repositories"
)

var couponNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCouponService(t *testing.T, repo repositories.CouponRepository) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{Coupons: repo, Clock: fixedClock(couponNow)})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	return svc
}

func activeCoupon() domain.Coupon {
	return domain.Coupon{
		ID:             "c1",
		Code:           "SAVE10",
		Percentage:     10,
		Active:         true,
		ValidFrom:      couponNow.Add(-24 * time.Hour),
		ValidUntil:     couponNow.Add(24 * time.Hour),
		MaxRedemptions: 100,
		UsedCount:      5,
	}
}

func TestCouponValidateNormalisesCode(t *testing.T) {
	var requested string
	repo := &stubCouponRepository{
		findByCode: func(_ context.Context, code string) (domain.Coupon, error) {
			requested = code
			return activeCoupon(), nil
		},
	}
	svc := newTestCouponService(t, repo)

	validation, err := svc.Validate(context.Background(), "  save10 ")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if requested != "SAVE10" {
		t.Errorf("repository queried with %q, want SAVE10", requested)
	}
	if !validation.Valid {
		t.Errorf("valid = false, reason = %s", validation.Reason)
	}
}

func TestCouponValidateRejectionOrder(t *testing.T) {
	// Existence, active flag, window, then cap. The first failing check names
	// the reason even when later checks would also fail.
	tests := []struct {
		name    string
		coupon  domain.Coupon
		missing bool
		want    domain.CouponRejectReason
	}{
		{
			name:    "not found",
			missing: true,
			want:    domain.CouponRejectNotFound,
		},
		{
			name: "inactive wins over expired and cap",
			coupon: func() domain.Coupon {
				c := activeCoupon()
				c.Active = false
				c.ValidUntil = couponNow.Add(-time.Hour)
				c.UsedCount = c.MaxRedemptions
				return c
			}(),
			want: domain.CouponRejectInactive,
		},
		{
			name: "expired wins over cap",
			coupon: func() domain.Coupon {
				c := activeCoupon()
				c.ValidUntil = couponNow.Add(-time.Hour)
				c.UsedCount = c.MaxRedemptions
				return c
			}(),
			want: domain.CouponRejectExpired,
		},
		{
			name: "not yet valid",
			coupon: func() domain.Coupon {
				c := activeCoupon()
				c.ValidFrom = couponNow.Add(time.Hour)
				return c
			}(),
			want: domain.CouponRejectExpired,
		},
		{
			name: "limit reached",
			coupon: func() domain.Coupon {
				c := activeCoupon()
				c.UsedCount = c.MaxRedemptions
				return c
			}(),
			want: domain.CouponRejectLimitReached,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubCouponRepository{
				findByCode: func(context.Context, string) (domain.Coupon, error) {
					if tc.missing {
						return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "no such coupon", nil)
					}
					return tc.coupon, nil
				},
			}
			svc := newTestCouponService(t, repo)

			validation, err := svc.Validate(context.Background(), "SAVE10")
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if validation.Valid {
				t.Fatal("valid = true, want rejection")
			}
			if validation.Reason != tc.want {
				t.Errorf("reason = %s, want %s", validation.Reason, tc.want)
			}
		})
	}
}

func TestCouponValidateZeroWindowAndCapUnlimited(t *testing.T) {
	coupon := activeCoupon()
	coupon.ValidFrom = time.Time{}
	coupon.ValidUntil = time.Time{}
	coupon.MaxRedemptions = 0
	coupon.UsedCount = 1_000_000

	repo := &stubCouponRepository{
		findByCode: func(context.Context, string) (domain.Coupon, error) { return coupon, nil },
	}
	svc := newTestCouponService(t, repo)

	validation, err := svc.Validate(context.Background(), "SAVE10")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !validation.Valid {
		t.Errorf("valid = false, reason = %s", validation.Reason)
	}
}

func TestCouponValidateEmptyCode(t *testing.T) {
	svc := newTestCouponService(t, &stubCouponRepository{})

	_, err := svc.Validate(context.Background(), "   ")
	if !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("err = %v, want ErrCouponInvalidInput", err)
	}
}

func TestCouponRedeem(t *testing.T) {
	repo := &stubCouponRepository{
		incrementUsage: func(_ context.Context, code string, now time.Time) (domain.Coupon, error) {
			if code != "SAVE10" {
				t.Fatalf("increment called with %q", code)
			}
			if !now.Equal(couponNow) {
				t.Fatalf("increment now = %v, want %v", now, couponNow)
			}
			c := activeCoupon()
			c.UsedCount++
			return c, nil
		},
	}
	svc := newTestCouponService(t, repo)

	coupon, err := svc.Redeem(context.Background(), "save10")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if coupon.UsedCount != 6 {
		t.Errorf("usedCount = %d, want 6", coupon.UsedCount)
	}
}

func TestCouponRedeemLimitReached(t *testing.T) {
	repo := &stubCouponRepository{
		incrementUsage: func(context.Context, string, time.Time) (domain.Coupon, error) {
			return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorLimitReached, "cap exhausted", nil)
		},
	}
	svc := newTestCouponService(t, repo)

	_, err := svc.Redeem(context.Background(), "SAVE10")
	if !errors.Is(err, ErrCouponNotRedeemable) {
		t.Fatalf("err = %v, want ErrCouponNotRedeemable", err)
	}
}
