package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/warpweft/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals the caller provided invalid arguments.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingCouponRejected indicates the supplied coupon code cannot be applied.
	ErrPricingCouponRejected = errors.New("pricing: coupon rejected")
	// ErrPricingNegativeTotal indicates the composed total dropped below zero.
	ErrPricingNegativeTotal = errors.New("pricing: negative total")
)

// PricingConfig externalises the storefront's commercial constants.
type PricingConfig struct {
	// BundleSize is the number of qualifying units forming one discounted set.
	BundleSize int
	// BundleSetPrice is the price charged per complete set.
	BundleSetPrice int64
	// BundleUnitPrice is the price charged per leftover qualifying unit.
	BundleUnitPrice int64
	// BundleCategories lists the product categories participating in the offer.
	BundleCategories []string
	// ShippingFee is the flat delivery fee.
	ShippingFee int64
	// FreeShippingRegion waives the fee for matching destination regions.
	FreeShippingRegion string
}

// PricingEngineDeps bundles the collaborators required to construct the engine.
type PricingEngineDeps struct {
	Coupons CouponService
	Config  PricingConfig
	Logger  Logger
}

type pricingEngine struct {
	coupons CouponService
	cfg     PricingConfig
	bundled map[string]struct{}
	logger  Logger
}

// NewPricingEngine wires dependencies into the canonical pricing implementation.
// Every caller that needs order totals goes through Quote; there is no second
// composition of these rules anywhere else.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Coupons == nil {
		return nil, errors.New("pricing engine: coupon service is required")
	}
	cfg := deps.Config
	if cfg.BundleSize <= 0 {
		cfg.BundleSize = 3
	}
	if cfg.BundleSetPrice < 0 || cfg.BundleUnitPrice < 0 || cfg.ShippingFee < 0 {
		return nil, errors.New("pricing engine: prices must be >= 0")
	}

	bundled := make(map[string]struct{}, len(cfg.BundleCategories))
	for _, category := range cfg.BundleCategories {
		category = strings.ToLower(strings.TrimSpace(category))
		if category != "" {
			bundled[category] = struct{}{}
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingEngine{
		coupons: deps.Coupons,
		cfg:     cfg,
		bundled: bundled,
		logger:  logger,
	}, nil
}

func (e *pricingEngine) Quote(ctx context.Context, input PricingInput) (PricingQuote, error) {
	var subtotal int64
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return PricingQuote{}, fmt.Errorf("%w: quantity for %s must be positive", ErrPricingInvalidInput, line.ProductID)
		}
		if line.UnitPrice < 0 {
			return PricingQuote{}, fmt.Errorf("%w: unit price for %s must be >= 0", ErrPricingInvalidInput, line.ProductID)
		}
		subtotal += line.LineTotal()
	}

	bundleDiscount := e.bundleDiscount(ctx, input.Lines)

	couponDiscount := int64(0)
	couponApplied := false
	if code := strings.TrimSpace(input.CouponCode); code != "" {
		validation, err := e.coupons.Validate(ctx, code)
		if err != nil {
			return PricingQuote{}, err
		}
		if !validation.Valid {
			return PricingQuote{}, fmt.Errorf("%w: %s", ErrPricingCouponRejected, validation.Reason)
		}
		eligible := subtotal - bundleDiscount
		// Rounded to the nearest unit, halves up: 149.85 charges 150 off.
		couponDiscount = (eligible*int64(validation.Coupon.Percentage) + 50) / 100
		couponApplied = true
	}

	shipping := e.shippingFee(subtotal, input.Destination)

	total := subtotal - bundleDiscount - couponDiscount + shipping
	if total < 0 {
		return PricingQuote{}, fmt.Errorf("%w: subtotal=%d bundle=%d coupon=%d shipping=%d", ErrPricingNegativeTotal, subtotal, bundleDiscount, couponDiscount, shipping)
	}

	return PricingQuote{
		Amounts: domain.OrderAmounts{
			Subtotal:       subtotal,
			BundleDiscount: bundleDiscount,
			CouponDiscount: couponDiscount,
			Shipping:       shipping,
			Total:          total,
		},
		CouponApplied: couponApplied,
	}, nil
}

// bundleDiscount prices the qualifying pool as complete sets plus leftover
// units and returns the savings against the items' own prices. Units from
// every qualifying line pool together regardless of product or size.
func (e *pricingEngine) bundleDiscount(ctx context.Context, lines []domain.OrderLine) int64 {
	var pool int64
	var qualifyingTotal int64
	for _, line := range lines {
		category := strings.ToLower(strings.TrimSpace(line.Category))
		if _, ok := e.bundled[category]; !ok {
			continue
		}
		pool += int64(line.Quantity)
		qualifyingTotal += line.LineTotal()
	}
	if pool == 0 {
		return 0
	}

	size := int64(e.cfg.BundleSize)
	sets := pool / size
	remainder := pool % size
	offerTotal := sets*e.cfg.BundleSetPrice + remainder*e.cfg.BundleUnitPrice

	discount := qualifyingTotal - offerTotal
	if discount < 0 {
		e.logger(ctx, "bundle_offer_above_item_prices", map[string]any{
			"pool":            pool,
			"qualifyingTotal": qualifyingTotal,
			"offerTotal":      offerTotal,
		})
		return 0
	}
	return discount
}

// shippingFee returns the flat fee unless the order is empty or the
// destination region matches the free-shipping region case-insensitively.
func (e *pricingEngine) shippingFee(subtotal int64, destination domain.Address) int64 {
	if subtotal == 0 {
		return 0
	}
	region := strings.TrimSpace(destination.Region)
	if e.cfg.FreeShippingRegion != "" && strings.EqualFold(region, e.cfg.FreeShippingRegion) {
		return 0
	}
	return e.cfg.ShippingFee
}
