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
	"github.com/warpweft/api/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository stores discount codes keyed by their normalised code.
type CouponRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewCollection[couponDocument](provider, couponCollection)
	return &CouponRepository{provider: provider, base: base}, nil
}

// FindByCode loads a coupon by its normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	id := couponDocumentID(code)
	if id == "" {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon code is required", nil)
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", id), err)
		}
		return domain.Coupon{}, pfirestore.WrapError("coupons.findByCode", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert persists the coupon definition.
func (r *CouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	id := couponDocumentID(coupon.Code)
	if id == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}

	doc := newCouponDocument(coupon)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := r.base.Set(ctx, id, doc); err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.upsert", err)
	}
	return doc.toDomain(id), nil
}

// IncrementUsage bumps usedCount transactionally and enforces the redemption cap.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	id := couponDocumentID(code)
	if id == "" {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon code is required", nil)
	}

	var updated domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.Doc(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewCouponError(repositories.CouponErrorNotFound, fmt.Sprintf("coupon %s not found", id), err)
			}
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", id, err)
		}
		if doc.MaxRedemptions > 0 && doc.UsedCount >= doc.MaxRedemptions {
			return repositories.NewCouponError(repositories.CouponErrorLimitReached, fmt.Sprintf("coupon %s redemption limit reached", id), nil)
		}
		doc.UsedCount++
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) {
			return domain.Coupon{}, couponErr
		}
		return domain.Coupon{}, pfirestore.WrapError("coupons.incrementUsage", err)
	}
	return updated, nil
}

// Helper structures ---------------------------------------------------------

type couponDocument struct {
	Code           string    `firestore:"code"`
	Percentage     int       `firestore:"percentage"`
	Active         bool      `firestore:"active"`
	ValidFrom      time.Time `firestore:"validFrom"`
	ValidUntil     time.Time `firestore:"validUntil"`
	MaxRedemptions int       `firestore:"maxRedemptions"`
	UsedCount      int       `firestore:"usedCount"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func newCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Code:           couponDocumentID(coupon.Code),
		Percentage:     coupon.Percentage,
		Active:         coupon.Active,
		ValidFrom:      coupon.ValidFrom.UTC(),
		ValidUntil:     coupon.ValidUntil.UTC(),
		MaxRedemptions: coupon.MaxRedemptions,
		UsedCount:      coupon.UsedCount,
		CreatedAt:      coupon.CreatedAt.UTC(),
		UpdatedAt:      coupon.UpdatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:             id,
		Code:           d.Code,
		Percentage:     d.Percentage,
		Active:         d.Active,
		ValidFrom:      d.ValidFrom,
		ValidUntil:     d.ValidUntil,
		MaxRedemptions: d.MaxRedemptions,
		UsedCount:      d.UsedCount,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func couponDocumentID(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
