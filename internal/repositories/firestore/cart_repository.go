package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/warpweft/api/internal/domain"
	pfirestore "github.com/warpweft/api/internal/platform/firestore"
	"github.com/warpweft/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists per-user cart headers keyed by user ID.
type CartRepository struct {
	base     *pfirestore.Collection[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewCollection[cartDocument](provider, cartCollection)
	return &CartRepository{base: base, provider: provider}, nil
}

// GetCart loads the cart for the given user ID. A missing cart comes back empty.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Cart{UserID: uid}, nil
		}
		return domain.Cart{}, err
	}

	lines := make([]domain.OrderLine, len(doc.Data.Lines))
	for i, line := range doc.Data.Lines {
		lines[i] = domain.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Category:  line.Category,
			Size:      line.Size,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		}
	}
	return domain.Cart{
		UserID:    uid,
		Lines:     lines,
		UpdatedAt: doc.UpdateTime,
	}, nil
}

// ClearCart deletes the user's cart document. Clearing an absent cart is a no-op.
func (r *CartRepository) ClearCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	ref, err := r.base.Doc(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		wrapped := pfirestore.WrapError("carts.clear", err)
		var repoErr *pfirestore.Error
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapped
	}
	return nil
}

type cartDocument struct {
	Lines     []orderLineDocument `firestore:"lines"`
	UpdatedAt time.Time           `firestore:"updatedAt"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
