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

const stockCollection = "stockLevels"

// InventoryRepository stores one availability document per (product, size) bucket.
type InventoryRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.Collection[stockDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	stocks := pfirestore.NewCollection[stockDocument](provider, stockCollection)
	return &InventoryRepository{provider: provider, stocks: stocks}, nil
}

// Reserve decrements availability for every line inside one transaction. All
// buckets are read and validated before the first write, so a shortfall on any
// line leaves every bucket untouched.
func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockMutationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockMutationResult{}, errors.New("inventory repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockMutationResult{}, errors.New("inventory reserve: at least one line is required")
	}

	now := req.Now.UTC()
	var result repositories.StockMutationResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc stockDocument
			key string
		}

		writes := make([]pending, 0, len(req.Lines))
		for _, line := range req.Lines {
			key, err := stockDocumentID(line.ProductID, line.Size)
			if err != nil {
				return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, err.Error(), nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("inventory reserve: quantity for %s must be > 0", key), nil)
			}

			stockRef, err := r.stocks.Doc(ctx, key)
			if err != nil {
				return err
			}
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", key), err)
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock level %s: %w", key, err)
			}
			if doc.Available < line.Quantity {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", key), nil)
			}
			doc.Available -= line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pending{ref: stockRef, doc: doc, key: key})
		}

		levels := make(map[string]domain.StockLevel, len(writes))
		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
			levels[w.key] = w.doc.toDomain()
		}

		result = repositories.StockMutationResult{Levels: levels}
		return nil
	})
	if err != nil {
		return repositories.StockMutationResult{}, wrapInventoryError("inventory.reserve", err)
	}
	return result, nil
}

// Restore increments availability for every line inside one transaction.
// Missing buckets are skipped rather than failing the restock.
func (r *InventoryRepository) Restore(ctx context.Context, req repositories.StockRestoreRequest) (repositories.StockMutationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockMutationResult{}, errors.New("inventory repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockMutationResult{}, errors.New("inventory restore: at least one line is required")
	}

	now := req.Now.UTC()
	var result repositories.StockMutationResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc stockDocument
			key string
		}

		writes := make([]pending, 0, len(req.Lines))
		for _, line := range req.Lines {
			key, err := stockDocumentID(line.ProductID, line.Size)
			if err != nil {
				return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, err.Error(), nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("inventory restore: quantity for %s must be > 0", key), nil)
			}

			stockRef, err := r.stocks.Doc(ctx, key)
			if err != nil {
				return err
			}
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock level %s: %w", key, err)
			}
			doc.Available += line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pending{ref: stockRef, doc: doc, key: key})
		}

		levels := make(map[string]domain.StockLevel, len(writes))
		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
			levels[w.key] = w.doc.toDomain()
		}

		result = repositories.StockMutationResult{Levels: levels}
		return nil
	})
	if err != nil {
		return repositories.StockMutationResult{}, wrapInventoryError("inventory.restore", err)
	}
	return result, nil
}

// Adjust sets the absolute availability of one bucket, creating it when absent.
func (r *InventoryRepository) Adjust(ctx context.Context, productID string, size string, quantity int, now time.Time) (domain.StockLevel, error) {
	if r == nil || r.provider == nil {
		return domain.StockLevel{}, errors.New("inventory repository not initialised")
	}
	key, err := stockDocumentID(productID, size)
	if err != nil {
		return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, err.Error(), nil)
	}
	if quantity < 0 {
		return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "inventory adjust: quantity must be >= 0", nil)
	}

	var updated domain.StockLevel
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stockRef, err := r.stocks.Doc(ctx, key)
		if err != nil {
			return err
		}
		var doc stockDocument
		snap, err := tx.Get(stockRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			doc = stockDocument{}
		} else if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock level %s: %w", key, err)
		}
		doc.ProductID = strings.TrimSpace(productID)
		doc.Size = strings.TrimSpace(size)
		doc.Available = quantity
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(stockRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain()
		return nil
	})
	if err != nil {
		return domain.StockLevel{}, wrapInventoryError("inventory.adjust", err)
	}
	return updated, nil
}

// GetLevel loads the availability of one bucket.
func (r *InventoryRepository) GetLevel(ctx context.Context, productID string, size string) (domain.StockLevel, error) {
	if r == nil || r.stocks == nil {
		return domain.StockLevel{}, errors.New("inventory repository not initialised")
	}
	key, err := stockDocumentID(productID, size)
	if err != nil {
		return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, err.Error(), nil)
	}

	doc, err := r.stocks.Get(ctx, key)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", key), err)
		}
		return domain.StockLevel{}, wrapInventoryError("inventory.getLevel", err)
	}
	return doc.Data.toDomain(), nil
}

// Helper structures ---------------------------------------------------------

type stockDocument struct {
	ProductID string    `firestore:"productId"`
	Size      string    `firestore:"size"`
	Available int       `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s stockDocument) toDomain() domain.StockLevel {
	return domain.StockLevel{
		ProductID: strings.TrimSpace(s.ProductID),
		Size:      strings.TrimSpace(s.Size),
		Available: s.Available,
		UpdatedAt: s.UpdatedAt,
	}
}

func stockDocumentID(productID string, size string) (string, error) {
	productID = strings.TrimSpace(productID)
	size = strings.TrimSpace(size)
	if productID == "" {
		return "", errors.New("inventory: product id is required")
	}
	if size == "" {
		return "", errors.New("inventory: size is required")
	}
	return productID + "#" + size, nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
