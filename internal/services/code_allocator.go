package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/warpweft/api/internal/repositories"
)

const (
	orderCodeAlphabet       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultOrderCodeLength  = 4
	defaultAllocateAttempts = 5
)

// ErrOrderCodeExhausted indicates no free code was found within the retry budget.
var ErrOrderCodeExhausted = errors.New("order code: allocation attempts exhausted")

// OrderCodeAllocatorDeps bundles collaborators for the code allocator.
type OrderCodeAllocatorDeps struct {
	Orders      repositories.OrderRepository
	CodeLength  int
	MaxAttempts int
	Logger      Logger
	// Random overrides the code source, used by tests.
	Random func(length int) (string, error)
}

type orderCodeAllocator struct {
	orders      repositories.OrderRepository
	codeLength  int
	maxAttempts int
	logger      Logger
	random      func(length int) (string, error)
}

// NewOrderCodeAllocator builds an allocator that issues random uppercase
// alphanumeric codes and verifies uniqueness before handing them out.
func NewOrderCodeAllocator(deps OrderCodeAllocatorDeps) (OrderCodeAllocator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order code allocator: order repository is required")
	}

	length := deps.CodeLength
	if length <= 0 {
		length = defaultOrderCodeLength
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAllocateAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	random := deps.Random
	if random == nil {
		random = randomOrderCode
	}

	return &orderCodeAllocator{
		orders:      deps.Orders,
		codeLength:  length,
		maxAttempts: attempts,
		logger:      logger,
		random:      random,
	}, nil
}

func (a *orderCodeAllocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		code, err := a.random(a.codeLength)
		if err != nil {
			return "", fmt.Errorf("order code: generate: %w", err)
		}

		exists, err := a.orders.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("order code: uniqueness check: %w", err)
		}
		if !exists {
			return code, nil
		}

		a.logger(ctx, "order_code_collision", map[string]any{
			"code":    code,
			"attempt": attempt,
		})
	}
	return "", fmt.Errorf("%w: after %d attempts", ErrOrderCodeExhausted, a.maxAttempts)
}

func randomOrderCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = orderCodeAlphabet[int(b)%len(orderCodeAlphabet)]
	}
	return string(buf), nil
}
