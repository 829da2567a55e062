package repositories

import "fmt"

// InventoryErrorCode classifies inventory repository failures.
type InventoryErrorCode string

const (
	InventoryErrorUnknown           InventoryErrorCode = "inventory_unknown"
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	InventoryErrorStockNotFound     InventoryErrorCode = "inventory_stock_not_found"
	InventoryErrorInvalidQuantity   InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError carries a machine readable code so the service layer can map
// stock failures onto its own sentinels.
type InventoryError struct {
	Op      string
	Code    InventoryErrorCode
	Message string
	Err     error
}

func (e *InventoryError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return e.Message
	}
}

func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError builds a typed inventory error. The code doubles as the
// message when none is given.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{Code: code, Message: message, Err: err}
}
