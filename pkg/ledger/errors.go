package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the catalog and purchase service.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCatalogNotFound     = errors.New("catalog group not found")
	ErrInvalidOption       = errors.New("invalid option number")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimumPrice   = errors.New("bundle price below minimum")
	ErrStoreUnavailable    = errors.New("store unavailable")

	ErrBalanceConflict      = errors.New("balance conflict")
	ErrInvalidServiceConfig = errors.New("invalid service config")

	ErrInvalidPhoneNumber      = fmt.Errorf("%w: phone number", ErrInvalidRequest)
	ErrInvalidDisplayName      = fmt.Errorf("%w: display name", ErrInvalidRequest)
	ErrInvalidCatalogName      = fmt.Errorf("%w: catalog name", ErrInvalidRequest)
	ErrInvalidAmount           = fmt.Errorf("%w: amount", ErrInvalidRequest)
	ErrInvalidQuantity         = fmt.Errorf("%w: quantity", ErrInvalidRequest)
	ErrInvalidPurchaseRecordID = fmt.Errorf("%w: purchase record id", ErrInvalidRequest)
	ErrInvalidPurchaseGrant    = fmt.Errorf("%w: purchase grant", ErrInvalidRequest)
)

// Stable machine-readable identifiers for each error kind.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeCatalogNotFound     = "catalog_not_found"
	CodeInvalidOption       = "invalid_option"
	CodeAccountNotFound     = "account_not_found"
	CodeAccountExists       = "account_exists"
	CodeInsufficientBalance = "insufficient_balance"
	CodeBelowMinimumPrice   = "below_minimum_price"
	CodeStoreUnavailable    = "store_unavailable"
	CodeInternal            = "internal_error"
)

var errorCodes = []struct {
	target error
	code   string
}{
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrCatalogNotFound, CodeCatalogNotFound},
	{ErrInvalidOption, CodeInvalidOption},
	{ErrAccountNotFound, CodeAccountNotFound},
	{ErrAccountExists, CodeAccountExists},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrBalanceConflict, CodeInsufficientBalance},
	{ErrBelowMinimumPrice, CodeBelowMinimumPrice},
	{ErrStoreUnavailable, CodeStoreUnavailable},
}

// ErrorCode maps an error onto its stable identifier. It returns "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.target) {
			return candidate.code
		}
	}
	return CodeInternal
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// isDomainError reports whether err already carries a user-visible kind.
func isDomainError(err error) bool {
	code := ErrorCode(err)
	return code != CodeInternal && code != ""
}
