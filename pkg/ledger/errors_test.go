package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

const (
	operationName    = "ledger"
	subjectName      = "entry"
	codeName         = "invalid"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrappedError)
	}
	if operationError.Operation() != operationName || operationError.Subject() != subjectName || operationError.Code() != codeName {
		test.Fatalf("unexpected segments: %+v", operationError)
	}
	if !errors.Is(wrappedError, baseError) {
		test.Fatalf("expected wrapped error to unwrap to base")
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestErrorCodeMapping(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "phone", err: ErrInvalidPhoneNumber, expected: CodeInvalidRequest},
		{name: "amount wrapped", err: fmt.Errorf("%w: negative", ErrInvalidAmount), expected: CodeInvalidRequest},
		{name: "catalog", err: ErrCatalogNotFound, expected: CodeCatalogNotFound},
		{name: "option", err: ErrInvalidOption, expected: CodeInvalidOption},
		{name: "account missing", err: WrapError("store", "account", "read", ErrAccountNotFound), expected: CodeAccountNotFound},
		{name: "account exists", err: ErrAccountExists, expected: CodeAccountExists},
		{name: "insufficient", err: ErrInsufficientBalance, expected: CodeInsufficientBalance},
		{name: "conflict", err: ErrBalanceConflict, expected: CodeInsufficientBalance},
		{name: "minimum", err: ErrBelowMinimumPrice, expected: CodeBelowMinimumPrice},
		{name: "store", err: storeFailure(context.DeadlineExceeded), expected: CodeStoreUnavailable},
		{name: "unknown", err: errors.New("unknown"), expected: CodeInternal},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if code := ErrorCode(testCase.err); code != testCase.expected {
				test.Fatalf("expected %q, got %q", testCase.expected, code)
			}
		})
	}
}

func TestStoreFailurePassesDomainErrors(test *testing.T) {
	test.Parallel()
	if err := storeFailure(nil); err != nil {
		test.Fatalf("expected nil, got %v", err)
	}
	domain := WrapError("store", "account", "adjust", ErrBalanceConflict)
	if err := storeFailure(domain); err != domain {
		test.Fatalf("expected domain error unchanged, got %v", err)
	}
	infrastructure := errors.New("connection refused")
	wrapped := storeFailure(infrastructure)
	if !errors.Is(wrapped, ErrStoreUnavailable) || !errors.Is(wrapped, infrastructure) {
		test.Fatalf("expected store unavailable wrapping cause, got %v", wrapped)
	}
}
