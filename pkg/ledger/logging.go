package ledger

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation    string
	PhoneNumber  PhoneNumber
	OfferID      OfferID
	OptionNumber int
	Amount       AmountCents
	Balance      AmountCents
	Status       string
	Error        error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithMinimumBundlePrice overrides the lowest price a bundle may be sold for.
func WithMinimumBundlePrice(price AmountCents) ServiceOption {
	return func(service *Service) {
		service.minimumBundlePrice = price
	}
}

// WithTransactionTimeout bounds each balance-mutating unit of work.
func WithTransactionTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		service.transactionTimeout = timeout
	}
}
