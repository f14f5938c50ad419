package ledger

import "time"

const (
	operationRegister = "register"
	operationTopUp    = "topup"
	operationPurchase = "purchase"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	maxAmountCents int64 = 1<<53 - 1

	// DefaultMinimumBundlePriceCents is the lowest price a bundle may be sold for.
	DefaultMinimumBundlePriceCents AmountCents = 100_00
	// DefaultTransactionTimeout bounds a single purchase or top-up unit of work.
	DefaultTransactionTimeout = 5 * time.Second
)
