// Package oplog writes ledger operation events to zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"go.uber.org/zap"
)

const (
	messageOperation       = "wallet operation"
	messageOperationFailed = "wallet operation failed"
)

// Logger implements ledger.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger. A nil logger discards every entry.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("ledger")}
}

// LogOperation logs successful operations at info and failures at warn.
func (operationLogger *Logger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("phone_number", entry.PhoneNumber.String()),
	}
	if entry.OfferID != 0 {
		fields = append(fields, zap.Int64("offer_id", entry.OfferID.Int64()))
	}
	if entry.OptionNumber != 0 {
		fields = append(fields, zap.Int("option_number", entry.OptionNumber))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.String("error_code", ledger.ErrorCode(entry.Error)), zap.Error(entry.Error))
		operationLogger.logger.Warn(messageOperationFailed, fields...)
		return
	}
	fields = append(fields, zap.String("balance", entry.Balance.String()))
	operationLogger.logger.Info(messageOperation, fields...)
}
