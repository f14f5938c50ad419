package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	messageInvalidPayload = "expected JSON body"
	messageInternal       = "internal error"
)

type httpHandler struct {
	logger  *zap.Logger
	service WalletService
	catalog CatalogReader
	cfg     Config
}

type registerRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

type topUpRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type purchaseRequest struct {
	PhoneNumber  string `json:"phone_number"`
	MainType     string `json:"main_type"`
	SubType      string `json:"sub_type"`
	Period       string `json:"period"`
	OptionNumber *int   `json:"option_number"`
}

type balanceResponse struct {
	PhoneNumber string          `json:"phone_number"`
	Balance     decimal.Decimal `json:"balance"`
}

type catalogGroupPayload struct {
	Label    string                 `json:"label"`
	MainType string                 `json:"main_type"`
	SubType  string                 `json:"sub_type"`
	Period   string                 `json:"period"`
	Options  []catalogOptionPayload `json:"options"`
}

type catalogOptionPayload struct {
	Option   int             `json:"option"`
	OfferID  int64           `json:"offer_id"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type purchaseResponse struct {
	Message      string          `json:"message"`
	MainType     string          `json:"main_type"`
	SubType      string          `json:"sub_type"`
	Period       string          `json:"period"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	OptionNumber int             `json:"option_number"`
}

type bundlePayload struct {
	ID               string          `json:"id"`
	OfferID          int64           `json:"offer_id"`
	MainType         string          `json:"main_type"`
	SubType          string          `json:"sub_type"`
	Period           string          `json:"period"`
	Quantity         int64           `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	Remaining        int64           `json:"remaining"`
	PurchasedUnixUTC int64           `json:"purchased_unix_utc"`
}

func (handler *httpHandler) handleRegister(ctx *gin.Context) {
	var request registerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(ledger.CodeInvalidRequest, messageInvalidPayload))
		return
	}
	phone, err := ledger.NewPhoneNumber(request.PhoneNumber)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	name, err := ledger.NewDisplayName(request.Name)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.RegisterAccount(requestCtx, phone, name); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":      "account registered",
		"phone_number": phone.String(),
		"name":         name.String(),
		"balance":      ledger.AmountCents(0).Decimal(),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	phone, err := ledger.NewPhoneNumber(ctx.Param("phone"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.service.Balance(requestCtx, phone)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{PhoneNumber: phone.String(), Balance: balance.Decimal()})
}

func (handler *httpHandler) handleTopUp(ctx *gin.Context) {
	phone, err := ledger.NewPhoneNumber(ctx.Param("phone"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request topUpRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(ledger.CodeInvalidRequest, messageInvalidPayload))
		return
	}
	if request.Amount == nil {
		handler.respondError(ctx, ledger.ErrInvalidAmount)
		return
	}
	amount, err := ledger.ParseAmount(*request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.service.TopUp(requestCtx, phone, amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{PhoneNumber: phone.String(), Balance: balance.Decimal()})
}

func (handler *httpHandler) handleAccountBundles(ctx *gin.Context) {
	phone, err := ledger.NewPhoneNumber(ctx.Param("phone"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bundles, err := handler.service.GetAccountBundles(requestCtx, phone)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]bundlePayload, 0, len(bundles))
	for _, bundle := range bundles {
		payload = append(payload, bundlePayload{
			ID:               bundle.RecordID.String(),
			OfferID:          bundle.OfferID.Int64(),
			MainType:         bundle.MainCategory,
			SubType:          bundle.SubCategory,
			Period:           bundle.Period,
			Quantity:         bundle.Quantity.Int64(),
			Price:            bundle.Price.Decimal(),
			Remaining:        bundle.Remaining.Int64(),
			PurchasedUnixUTC: bundle.PurchasedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

// handleCatalog responds with an array of groups rather than an object keyed by
// label, so clients see groups in main, sub, period id order. Each group still
// carries its "main > sub > period" label.
func (handler *httpHandler) handleCatalog(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	groups, err := handler.catalog.ListCatalog(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]catalogGroupPayload, 0, len(groups))
	for _, group := range groups {
		options := make([]catalogOptionPayload, 0, len(group.Options))
		for _, option := range group.Options {
			options = append(options, catalogOptionPayload{
				Option:   option.OptionNumber,
				OfferID:  option.OfferID.Int64(),
				Quantity: option.Quantity.Int64(),
				Price:    option.Price.Decimal(),
			})
		}
		payload = append(payload, catalogGroupPayload{
			Label:    group.Label(),
			MainType: group.MainCategory,
			SubType:  group.SubCategory,
			Period:   group.Period,
			Options:  options,
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(ledger.CodeInvalidRequest, messageInvalidPayload))
		return
	}
	if request.OptionNumber == nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(ledger.CodeInvalidRequest, "option_number is required"))
		return
	}
	purchase, err := ledger.NewPurchaseRequest(request.PhoneNumber, request.MainType, request.SubType, request.Period, *request.OptionNumber)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Purchase(requestCtx, purchase)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, purchaseResponse{
		Message:      "bundle purchased",
		MainType:     result.MainCategory,
		SubType:      result.SubCategory,
		Period:       result.Period,
		Quantity:     result.Quantity.Int64(),
		Price:        result.Price.Decimal(),
		OptionNumber: result.OptionNumber,
	})
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

// respondError writes the error envelope. Only unexpected failures are logged here;
// domain rejections are already recorded by the operation logger.
func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	code := ledger.ErrorCode(err)
	status := statusForCode(code)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.String("error_code", code),
			zap.Error(err),
		)
		message = messageInternal
		if errors.Is(err, ledger.ErrStoreUnavailable) {
			message = ledger.ErrStoreUnavailable.Error()
		}
	}
	ctx.JSON(status, errorResponse(code, message))
}
