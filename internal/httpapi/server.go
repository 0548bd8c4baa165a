package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/everafterlabs/bookingd/internal/booking"
	"github.com/everafterlabs/bookingd/pkg/bookingledger"
)

const authClaimsKey = "auth_claims"

// BookingService is the application surface the HTTP layer drives.
type BookingService interface {
	CreateBooking(ctx context.Context, bookingID bookingledger.BookingID, totalAmount bookingledger.AmountCents) (bookingledger.Booking, error)
	ApplyPayment(ctx context.Context, bookingID bookingledger.BookingID, event bookingledger.PaymentEvent) (booking.PaymentResult, error)
	SendQuote(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error)
	AcceptQuote(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error)
	RejectQuote(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error)
	Cancel(ctx context.Context, bookingID bookingledger.BookingID, reason bookingledger.CancelReason) (bookingledger.Booking, error)
	Complete(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error)
	GetBooking(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error)
	ListReceipts(ctx context.Context, bookingID bookingledger.BookingID, limit int) ([]booking.Receipt, error)
}

// Run boots the HTTP surface using the supplied configuration.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, service BookingService) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bookingd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Gateway callbacks authenticate out of band, not with a session.
	router.POST("/webhooks/payments", handler.handlePaymentWebhook)

	api := router.Group("/api")
	if validator != nil {
		api.Use(validator.GinMiddleware(authClaimsKey))
	}

	api.POST("/bookings", handler.handleCreateBooking)
	api.GET("/bookings/:id", handler.handleGetBooking)
	api.GET("/bookings/:id/payments", handler.handleListPayments)
	api.POST("/bookings/:id/payments", handler.handleRecordPayment)
	api.POST("/bookings/:id/quote", handler.handleSendQuote)
	api.POST("/bookings/:id/quote/accept", handler.handleAcceptQuote)
	api.POST("/bookings/:id/quote/reject", handler.handleRejectQuote)
	api.POST("/bookings/:id/cancel", handler.handleCancel)
	api.POST("/bookings/:id/complete", handler.handleComplete)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service BookingService
	cfg     Config
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	var request createBookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	bookingID, err := bookingledger.NewBookingID(request.BookingID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_booking_id", "booking_id is required"))
		return
	}
	totalCents, err := parseAmountCents(request.TotalAmount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "total_amount must be a decimal with at most two fraction digits"))
		return
	}
	totalAmount, err := bookingledger.NewAmountCents(totalCents)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "total_amount must not be negative"))
		return
	}
	created, err := handler.service.CreateBooking(ctx.Request.Context(), bookingID, totalAmount)
	if err != nil {
		handler.respondError(ctx, "create booking", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"booking": bookingPayloadFrom(created)})
}

func (handler *httpHandler) handleGetBooking(ctx *gin.Context) {
	bookingID, ok := handler.pathBookingID(ctx)
	if !ok {
		return
	}
	snapshot, err := handler.service.GetBooking(ctx.Request.Context(), bookingID)
	if err != nil {
		handler.respondError(ctx, "get booking", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": bookingPayloadFrom(snapshot)})
}

func (handler *httpHandler) handleListPayments(ctx *gin.Context) {
	bookingID, ok := handler.pathBookingID(ctx)
	if !ok {
		return
	}
	receipts, err := handler.service.ListReceipts(ctx.Request.Context(), bookingID, handler.cfg.ReceiptHistoryLimit)
	if err != nil {
		handler.respondError(ctx, "list payments", err)
		return
	}
	payloads := make([]receiptPayload, 0, len(receipts))
	for _, receipt := range receipts {
		payloads = append(payloads, receiptPayloadFrom(receipt))
	}
	ctx.JSON(http.StatusOK, gin.H{"payments": payloads})
}

func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	var request paymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	bookingID, err := bookingledger.NewBookingID(request.BookingID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_booking_id", "booking_id is required"))
		return
	}
	handler.applyPayment(ctx, bookingID, request)
}

func (handler *httpHandler) handleRecordPayment(ctx *gin.Context) {
	bookingID, ok := handler.pathBookingID(ctx)
	if !ok {
		return
	}
	var request paymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	handler.applyPayment(ctx, bookingID, request)
}

func (handler *httpHandler) applyPayment(ctx *gin.Context, bookingID bookingledger.BookingID, request paymentRequest) {
	event, err := handler.paymentEvent(request)
	if err != nil {
		handler.respondError(ctx, "apply payment", err)
		return
	}
	result, err := handler.service.ApplyPayment(ctx.Request.Context(), bookingID, event)
	if err != nil {
		handler.respondError(ctx, "apply payment", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"replayed": result.Replayed,
		"booking":  bookingPayloadFrom(result.Booking),
	})
}

func (handler *httpHandler) handleSendQuote(ctx *gin.Context) {
	handler.runTransition(ctx, "send quote", handler.service.SendQuote)
}

func (handler *httpHandler) handleAcceptQuote(ctx *gin.Context) {
	handler.runTransition(ctx, "accept quote", handler.service.AcceptQuote)
}

func (handler *httpHandler) handleRejectQuote(ctx *gin.Context) {
	handler.runTransition(ctx, "reject quote", handler.service.RejectQuote)
}

func (handler *httpHandler) handleComplete(ctx *gin.Context) {
	handler.runTransition(ctx, "complete", handler.service.Complete)
}

func (handler *httpHandler) handleCancel(ctx *gin.Context) {
	bookingID, ok := handler.pathBookingID(ctx)
	if !ok {
		return
	}
	var request cancelRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	reason, err := bookingledger.NewCancelReason(request.Reason)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_reason", "reason is required"))
		return
	}
	cancelled, err := handler.service.Cancel(ctx.Request.Context(), bookingID, reason)
	if err != nil {
		handler.respondError(ctx, "cancel", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": bookingPayloadFrom(cancelled)})
}

func (handler *httpHandler) runTransition(ctx *gin.Context, operation string, transition func(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error)) {
	bookingID, ok := handler.pathBookingID(ctx)
	if !ok {
		return
	}
	updated, err := transition(ctx.Request.Context(), bookingID)
	if err != nil {
		handler.respondError(ctx, operation, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": bookingPayloadFrom(updated)})
}

func (handler *httpHandler) pathBookingID(ctx *gin.Context) (bookingledger.BookingID, bool) {
	bookingID, err := bookingledger.NewBookingID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_booking_id", "booking id is required"))
		return bookingledger.BookingID{}, false
	}
	return bookingID, true
}

func (handler *httpHandler) paymentEvent(request paymentRequest) (bookingledger.PaymentEvent, error) {
	amountCents, err := parseAmountCents(request.Amount)
	if err != nil {
		return bookingledger.PaymentEvent{}, fmt.Errorf("%w: %v", bookingledger.ErrInvalidPaymentAmount, err)
	}
	amount, err := bookingledger.NewPositiveAmountCents(amountCents)
	if err != nil {
		return bookingledger.PaymentEvent{}, err
	}
	paymentType, err := bookingledger.ParsePaymentType(request.Type)
	if err != nil {
		return bookingledger.PaymentEvent{}, err
	}
	method, err := bookingledger.NewPaymentMethod(request.Method)
	if err != nil {
		return bookingledger.PaymentEvent{}, err
	}
	transactionID, err := bookingledger.NewTransactionID(request.TransactionID)
	if err != nil {
		return bookingledger.PaymentEvent{}, err
	}
	occurredAt := request.OccurredAtUnixUTC
	if occurredAt == 0 {
		occurredAt = time.Now().UTC().Unix()
	}
	return bookingledger.NewPaymentEvent(amount, paymentType, method, transactionID, occurredAt)
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, bookingledger.ErrUnknownBooking):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_booking", "booking not found"))
	case errors.Is(err, bookingledger.ErrBookingExists):
		ctx.JSON(http.StatusConflict, errorResponse("booking_exists", "booking already exists"))
	case errors.Is(err, bookingledger.ErrInvalidBookingState):
		ctx.JSON(http.StatusConflict, errorResponse("invalid_state", "operation not allowed in the current booking state"))
	case errors.Is(err, bookingledger.ErrInvalidPaymentAmount):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be a positive decimal with at most two fraction digits"))
	case errors.Is(err, bookingledger.ErrUnknownPaymentType):
		ctx.JSON(http.StatusBadRequest, errorResponse("unknown_payment_type", "type must be downpayment, full_payment or remaining_balance"))
	case errors.Is(err, bookingledger.ErrInvalidPaymentMethod):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_method", "method is required"))
	case errors.Is(err, bookingledger.ErrInvalidTransactionID):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_transaction_id", "transaction_id is required"))
	case errors.Is(err, bookingledger.ErrInvalidCancelReason):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_reason", "reason is required"))
	default:
		handler.logger.Error(operation+" failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "operation failed"))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// parseAmountCents converts a decimal wire amount such as "150.00" to cents.
func parseAmountCents(raw string) (int64, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	cents := value.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than two fraction digits", raw)
	}
	return cents.IntPart(), nil
}

func formatAmount(cents int64) string {
	return decimal.NewFromInt(cents).Shift(-2).StringFixed(2)
}

type createBookingRequest struct {
	BookingID   string `json:"booking_id"`
	TotalAmount string `json:"total_amount"`
}

type paymentRequest struct {
	BookingID         string `json:"booking_id"`
	TransactionID     string `json:"transaction_id"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Method            string `json:"method"`
	OccurredAtUnixUTC int64  `json:"occurred_at_unix_utc"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type bookingPayload struct {
	BookingID          string         `json:"booking_id"`
	Status             string         `json:"status"`
	Display            displayPayload `json:"display"`
	TotalAmount        string         `json:"total_amount"`
	TotalPaid          string         `json:"total_paid"`
	RemainingBalance   string         `json:"remaining_balance"`
	LastPaymentUnixUTC int64          `json:"last_payment_unix_utc,omitempty"`
	PaymentMethod      string         `json:"payment_method,omitempty"`
	LastTransactionID  string         `json:"last_transaction_id,omitempty"`
}

type displayPayload struct {
	Bucket          string `json:"bucket"`
	Label           string `json:"label"`
	ProgressPercent int    `json:"progress_percent"`
}

type receiptPayload struct {
	ReceiptID         string `json:"receipt_id"`
	TransactionID     string `json:"transaction_id"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Method            string `json:"method"`
	OccurredAtUnixUTC int64  `json:"occurred_at_unix_utc"`
	CreatedUnixUTC    int64  `json:"created_unix_utc"`
}

func bookingPayloadFrom(snapshot bookingledger.Booking) bookingPayload {
	display := bookingledger.DisplayStatus(snapshot)
	payload := bookingPayload{
		BookingID: snapshot.BookingID().String(),
		Status:    snapshot.Status().String(),
		Display: displayPayload{
			Bucket:          display.Bucket.String(),
			Label:           display.Label,
			ProgressPercent: display.ProgressPercent,
		},
		TotalAmount:        formatAmount(snapshot.TotalAmountCents().Int64()),
		TotalPaid:          formatAmount(snapshot.TotalPaidCents().Int64()),
		RemainingBalance:   formatAmount(snapshot.RemainingBalanceCents().Int64()),
		LastPaymentUnixUTC: snapshot.LastPaymentUnixUTC(),
	}
	if method, ok := snapshot.PaymentMethod(); ok {
		payload.PaymentMethod = method.String()
	}
	if transactionID, ok := snapshot.TransactionID(); ok {
		payload.LastTransactionID = transactionID.String()
	}
	return payload
}

func receiptPayloadFrom(receipt booking.Receipt) receiptPayload {
	return receiptPayload{
		ReceiptID:         receipt.ReceiptID,
		TransactionID:     receipt.TransactionID.String(),
		Type:              receipt.Type.String(),
		Amount:            formatAmount(receipt.AmountCents),
		Method:            receipt.Method,
		OccurredAtUnixUTC: receipt.OccurredAtUnixUTC,
		CreatedUnixUTC:    receipt.CreatedUnixUTC,
	}
}
