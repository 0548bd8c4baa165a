package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/everafterlabs/bookingd/pkg/bookingledger"
)

const (
	operationCreate       = "create"
	operationApplyPayment = "apply_payment"
	operationSendQuote    = "send_quote"
	operationAcceptQuote  = "accept_quote"
	operationRejectQuote  = "reject_quote"
	operationCancel       = "cancel"
	operationComplete     = "complete"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"
)

// Service orchestrates booking lifecycle mutations over a Store.
// The lifecycle math itself lives in pkg/bookingledger; Service owns
// loading the snapshot, serializing per booking id via the store's row
// lock, and persisting every derived field in one transaction.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", bookingledger.ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", bookingledger.ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateBooking records an externally initiated booking request.
func (service *Service) CreateBooking(ctx context.Context, bookingID bookingledger.BookingID, totalAmount bookingledger.AmountCents) (bookingledger.Booking, error) {
	created, err := bookingledger.NewBookingRequest(bookingID, totalAmount)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.InsertBooking(ctx, created); err != nil {
			return err
		}
		return transactionStore.InsertStatusEvent(ctx, StatusEvent{
			BookingID:      bookingID,
			FromStatus:     created.Status(),
			ToStatus:       created.Status(),
			Operation:      operationCreate,
			MetadataJSON:   emptyMetadata,
			CreatedUnixUTC: service.nowFn(),
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationCreate,
		BookingID:   bookingID,
		AmountCents: totalAmount.Int64(),
		FromStatus:  created.Status(),
		ToStatus:    created.Status(),
		Error:       operationError,
	})
	if operationError != nil {
		return bookingledger.Booking{}, operationError
	}
	return created, nil
}

// ApplyPayment applies one payment event inside a single transaction.
// Replayed transaction ids resolve to the stored snapshot, never an
// error, so gateway retries are transparent to upstream retry logic.
func (service *Service) ApplyPayment(ctx context.Context, bookingID bookingledger.BookingID, event bookingledger.PaymentEvent) (PaymentResult, error) {
	var result PaymentResult
	var fromStatus bookingledger.BookingStatus
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		fromStatus = current.Status()
		seen, err := transactionStore.HasReceipt(ctx, bookingID, event.TransactionID())
		if err != nil {
			return err
		}
		if seen {
			result = PaymentResult{Booking: current, Replayed: true}
			return nil
		}
		updated, err := bookingledger.ApplyPayment(current, event)
		if errors.Is(err, bookingledger.ErrDuplicatePayment) {
			result = PaymentResult{Booking: current, Replayed: true}
			return nil
		}
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateBooking(ctx, updated); err != nil {
			return err
		}
		now := service.nowFn()
		receipt := Receipt{
			BookingID:         bookingID,
			TransactionID:     event.TransactionID(),
			Type:              event.Type(),
			AmountCents:       event.AmountCents().Int64(),
			Method:            event.Method().String(),
			OccurredAtUnixUTC: event.OccurredAtUnixUTC(),
			CreatedUnixUTC:    now,
		}
		if err := transactionStore.InsertReceipt(ctx, receipt); err != nil {
			return err
		}
		if err := transactionStore.InsertStatusEvent(ctx, StatusEvent{
			BookingID:      bookingID,
			FromStatus:     current.Status(),
			ToStatus:       updated.Status(),
			Operation:      operationApplyPayment,
			MetadataJSON:   paymentMetadata(event),
			CreatedUnixUTC: now,
		}); err != nil {
			return err
		}
		result = PaymentResult{Booking: updated}
		return nil
	})
	if errors.Is(operationError, bookingledger.ErrDuplicatePayment) {
		// A concurrent retry won the receipt insert; serve the stored state.
		current, getErr := service.store.GetBooking(ctx, bookingID)
		if getErr == nil {
			result = PaymentResult{Booking: current, Replayed: true}
			operationError = nil
		}
	}
	logEntry := OperationLog{
		Operation:     operationApplyPayment,
		BookingID:     bookingID,
		TransactionID: event.TransactionID().String(),
		AmountCents:   event.AmountCents().Int64(),
		FromStatus:    fromStatus,
		ToStatus:      result.Booking.Status(),
		Replayed:      result.Replayed,
		Error:         operationError,
	}
	if result.Replayed {
		logEntry.Status = operationStatusReplayed
	}
	service.logOperation(ctx, logEntry)
	return result, operationError
}

// SendQuote moves a request to quote_sent.
func (service *Service) SendQuote(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return service.transition(ctx, operationSendQuote, bookingID, bookingledger.SendQuote, emptyMetadata)
}

// AcceptQuote confirms a sent quote.
func (service *Service) AcceptQuote(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return service.transition(ctx, operationAcceptQuote, bookingID, bookingledger.AcceptQuote, emptyMetadata)
}

// RejectQuote declines a sent quote terminally.
func (service *Service) RejectQuote(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return service.transition(ctx, operationRejectQuote, bookingID, bookingledger.RejectQuote, emptyMetadata)
}

// Complete closes out a fully paid booking.
func (service *Service) Complete(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return service.transition(ctx, operationComplete, bookingID, bookingledger.Complete, emptyMetadata)
}

// Cancel terminates a non-terminal booking and audits the reason.
func (service *Service) Cancel(ctx context.Context, bookingID bookingledger.BookingID, reason bookingledger.CancelReason) (bookingledger.Booking, error) {
	apply := func(current bookingledger.Booking) (bookingledger.Booking, error) {
		return bookingledger.Cancel(current, reason)
	}
	return service.transition(ctx, operationCancel, bookingID, apply, cancelMetadata(reason))
}

// GetBooking returns the stored snapshot.
func (service *Service) GetBooking(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return service.store.GetBooking(ctx, bookingID)
}

// ListReceipts returns the payment history for the dashboard.
func (service *Service) ListReceipts(ctx context.Context, bookingID bookingledger.BookingID, limit int) ([]Receipt, error) {
	return service.store.ListReceipts(ctx, bookingID, limit)
}

func (service *Service) transition(ctx context.Context, operation string, bookingID bookingledger.BookingID, apply func(bookingledger.Booking) (bookingledger.Booking, error), metadataJSON string) (bookingledger.Booking, error) {
	var updated bookingledger.Booking
	var fromStatus bookingledger.BookingStatus
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		fromStatus = current.Status()
		next, err := apply(current)
		if err != nil {
			return err
		}
		if err := transactionStore.UpdateBooking(ctx, next); err != nil {
			return err
		}
		if err := transactionStore.InsertStatusEvent(ctx, StatusEvent{
			BookingID:      bookingID,
			FromStatus:     current.Status(),
			ToStatus:       next.Status(),
			Operation:      operation,
			MetadataJSON:   metadataJSON,
			CreatedUnixUTC: service.nowFn(),
		}); err != nil {
			return err
		}
		updated = next
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operation,
		BookingID:  bookingID,
		FromStatus: fromStatus,
		ToStatus:   updated.Status(),
		Error:      operationError,
	})
	if operationError != nil {
		return bookingledger.Booking{}, operationError
	}
	return updated, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

const emptyMetadata = "{}"

func paymentMetadata(event bookingledger.PaymentEvent) string {
	return marshalMetadata(map[string]string{
		"type":           event.Type().String(),
		"method":         event.Method().String(),
		"transaction_id": event.TransactionID().String(),
	})
}

func cancelMetadata(reason bookingledger.CancelReason) string {
	return marshalMetadata(map[string]string{"reason": reason.String()})
}

func marshalMetadata(metadata map[string]string) string {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return emptyMetadata
	}
	return string(raw)
}
