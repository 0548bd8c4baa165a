package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/everafterlabs/bookingd/pkg/bookingledger"
)

const testClock int64 = 1700000000

func testNow() int64 {
	return testClock
}

type stubStore struct {
	bookings         map[string]bookingledger.Booking
	receipts         []Receipt
	statusEvents     []StatusEvent
	insertReceiptErr error
}

func newStubStore() *stubStore {
	return &stubStore{bookings: map[string]bookingledger.Booking{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) InsertBooking(_ context.Context, booking bookingledger.Booking) error {
	key := booking.BookingID().String()
	if _, exists := store.bookings[key]; exists {
		return fmt.Errorf("%w: %s", bookingledger.ErrBookingExists, key)
	}
	store.bookings[key] = booking
	return nil
}

func (store *stubStore) GetBooking(_ context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	booking, exists := store.bookings[bookingID.String()]
	if !exists {
		return bookingledger.Booking{}, fmt.Errorf("%w: %s", bookingledger.ErrUnknownBooking, bookingID.String())
	}
	return booking, nil
}

func (store *stubStore) GetBookingForUpdate(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return store.GetBooking(ctx, bookingID)
}

func (store *stubStore) UpdateBooking(_ context.Context, booking bookingledger.Booking) error {
	key := booking.BookingID().String()
	if _, exists := store.bookings[key]; !exists {
		return fmt.Errorf("%w: %s", bookingledger.ErrUnknownBooking, key)
	}
	store.bookings[key] = booking
	return nil
}

func (store *stubStore) HasReceipt(_ context.Context, bookingID bookingledger.BookingID, transactionID bookingledger.TransactionID) (bool, error) {
	for _, receipt := range store.receipts {
		if receipt.BookingID == bookingID && receipt.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) InsertReceipt(_ context.Context, receipt Receipt) error {
	if store.insertReceiptErr != nil {
		return store.insertReceiptErr
	}
	for _, existing := range store.receipts {
		if existing.BookingID == receipt.BookingID && existing.TransactionID == receipt.TransactionID {
			return fmt.Errorf("%w: %s", bookingledger.ErrDuplicatePayment, receipt.TransactionID.String())
		}
	}
	store.receipts = append(store.receipts, receipt)
	return nil
}

func (store *stubStore) ListReceipts(_ context.Context, bookingID bookingledger.BookingID, limit int) ([]Receipt, error) {
	var matched []Receipt
	for _, receipt := range store.receipts {
		if receipt.BookingID == bookingID {
			matched = append(matched, receipt)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *stubStore) InsertStatusEvent(_ context.Context, event StatusEvent) error {
	store.statusEvents = append(store.statusEvents, event)
	return nil
}

type recordingLogger struct {
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func mustBookingID(test *testing.T, raw string) bookingledger.BookingID {
	test.Helper()
	bookingID, err := bookingledger.NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id %q: %v", raw, err)
	}
	return bookingID
}

func mustAmount(test *testing.T, raw int64) bookingledger.AmountCents {
	test.Helper()
	amount, err := bookingledger.NewAmountCents(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustPaymentEvent(test *testing.T, amount int64, paymentType bookingledger.PaymentType, transaction string) bookingledger.PaymentEvent {
	test.Helper()
	positive, err := bookingledger.NewPositiveAmountCents(amount)
	if err != nil {
		test.Fatalf("positive amount %d: %v", amount, err)
	}
	method, err := bookingledger.NewPaymentMethod("card")
	if err != nil {
		test.Fatalf("method: %v", err)
	}
	transactionID, err := bookingledger.NewTransactionID(transaction)
	if err != nil {
		test.Fatalf("transaction id %q: %v", transaction, err)
	}
	event, err := bookingledger.NewPaymentEvent(positive, paymentType, method, transactionID, testClock)
	if err != nil {
		test.Fatalf("payment event: %v", err)
	}
	return event
}

func mustService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, testNow, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustCreate(test *testing.T, service *Service, bookingID bookingledger.BookingID, total int64) bookingledger.Booking {
	test.Helper()
	booking, err := service.CreateBooking(context.Background(), bookingID, mustAmount(test, total))
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	return booking
}

func TestCreateBookingPersistsRequestAndAudit(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1001")

	created := mustCreate(test, service, bookingID, 50000)
	if created.Status() != bookingledger.StatusRequest {
		test.Fatalf("expected request status, got %s", created.Status())
	}
	if created.TotalPaidCents() != 0 {
		test.Fatalf("expected zero paid, got %d", created.TotalPaidCents())
	}
	if len(store.statusEvents) != 1 {
		test.Fatalf("expected one audit event, got %d", len(store.statusEvents))
	}
	if store.statusEvents[0].Operation != operationCreate {
		test.Fatalf("unexpected audit operation %q", store.statusEvents[0].Operation)
	}

	if _, err := service.CreateBooking(context.Background(), bookingID, mustAmount(test, 50000)); !errors.Is(err, bookingledger.ErrBookingExists) {
		test.Fatalf("expected ErrBookingExists, got %v", err)
	}
}

func TestApplyPaymentPersistsReceiptAndAudit(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1002")
	mustCreate(test, service, bookingID, 50000)

	result, err := service.ApplyPayment(context.Background(), bookingID, mustPaymentEvent(test, 15000, bookingledger.PaymentDownpayment, "tx-1"))
	if err != nil {
		test.Fatalf("apply payment: %v", err)
	}
	if result.Replayed {
		test.Fatalf("first payment must not be a replay")
	}
	if result.Booking.Status() != bookingledger.StatusDownpaymentPaid {
		test.Fatalf("expected downpayment_paid, got %s", result.Booking.Status())
	}
	if result.Booking.RemainingBalanceCents() != 35000 {
		test.Fatalf("expected remaining 35000, got %d", result.Booking.RemainingBalanceCents())
	}
	if len(store.receipts) != 1 {
		test.Fatalf("expected one receipt, got %d", len(store.receipts))
	}
	if store.receipts[0].CreatedUnixUTC != testClock {
		test.Fatalf("expected clock stamp %d, got %d", testClock, store.receipts[0].CreatedUnixUTC)
	}
	if len(store.statusEvents) != 2 {
		test.Fatalf("expected two audit events, got %d", len(store.statusEvents))
	}
}

func TestApplyPaymentReplayReturnsStoredSnapshot(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1003")
	mustCreate(test, service, bookingID, 50000)

	event := mustPaymentEvent(test, 15000, bookingledger.PaymentDownpayment, "tx-1")
	if _, err := service.ApplyPayment(context.Background(), bookingID, event); err != nil {
		test.Fatalf("first payment: %v", err)
	}

	replay, err := service.ApplyPayment(context.Background(), bookingID, event)
	if err != nil {
		test.Fatalf("replay must succeed: %v", err)
	}
	if !replay.Replayed {
		test.Fatalf("expected replay flag")
	}
	if replay.Booking.TotalPaidCents() != 15000 {
		test.Fatalf("replay must not double count, got %d", replay.Booking.TotalPaidCents())
	}
	if len(store.receipts) != 1 {
		test.Fatalf("replay must not insert a receipt, got %d", len(store.receipts))
	}
}

func TestApplyPaymentReplayAfterInsertRace(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1004")
	mustCreate(test, service, bookingID, 50000)

	store.insertReceiptErr = fmt.Errorf("%w: tx-1", bookingledger.ErrDuplicatePayment)
	result, err := service.ApplyPayment(context.Background(), bookingID, mustPaymentEvent(test, 15000, bookingledger.PaymentDownpayment, "tx-1"))
	if err != nil {
		test.Fatalf("duplicate insert must resolve as replay: %v", err)
	}
	if !result.Replayed {
		test.Fatalf("expected replay flag")
	}
}

func TestApplyPaymentSettlement(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1005")
	mustCreate(test, service, bookingID, 50000)

	if _, err := service.ApplyPayment(context.Background(), bookingID, mustPaymentEvent(test, 15000, bookingledger.PaymentDownpayment, "tx-1")); err != nil {
		test.Fatalf("downpayment: %v", err)
	}
	result, err := service.ApplyPayment(context.Background(), bookingID, mustPaymentEvent(test, 35000, bookingledger.PaymentRemainingBalance, "tx-2"))
	if err != nil {
		test.Fatalf("remaining balance: %v", err)
	}
	if result.Booking.Status() != bookingledger.StatusPaidInFull {
		test.Fatalf("expected paid_in_full, got %s", result.Booking.Status())
	}
	if result.Booking.RemainingBalanceCents() != 0 {
		test.Fatalf("expected zero remaining, got %d", result.Booking.RemainingBalanceCents())
	}
	if result.Booking.ProgressPercent() != 100 {
		test.Fatalf("expected 100 percent, got %d", result.Booking.ProgressPercent())
	}
}

func TestApplyPaymentInvalidStateSurfaces(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1006")
	mustCreate(test, service, bookingID, 50000)

	reason, err := bookingledger.NewCancelReason("client withdrew")
	if err != nil {
		test.Fatalf("cancel reason: %v", err)
	}
	if _, err := service.Cancel(context.Background(), bookingID, reason); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if _, err := service.ApplyPayment(context.Background(), bookingID, mustPaymentEvent(test, 15000, bookingledger.PaymentDownpayment, "tx-1")); !errors.Is(err, bookingledger.ErrInvalidBookingState) {
		test.Fatalf("expected ErrInvalidBookingState, got %v", err)
	}
}

func TestQuoteAndCompletionFlow(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1007")
	mustCreate(test, service, bookingID, 50000)

	if _, err := service.SendQuote(context.Background(), bookingID); err != nil {
		test.Fatalf("send quote: %v", err)
	}
	accepted, err := service.AcceptQuote(context.Background(), bookingID)
	if err != nil {
		test.Fatalf("accept quote: %v", err)
	}
	if accepted.Status() != bookingledger.StatusConfirmed {
		test.Fatalf("expected confirmed, got %s", accepted.Status())
	}
	if _, err := service.ApplyPayment(context.Background(), bookingID, mustPaymentEvent(test, 50000, bookingledger.PaymentFull, "tx-1")); err != nil {
		test.Fatalf("full payment: %v", err)
	}
	completed, err := service.Complete(context.Background(), bookingID)
	if err != nil {
		test.Fatalf("complete: %v", err)
	}
	if completed.Status() != bookingledger.StatusCompleted {
		test.Fatalf("expected completed, got %s", completed.Status())
	}
	if _, err := service.Complete(context.Background(), bookingID); !errors.Is(err, bookingledger.ErrInvalidBookingState) {
		test.Fatalf("expected ErrInvalidBookingState, got %v", err)
	}
}

func TestRejectQuoteFlow(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1008")
	mustCreate(test, service, bookingID, 50000)

	if _, err := service.SendQuote(context.Background(), bookingID); err != nil {
		test.Fatalf("send quote: %v", err)
	}
	rejected, err := service.RejectQuote(context.Background(), bookingID)
	if err != nil {
		test.Fatalf("reject quote: %v", err)
	}
	if rejected.Status() != bookingledger.StatusQuoteRejected {
		test.Fatalf("expected quote_rejected, got %s", rejected.Status())
	}
	if _, err := service.AcceptQuote(context.Background(), bookingID); !errors.Is(err, bookingledger.ErrInvalidBookingState) {
		test.Fatalf("expected ErrInvalidBookingState after rejection, got %v", err)
	}
}

func TestCancelAuditsReason(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustService(test, store)
	bookingID := mustBookingID(test, "wed-1009")
	mustCreate(test, service, bookingID, 50000)

	reason, err := bookingledger.NewCancelReason("venue unavailable")
	if err != nil {
		test.Fatalf("cancel reason: %v", err)
	}
	cancelled, err := service.Cancel(context.Background(), bookingID, reason)
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if cancelled.Status() != bookingledger.StatusCancelled {
		test.Fatalf("expected cancelled, got %s", cancelled.Status())
	}
	last := store.statusEvents[len(store.statusEvents)-1]
	if !strings.Contains(last.MetadataJSON, "venue unavailable") {
		test.Fatalf("expected reason in audit metadata, got %q", last.MetadataJSON)
	}
}

func TestOperationLoggerReceivesReplayStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	logger := &recordingLogger{}
	service := mustService(test, store, WithOperationLogger(logger))
	bookingID := mustBookingID(test, "wed-1010")
	mustCreate(test, service, bookingID, 50000)

	event := mustPaymentEvent(test, 15000, bookingledger.PaymentDownpayment, "tx-1")
	if _, err := service.ApplyPayment(context.Background(), bookingID, event); err != nil {
		test.Fatalf("first payment: %v", err)
	}
	if _, err := service.ApplyPayment(context.Background(), bookingID, event); err != nil {
		test.Fatalf("replay: %v", err)
	}

	if len(logger.entries) != 3 {
		test.Fatalf("expected three log entries, got %d", len(logger.entries))
	}
	first := logger.entries[1]
	if first.Status != operationStatusOK || first.Replayed {
		test.Fatalf("unexpected first payment log: %+v", first)
	}
	replayed := logger.entries[2]
	if replayed.Status != operationStatusReplayed || !replayed.Replayed {
		test.Fatalf("unexpected replay log: %+v", replayed)
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, testNow); !errors.Is(err, bookingledger.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(), nil); !errors.Is(err, bookingledger.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}
