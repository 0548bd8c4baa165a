package booking

import (
	"context"

	"github.com/everafterlabs/bookingd/pkg/bookingledger"
)

// Receipt is one persisted payment, keyed by the gateway transaction id.
// The store fills ReceiptID and enforces (booking_id, transaction_id)
// uniqueness, which backstops webhook replays across restarts.
type Receipt struct {
	ReceiptID         string
	BookingID         bookingledger.BookingID
	TransactionID     bookingledger.TransactionID
	Type              bookingledger.PaymentType
	AmountCents       int64
	Method            string
	OccurredAtUnixUTC int64
	CreatedUnixUTC    int64
}

// StatusEvent is one audit row for a lifecycle move.
type StatusEvent struct {
	EventID        string
	BookingID      bookingledger.BookingID
	FromStatus     bookingledger.BookingStatus
	ToStatus       bookingledger.BookingStatus
	Operation      string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// PaymentResult reports the snapshot after a payment and whether the
// event was a replay the service absorbed as a no-op.
type PaymentResult struct {
	Booking  bookingledger.Booking
	Replayed bool
}

// Store is the persistence contract used by Service.
// GetBookingForUpdate must lock the row for the life of the enclosing
// transaction so payment mutations serialize per booking id.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	InsertBooking(ctx context.Context, booking bookingledger.Booking) error
	GetBooking(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error)
	UpdateBooking(ctx context.Context, booking bookingledger.Booking) error
	HasReceipt(ctx context.Context, bookingID bookingledger.BookingID, transactionID bookingledger.TransactionID) (bool, error)
	InsertReceipt(ctx context.Context, receipt Receipt) error
	ListReceipts(ctx context.Context, bookingID bookingledger.BookingID, limit int) ([]Receipt, error)
	InsertStatusEvent(ctx context.Context, event StatusEvent) error
}
