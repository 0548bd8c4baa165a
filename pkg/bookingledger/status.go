package bookingledger

import "fmt"

// BookingStatus defines the booking lifecycle stages.
type BookingStatus string

const (
	StatusRequest         BookingStatus = "request"
	StatusQuoteSent       BookingStatus = "quote_sent"
	StatusQuoteAccepted   BookingStatus = "quote_accepted"
	StatusConfirmed       BookingStatus = "confirmed"
	StatusDownpaymentPaid BookingStatus = "downpayment_paid"
	StatusPaidInFull      BookingStatus = "paid_in_full"
	StatusCompleted       BookingStatus = "completed"
	StatusQuoteRejected   BookingStatus = "quote_rejected"
	StatusCancelled       BookingStatus = "cancelled"
)

// ParseBookingStatus validates a raw status value.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(raw) {
	case StatusRequest, StatusQuoteSent, StatusQuoteAccepted, StatusConfirmed,
		StatusDownpaymentPaid, StatusPaidInFull, StatusCompleted,
		StatusQuoteRejected, StatusCancelled:
		return BookingStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
	}
}

// String returns the wire value.
func (status BookingStatus) String() string {
	return string(status)
}

// statusRank orders the forward lifecycle. Side branches share the
// terminal rank so no forward transition can leave them.
var statusRank = map[BookingStatus]int{
	StatusRequest:         0,
	StatusQuoteSent:       1,
	StatusQuoteAccepted:   2,
	StatusConfirmed:       3,
	StatusDownpaymentPaid: 4,
	StatusPaidInFull:      5,
	StatusCompleted:       6,
	StatusQuoteRejected:   6,
	StatusCancelled:       6,
}

// allowedTransitions enumerates every legal status move. Payments may
// arrive before a quote is accepted, so the payment stages are reachable
// from any pre-payment stage. downpayment_paid loops on itself for
// repeated partial payments.
var allowedTransitions = map[BookingStatus]map[BookingStatus]bool{
	StatusRequest: {
		StatusQuoteSent:       true,
		StatusDownpaymentPaid: true,
		StatusPaidInFull:      true,
		StatusCancelled:       true,
	},
	StatusQuoteSent: {
		StatusQuoteAccepted:   true,
		StatusConfirmed:       true,
		StatusQuoteRejected:   true,
		StatusDownpaymentPaid: true,
		StatusPaidInFull:      true,
		StatusCancelled:       true,
	},
	StatusQuoteAccepted: {
		StatusConfirmed:       true,
		StatusDownpaymentPaid: true,
		StatusPaidInFull:      true,
		StatusCancelled:       true,
	},
	StatusConfirmed: {
		StatusDownpaymentPaid: true,
		StatusPaidInFull:      true,
		StatusCancelled:       true,
	},
	StatusDownpaymentPaid: {
		StatusDownpaymentPaid: true,
		StatusPaidInFull:      true,
		StatusCancelled:       true,
	},
	StatusPaidInFull: {
		StatusCompleted: true,
	},
	StatusCompleted:     {},
	StatusQuoteRejected: {},
	StatusCancelled:     {},
}

// CanTransition reports whether from may legally move to to.
func CanTransition(from BookingStatus, to BookingStatus) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status admits no further lifecycle moves
// other than completion of a settled booking.
func (status BookingStatus) IsTerminal() bool {
	switch status {
	case StatusPaidInFull, StatusCompleted, StatusQuoteRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// AcceptsPayment reports whether a payment event may apply in this stage.
func (status BookingStatus) AcceptsPayment() bool {
	return CanTransition(status, StatusDownpaymentPaid) || CanTransition(status, StatusPaidInFull)
}

// DisplayBucket groups lifecycle stages into the user-facing categories
// shared by the dashboard, reporting, and notifications.
type DisplayBucket string

const (
	BucketPending   DisplayBucket = "pending"
	BucketConfirmed DisplayBucket = "confirmed"
	BucketInPayment DisplayBucket = "in_payment"
	BucketPaid      DisplayBucket = "paid"
	BucketCompleted DisplayBucket = "completed"
	BucketClosed    DisplayBucket = "closed"
)

// String returns the wire value.
func (bucket DisplayBucket) String() string {
	return string(bucket)
}

// DisplayState is the presentation view of a booking's lifecycle.
type DisplayState struct {
	Bucket          DisplayBucket
	Label           string
	ProgressPercent int
}

// DisplayStatus maps a booking to its single user-facing state.
// quote_accepted and confirmed share one bucket.
func DisplayStatus(booking Booking) DisplayState {
	state := DisplayState{ProgressPercent: booking.ProgressPercent()}
	switch booking.Status() {
	case StatusRequest:
		state.Bucket = BucketPending
		state.Label = labelAwaitingQuote
	case StatusQuoteSent:
		state.Bucket = BucketPending
		state.Label = labelQuoteSent
	case StatusQuoteAccepted, StatusConfirmed:
		state.Bucket = BucketConfirmed
		state.Label = labelConfirmed
	case StatusDownpaymentPaid:
		state.Bucket = BucketInPayment
		state.Label = labelDownpaymentReceived
	case StatusPaidInFull:
		state.Bucket = BucketPaid
		state.Label = labelPaidInFull
	case StatusCompleted:
		state.Bucket = BucketCompleted
		state.Label = labelCompleted
	case StatusQuoteRejected:
		state.Bucket = BucketClosed
		state.Label = labelQuoteDeclined
	case StatusCancelled:
		state.Bucket = BucketClosed
		state.Label = labelCancelled
	}
	return state
}
