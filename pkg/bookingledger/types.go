package bookingledger

import (
	"fmt"
	"strings"
)

// AmountCents is a non-negative integer currency in cents.
type AmountCents int64

// PositiveAmountCents is a strictly positive integer currency in cents.
type PositiveAmountCents int64

// BookingID identifies a booking.
type BookingID struct {
	value string
}

// TransactionID is the external payment reference supplied by the gateway.
type TransactionID struct {
	value string
}

// PaymentMethod names the channel a payment arrived through.
type PaymentMethod struct {
	value string
}

// CancelReason carries the audit reason for a cancellation.
type CancelReason struct {
	value string
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewPaymentMethod validates and normalizes a payment method label.
func NewPaymentMethod(raw string) (PaymentMethod, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentMethod{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentMethod)
	}
	return PaymentMethod{value: trimmed}, nil
}

// String returns the normalized label.
func (method PaymentMethod) String() string {
	return method.value
}

// NewCancelReason validates a cancellation reason.
func NewCancelReason(raw string) (CancelReason, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CancelReason{}, fmt.Errorf("%w: empty value", ErrInvalidCancelReason)
	}
	return CancelReason{value: trimmed}, nil
}

// String returns the normalized reason.
func (reason CancelReason) String() string {
	return reason.value
}

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cents value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewPositiveAmountCents validates a strictly positive amount.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPaymentAmount)
	}
	return PositiveAmountCents(raw), nil
}

// Int64 returns the raw cents value.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// ToAmountCents widens to the non-negative amount type.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// PaymentType enumerates the payment event kinds the gateway emits.
type PaymentType string

const (
	PaymentDownpayment      PaymentType = "downpayment"
	PaymentFull             PaymentType = "full_payment"
	PaymentRemainingBalance PaymentType = "remaining_balance"
)

// ParsePaymentType validates a raw payment type.
func ParsePaymentType(raw string) (PaymentType, error) {
	switch PaymentType(raw) {
	case PaymentDownpayment, PaymentFull, PaymentRemainingBalance:
		return PaymentType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPaymentType, raw)
	}
}

// String returns the wire value.
func (paymentType PaymentType) String() string {
	return string(paymentType)
}

// PaymentEvent is one payment notification from the gateway or the dashboard.
type PaymentEvent struct {
	amountCents       PositiveAmountCents
	paymentType       PaymentType
	method            PaymentMethod
	transactionID     TransactionID
	occurredAtUnixUTC int64
}

// NewPaymentEvent validates and assembles a payment event.
func NewPaymentEvent(amount PositiveAmountCents, paymentType PaymentType, method PaymentMethod, transactionID TransactionID, occurredAtUnixUTC int64) (PaymentEvent, error) {
	if amount <= 0 {
		return PaymentEvent{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPaymentAmount)
	}
	if _, err := ParsePaymentType(paymentType.String()); err != nil {
		return PaymentEvent{}, err
	}
	if method.value == "" {
		return PaymentEvent{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentMethod)
	}
	if transactionID.value == "" {
		return PaymentEvent{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return PaymentEvent{
		amountCents:       amount,
		paymentType:       paymentType,
		method:            method,
		transactionID:     transactionID,
		occurredAtUnixUTC: occurredAtUnixUTC,
	}, nil
}

// AmountCents returns the stated event amount.
func (event PaymentEvent) AmountCents() PositiveAmountCents {
	return event.amountCents
}

// Type returns the payment event kind.
func (event PaymentEvent) Type() PaymentType {
	return event.paymentType
}

// Method returns the payment channel.
func (event PaymentEvent) Method() PaymentMethod {
	return event.method
}

// TransactionID returns the gateway reference.
func (event PaymentEvent) TransactionID() TransactionID {
	return event.transactionID
}

// OccurredAtUnixUTC returns when the gateway recorded the payment.
func (event PaymentEvent) OccurredAtUnixUTC() int64 {
	return event.occurredAtUnixUTC
}

// Booking is one booking's monetary and lifecycle snapshot.
type Booking struct {
	bookingID          BookingID
	status             BookingStatus
	totalAmountCents   AmountCents
	totalPaidCents     AmountCents
	lastPaymentUnixUTC int64
	paymentMethod      *PaymentMethod
	transactionID      *TransactionID
}

// NewBooking validates and assembles a booking snapshot.
func NewBooking(bookingID BookingID, status BookingStatus, totalAmount AmountCents, totalPaid AmountCents, lastPaymentUnixUTC int64, method *PaymentMethod, transactionID *TransactionID) (Booking, error) {
	if bookingID.value == "" {
		return Booking{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	if _, err := ParseBookingStatus(status.String()); err != nil {
		return Booking{}, err
	}
	if totalAmount < 0 || totalPaid < 0 {
		return Booking{}, fmt.Errorf("%w: negative amount", ErrInvalidBookingTotals)
	}
	if totalPaid > totalAmount {
		return Booking{}, fmt.Errorf("%w: paid exceeds total", ErrInvalidBookingTotals)
	}
	if method != nil && method.value == "" {
		return Booking{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentMethod)
	}
	if transactionID != nil && transactionID.value == "" {
		return Booking{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return Booking{
		bookingID:          bookingID,
		status:             status,
		totalAmountCents:   totalAmount,
		totalPaidCents:     totalPaid,
		lastPaymentUnixUTC: lastPaymentUnixUTC,
		paymentMethod:      method,
		transactionID:      transactionID,
	}, nil
}

// NewBookingRequest assembles a fresh booking in the request state with nothing paid.
func NewBookingRequest(bookingID BookingID, totalAmount AmountCents) (Booking, error) {
	return NewBooking(bookingID, StatusRequest, totalAmount, 0, 0, nil, nil)
}

// BookingID returns the booking identifier.
func (booking Booking) BookingID() BookingID {
	return booking.bookingID
}

// Status returns the current lifecycle stage.
func (booking Booking) Status() BookingStatus {
	return booking.status
}

// TotalAmountCents returns the full contracted price.
func (booking Booking) TotalAmountCents() AmountCents {
	return booking.totalAmountCents
}

// TotalPaidCents returns the cumulative amount received.
func (booking Booking) TotalPaidCents() AmountCents {
	return booking.totalPaidCents
}

// RemainingBalanceCents is always derived, never stored.
func (booking Booking) RemainingBalanceCents() AmountCents {
	return booking.totalAmountCents - booking.totalPaidCents
}

// ProgressPercent derives the payment progress as an integer 0..100.
// Rounded to the nearest point, except 0 and 100 are reserved for
// untouched and fully settled balances.
func (booking Booking) ProgressPercent() int {
	total := booking.totalAmountCents.Int64()
	if total == 0 {
		return 0
	}
	paid := booking.totalPaidCents.Int64()
	if paid == 0 {
		return 0
	}
	if paid >= total {
		return 100
	}
	percent := int((paid*100 + total/2) / total)
	if percent >= 100 {
		percent = 99
	}
	if percent == 0 {
		percent = 1
	}
	return percent
}

// LastPaymentUnixUTC returns the last payment timestamp, zero when absent.
func (booking Booking) LastPaymentUnixUTC() int64 {
	return booking.lastPaymentUnixUTC
}

// PaymentMethod returns the last payment channel when present.
func (booking Booking) PaymentMethod() (PaymentMethod, bool) {
	if booking.paymentMethod == nil {
		return PaymentMethod{}, false
	}
	return *booking.paymentMethod, true
}

// TransactionID returns the last payment reference when present.
func (booking Booking) TransactionID() (TransactionID, bool) {
	if booking.transactionID == nil {
		return TransactionID{}, false
	}
	return *booking.transactionID, true
}
