package bookingledger

import "fmt"

// ApplyPayment computes the booking state after one payment event.
// It never mutates the input; the caller owns persisting the result
// atomically. A replay of the booking's last transaction id fails with
// ErrDuplicatePayment so callers can treat it as a no-op; replays of
// older transactions are the persistence layer's receipt table to catch.
func ApplyPayment(booking Booking, event PaymentEvent) (Booking, error) {
	if event.amountCents <= 0 {
		return Booking{}, WrapError(operationApplyPayment, subjectPayment, codeInvalidEvent, fmt.Errorf("%w: must be greater than zero", ErrInvalidPaymentAmount))
	}
	if _, err := ParsePaymentType(event.paymentType.String()); err != nil {
		return Booking{}, WrapError(operationApplyPayment, subjectPayment, codeInvalidEvent, err)
	}
	if event.transactionID.value == "" {
		return Booking{}, WrapError(operationApplyPayment, subjectPayment, codeInvalidEvent, ErrInvalidTransactionID)
	}
	if !booking.status.AcceptsPayment() {
		return Booking{}, WrapError(operationApplyPayment, subjectBooking, codeInvalidState, fmt.Errorf("%w: no payment accepted in %s", ErrInvalidBookingState, booking.status))
	}
	if lastTransactionID, ok := booking.TransactionID(); ok && lastTransactionID == event.transactionID {
		return Booking{}, WrapError(operationApplyPayment, subjectPayment, codeDuplicate, fmt.Errorf("%w: %s", ErrDuplicatePayment, event.transactionID.String()))
	}

	var paid AmountCents
	switch event.paymentType {
	case PaymentDownpayment:
		paid = booking.totalPaidCents + event.amountCents.ToAmountCents()
		if paid > booking.totalAmountCents {
			paid = booking.totalAmountCents
		}
	case PaymentFull, PaymentRemainingBalance:
		// Settlement events close the balance regardless of the stated
		// amount; the receipt still records what the gateway reported.
		paid = booking.totalAmountCents
	}

	nextStatus := StatusDownpaymentPaid
	if paid == booking.totalAmountCents {
		nextStatus = StatusPaidInFull
	}
	if !CanTransition(booking.status, nextStatus) {
		return Booking{}, WrapError(operationApplyPayment, subjectBooking, codeInvalidState, fmt.Errorf("%w: %s cannot move to %s", ErrInvalidBookingState, booking.status, nextStatus))
	}

	updated := booking
	updated.status = nextStatus
	updated.totalPaidCents = paid
	updated.lastPaymentUnixUTC = event.occurredAtUnixUTC
	method := event.method
	updated.paymentMethod = &method
	transactionID := event.transactionID
	updated.transactionID = &transactionID
	return updated, nil
}

// SendQuote moves a fresh request to quote_sent.
func SendQuote(booking Booking) (Booking, error) {
	return transition(booking, operationSendQuote, StatusRequest, StatusQuoteSent)
}

// AcceptQuote moves a sent quote directly to confirmed.
func AcceptQuote(booking Booking) (Booking, error) {
	return transition(booking, operationAcceptQuote, StatusQuoteSent, StatusConfirmed)
}

// RejectQuote declines a sent quote terminally.
func RejectQuote(booking Booking) (Booking, error) {
	return transition(booking, operationRejectQuote, StatusQuoteSent, StatusQuoteRejected)
}

// Complete closes out a fully paid booking.
func Complete(booking Booking) (Booking, error) {
	return transition(booking, operationComplete, StatusPaidInFull, StatusCompleted)
}

// Cancel terminates any non-terminal booking. The reason is returned to
// the caller for audit; this component does not persist it.
func Cancel(booking Booking, reason CancelReason) (Booking, error) {
	if reason.value == "" {
		return Booking{}, WrapError(operationCancel, subjectBooking, codeInvalidEvent, fmt.Errorf("%w: empty value", ErrInvalidCancelReason))
	}
	if booking.status.IsTerminal() {
		return Booking{}, WrapError(operationCancel, subjectBooking, codeInvalidState, fmt.Errorf("%w: %s is terminal", ErrInvalidBookingState, booking.status))
	}
	updated := booking
	updated.status = StatusCancelled
	return updated, nil
}

func transition(booking Booking, operation string, from BookingStatus, to BookingStatus) (Booking, error) {
	if booking.status != from {
		return Booking{}, WrapError(operation, subjectBooking, codeInvalidState, fmt.Errorf("%w: expected %s, got %s", ErrInvalidBookingState, from, booking.status))
	}
	updated := booking
	updated.status = to
	return updated, nil
}
