package bookingledger

const (
	operationApplyPayment = "apply_payment"
	operationSendQuote    = "send_quote"
	operationAcceptQuote  = "accept_quote"
	operationRejectQuote  = "reject_quote"
	operationCancel       = "cancel"
	operationComplete     = "complete"

	subjectBooking = "booking"
	subjectPayment = "payment"

	codeInvalidState = "invalid_state"
	codeDuplicate    = "duplicate"
	codeInvalidEvent = "invalid_event"

	labelAwaitingQuote       = "Awaiting quote"
	labelQuoteSent           = "Quote sent"
	labelConfirmed           = "Confirmed"
	labelDownpaymentReceived = "Downpayment received"
	labelPaidInFull          = "Paid in full"
	labelCompleted           = "Completed"
	labelQuoteDeclined       = "Quote declined"
	labelCancelled           = "Cancelled"
)
