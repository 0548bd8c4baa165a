package booking

import (
	"context"

	"github.com/everafterlabs/bookingd/pkg/bookingledger"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing booking operation.
type OperationLog struct {
	Operation     string
	BookingID     bookingledger.BookingID
	TransactionID string
	AmountCents   int64
	FromStatus    bookingledger.BookingStatus
	ToStatus      bookingledger.BookingStatus
	Replayed      bool
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}
