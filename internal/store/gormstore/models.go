package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Booking mirrors the bookings table.
type Booking struct {
	BookingID         string     `gorm:"primaryKey"`
	Status            string     `gorm:"not null;index:idx_bookings_status"`
	TotalAmountCents  int64      `gorm:"not null"`
	TotalPaidCents    int64      `gorm:"not null"`
	LastPaymentAt     *time.Time `gorm:""`
	PaymentMethod     *string    `gorm:""`
	LastTransactionID *string    `gorm:""`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

// PaymentReceipt mirrors the payment_receipts table. The unique index
// on (booking_id, transaction_id) is the durable replay guard.
type PaymentReceipt struct {
	ReceiptID     string    `gorm:"type:uuid;primaryKey"`
	BookingID     string    `gorm:"not null;index:uniq_receipt_booking_transaction,unique,priority:1;index:idx_receipts_booking_created,priority:1"`
	TransactionID string    `gorm:"not null;index:uniq_receipt_booking_transaction,unique,priority:2"`
	Type          string    `gorm:"not null"`
	AmountCents   int64     `gorm:"not null"`
	Method        string    `gorm:"not null"`
	OccurredAt    time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index:idx_receipts_booking_created,priority:2"`
}

func (PaymentReceipt) TableName() string { return "payment_receipts" }

func (receipt *PaymentReceipt) BeforeCreate(tx *gorm.DB) error {
	if receipt.ReceiptID == "" {
		receipt.ReceiptID = uuid.NewString()
	}
	return nil
}

// StatusEvent mirrors the status_events audit table.
type StatusEvent struct {
	EventID    string         `gorm:"type:uuid;primaryKey"`
	BookingID  string         `gorm:"not null;index:idx_status_events_booking_created,priority:1"`
	FromStatus string         `gorm:"not null"`
	ToStatus   string         `gorm:"not null"`
	Operation  string         `gorm:"not null"`
	Metadata   datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null;index:idx_status_events_booking_created,priority:2"`
}

func (StatusEvent) TableName() string { return "status_events" }

func (event *StatusEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}
