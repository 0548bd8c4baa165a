package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/everafterlabs/bookingd/internal/booking"
	"github.com/everafterlabs/bookingd/pkg/bookingledger"
)

const (
	constraintReceiptTransaction = "uniq_receipt_booking_transaction"
	constraintBookingPrimary     = "bookings_pkey"
	defaultMetadataJSON          = "{}"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectBooking          = "booking"
	errorSubjectReceipt          = "receipt"
	errorSubjectStatusEvent      = "status_event"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLookup              = "lookup"
	errorCodeUpdate              = "update"
)

// Store implements booking.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Intended for the sqlite driver; postgres
// deployments manage the schema out of band.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Booking{}, &PaymentReceipt{}, &StatusEvent{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) InsertBooking(ctx context.Context, snapshot bookingledger.Booking) error {
	model := bookingModel(snapshot)
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	err := store.db.WithContext(ctx).Create(&model).Error
	if isBookingConflict(err) {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, bookingledger.ErrBookingExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return store.getBooking(ctx, bookingID, false)
}

func (store *Store) GetBookingForUpdate(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return store.getBooking(ctx, bookingID, true)
}

func (store *Store) getBooking(ctx context.Context, bookingID bookingledger.BookingID, forUpdate bool) (bookingledger.Booking, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Booking
	err := query.Where("booking_id = ?", bookingID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return bookingledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, bookingledger.ErrUnknownBooking)
		}
		return bookingledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	snapshot, err := mapBooking(model)
	if err != nil {
		return bookingledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return snapshot, nil
}

func (store *Store) UpdateBooking(ctx context.Context, snapshot bookingledger.Booking) error {
	model := bookingModel(snapshot)
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ?", model.BookingID).
		Updates(map[string]interface{}{
			"status":              model.Status,
			"total_amount_cents":  model.TotalAmountCents,
			"total_paid_cents":    model.TotalPaidCents,
			"last_payment_at":     model.LastPaymentAt,
			"payment_method":      model.PaymentMethod,
			"last_transaction_id": model.LastTransactionID,
			"updated_at":          time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, bookingledger.ErrUnknownBooking)
	}
	return nil
}

func (store *Store) HasReceipt(ctx context.Context, bookingID bookingledger.BookingID, transactionID bookingledger.TransactionID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&PaymentReceipt{}).
		Where("booking_id = ? AND transaction_id = ?", bookingID.String(), transactionID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectReceipt, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) InsertReceipt(ctx context.Context, receipt booking.Receipt) error {
	model := PaymentReceipt{
		ReceiptID:     receipt.ReceiptID,
		BookingID:     receipt.BookingID.String(),
		TransactionID: receipt.TransactionID.String(),
		Type:          receipt.Type.String(),
		AmountCents:   receipt.AmountCents,
		Method:        receipt.Method,
		OccurredAt:    time.Unix(receipt.OccurredAtUnixUTC, 0).UTC(),
		CreatedAt:     time.Unix(receipt.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isReceiptConflict(err) {
		return wrapStoreError(errorSubjectReceipt, errorCodeDuplicate, bookingledger.ErrDuplicatePayment)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReceipt, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListReceipts(ctx context.Context, bookingID bookingledger.BookingID, limit int) ([]booking.Receipt, error) {
	var rows []PaymentReceipt
	query := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID.String()).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReceipt, errorCodeList, err)
	}
	receipts := make([]booking.Receipt, 0, len(rows))
	for _, row := range rows {
		receipt, err := mapReceipt(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReceipt, errorCodeInvalid, err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func (store *Store) InsertStatusEvent(ctx context.Context, event booking.StatusEvent) error {
	model := StatusEvent{
		EventID:    event.EventID,
		BookingID:  event.BookingID.String(),
		FromStatus: event.FromStatus.String(),
		ToStatus:   event.ToStatus.String(),
		Operation:  event.Operation,
		Metadata:   datatypesJSON(event.MetadataJSON),
		CreatedAt:  time.Unix(event.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectStatusEvent, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return bookingledger.WrapError(errorOperationStore, subject, code, err)
}

func bookingModel(snapshot bookingledger.Booking) Booking {
	model := Booking{
		BookingID:        snapshot.BookingID().String(),
		Status:           snapshot.Status().String(),
		TotalAmountCents: snapshot.TotalAmountCents().Int64(),
		TotalPaidCents:   snapshot.TotalPaidCents().Int64(),
	}
	if snapshot.LastPaymentUnixUTC() != 0 {
		value := time.Unix(snapshot.LastPaymentUnixUTC(), 0).UTC()
		model.LastPaymentAt = &value
	}
	if method, ok := snapshot.PaymentMethod(); ok {
		value := method.String()
		model.PaymentMethod = &value
	}
	if transactionID, ok := snapshot.TransactionID(); ok {
		value := transactionID.String()
		model.LastTransactionID = &value
	}
	return model
}

func mapBooking(model Booking) (bookingledger.Booking, error) {
	bookingID, err := bookingledger.NewBookingID(model.BookingID)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	status, err := bookingledger.ParseBookingStatus(model.Status)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	totalAmount, err := bookingledger.NewAmountCents(model.TotalAmountCents)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	totalPaid, err := bookingledger.NewAmountCents(model.TotalPaidCents)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	var method *bookingledger.PaymentMethod
	if model.PaymentMethod != nil {
		parsed, err := bookingledger.NewPaymentMethod(*model.PaymentMethod)
		if err != nil {
			return bookingledger.Booking{}, err
		}
		method = &parsed
	}
	var transactionID *bookingledger.TransactionID
	if model.LastTransactionID != nil {
		parsed, err := bookingledger.NewTransactionID(*model.LastTransactionID)
		if err != nil {
			return bookingledger.Booking{}, err
		}
		transactionID = &parsed
	}
	return bookingledger.NewBooking(bookingID, status, totalAmount, totalPaid, timeOrZero(model.LastPaymentAt), method, transactionID)
}

func mapReceipt(model PaymentReceipt) (booking.Receipt, error) {
	bookingID, err := bookingledger.NewBookingID(model.BookingID)
	if err != nil {
		return booking.Receipt{}, err
	}
	transactionID, err := bookingledger.NewTransactionID(model.TransactionID)
	if err != nil {
		return booking.Receipt{}, err
	}
	paymentType, err := bookingledger.ParsePaymentType(model.Type)
	if err != nil {
		return booking.Receipt{}, err
	}
	return booking.Receipt{
		ReceiptID:         model.ReceiptID,
		BookingID:         bookingID,
		TransactionID:     transactionID,
		Type:              paymentType,
		AmountCents:       model.AmountCents,
		Method:            model.Method,
		OccurredAtUnixUTC: model.OccurredAt.Unix(),
		CreatedUnixUTC:    model.CreatedAt.Unix(),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isReceiptConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintReceiptTransaction
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isBookingConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintBookingPrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
