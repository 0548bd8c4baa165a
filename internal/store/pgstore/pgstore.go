package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/everafterlabs/bookingd/internal/booking"
	"github.com/everafterlabs/bookingd/pkg/bookingledger"
)

const (
	constraintReceiptTransaction = "uniq_receipt_booking_transaction"
	constraintBookingPrimary     = "bookings_pkey"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectBooking          = "booking"
	errorSubjectReceipt          = "receipt"
	errorSubjectStatusEvent      = "status_event"
	errorSubjectTransaction      = "transaction"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLookup              = "lookup"
	errorCodeUpdate              = "update"

	sqlInsertBooking = `
		insert into bookings(
			booking_id, status, total_amount_cents, total_paid_cents,
			last_payment_at, payment_method, last_transaction_id, created_at, updated_at
		)
		values(
			$1, $2, $3, $4,
			to_timestamp(nullif($5,0)), nullif($6,''), nullif($7,''),
			now(), now()
		)
	`

	sqlSelectBooking = `
		select booking_id, status, total_amount_cents, total_paid_cents,
			coalesce(extract(epoch from last_payment_at)::bigint,0),
			coalesce(payment_method,''),
			coalesce(last_transaction_id,'')
		from bookings
		where booking_id = $1
	`

	sqlSelectBookingForUpdate = sqlSelectBooking + `
		for update
	`

	sqlUpdateBooking = `
		update bookings
		set status = $2,
			total_amount_cents = $3,
			total_paid_cents = $4,
			last_payment_at = to_timestamp(nullif($5,0)),
			payment_method = nullif($6,''),
			last_transaction_id = nullif($7,''),
			updated_at = now()
		where booking_id = $1
	`

	sqlCountReceipt = `
		select count(1) from payment_receipts
		where booking_id = $1 and transaction_id = $2
	`

	sqlInsertReceipt = `
		insert into payment_receipts(
			receipt_id, booking_id, transaction_id, type, amount_cents, method, occurred_at, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4, $5,
			to_timestamp($6),
			to_timestamp($7)
		)
	`

	sqlListReceipts = `
		select
			receipt_id::text,
			booking_id,
			transaction_id,
			type,
			amount_cents,
			method,
			extract(epoch from occurred_at)::bigint,
			extract(epoch from created_at)::bigint
		from payment_receipts
		where booking_id = $1
		order by created_at desc
		limit $2
	`

	sqlInsertStatusEvent = `
		insert into status_events(
			event_id, booking_id, from_status, to_status, operation, metadata, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4,
			coalesce(nullif($5,''),'{}')::jsonb,
			to_timestamp($6)
		)
	`
)

// Store implements booking.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements booking.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) InsertBooking(ctx context.Context, snapshot bookingledger.Booking) error {
	return insertBooking(ctx, store.pool, snapshot)
}

func (store *Store) GetBooking(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return selectBooking(ctx, store.pool, sqlSelectBooking, bookingID)
}

func (store *Store) GetBookingForUpdate(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return selectBooking(ctx, store.pool, sqlSelectBookingForUpdate, bookingID)
}

func (store *Store) UpdateBooking(ctx context.Context, snapshot bookingledger.Booking) error {
	return updateBooking(ctx, store.pool, snapshot)
}

func (store *Store) HasReceipt(ctx context.Context, bookingID bookingledger.BookingID, transactionID bookingledger.TransactionID) (bool, error) {
	return hasReceipt(ctx, store.pool, bookingID, transactionID)
}

func (store *Store) InsertReceipt(ctx context.Context, receipt booking.Receipt) error {
	return insertReceipt(ctx, store.pool, receipt)
}

func (store *Store) ListReceipts(ctx context.Context, bookingID bookingledger.BookingID, limit int) ([]booking.Receipt, error) {
	return listReceipts(ctx, store.pool, bookingID, limit)
}

func (store *Store) InsertStatusEvent(ctx context.Context, event booking.StatusEvent) error {
	return insertStatusEvent(ctx, store.pool, event)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) InsertBooking(ctx context.Context, snapshot bookingledger.Booking) error {
	return insertBooking(ctx, store.tx, snapshot)
}

func (store *TxStore) GetBooking(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return selectBooking(ctx, store.tx, sqlSelectBooking, bookingID)
}

func (store *TxStore) GetBookingForUpdate(ctx context.Context, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	return selectBooking(ctx, store.tx, sqlSelectBookingForUpdate, bookingID)
}

func (store *TxStore) UpdateBooking(ctx context.Context, snapshot bookingledger.Booking) error {
	return updateBooking(ctx, store.tx, snapshot)
}

func (store *TxStore) HasReceipt(ctx context.Context, bookingID bookingledger.BookingID, transactionID bookingledger.TransactionID) (bool, error) {
	return hasReceipt(ctx, store.tx, bookingID, transactionID)
}

func (store *TxStore) InsertReceipt(ctx context.Context, receipt booking.Receipt) error {
	return insertReceipt(ctx, store.tx, receipt)
}

func (store *TxStore) ListReceipts(ctx context.Context, bookingID bookingledger.BookingID, limit int) ([]booking.Receipt, error) {
	return listReceipts(ctx, store.tx, bookingID, limit)
}

func (store *TxStore) InsertStatusEvent(ctx context.Context, event booking.StatusEvent) error {
	return insertStatusEvent(ctx, store.tx, event)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertBooking(ctx context.Context, q querier, snapshot bookingledger.Booking) error {
	method := ""
	if value, ok := snapshot.PaymentMethod(); ok {
		method = value.String()
	}
	transactionID := ""
	if value, ok := snapshot.TransactionID(); ok {
		transactionID = value.String()
	}
	_, err := q.Exec(ctx, sqlInsertBooking,
		snapshot.BookingID().String(),
		snapshot.Status().String(),
		snapshot.TotalAmountCents().Int64(),
		snapshot.TotalPaidCents().Int64(),
		snapshot.LastPaymentUnixUTC(),
		method,
		transactionID,
	)
	if isBookingConflict(err) {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, bookingledger.ErrBookingExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return nil
}

func selectBooking(ctx context.Context, q querier, query string, bookingID bookingledger.BookingID) (bookingledger.Booking, error) {
	var (
		bookingIDValue     string
		statusValue        string
		totalAmountValue   int64
		totalPaidValue     int64
		lastPaymentUnixUTC int64
		methodValue        string
		transactionValue   string
	)
	err := q.QueryRow(ctx, query, bookingID.String()).Scan(
		&bookingIDValue,
		&statusValue,
		&totalAmountValue,
		&totalPaidValue,
		&lastPaymentUnixUTC,
		&methodValue,
		&transactionValue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bookingledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, bookingledger.ErrUnknownBooking)
		}
		return bookingledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	snapshot, err := mapBooking(bookingIDValue, statusValue, totalAmountValue, totalPaidValue, lastPaymentUnixUTC, methodValue, transactionValue)
	if err != nil {
		return bookingledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return snapshot, nil
}

func updateBooking(ctx context.Context, q querier, snapshot bookingledger.Booking) error {
	method := ""
	if value, ok := snapshot.PaymentMethod(); ok {
		method = value.String()
	}
	transactionID := ""
	if value, ok := snapshot.TransactionID(); ok {
		transactionID = value.String()
	}
	tag, err := q.Exec(ctx, sqlUpdateBooking,
		snapshot.BookingID().String(),
		snapshot.Status().String(),
		snapshot.TotalAmountCents().Int64(),
		snapshot.TotalPaidCents().Int64(),
		snapshot.LastPaymentUnixUTC(),
		method,
		transactionID,
	)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, bookingledger.ErrUnknownBooking)
	}
	return nil
}

func hasReceipt(ctx context.Context, q querier, bookingID bookingledger.BookingID, transactionID bookingledger.TransactionID) (bool, error) {
	var count int64
	err := q.QueryRow(ctx, sqlCountReceipt, bookingID.String(), transactionID.String()).Scan(&count)
	if err != nil {
		return false, wrapStoreError(errorSubjectReceipt, errorCodeLookup, err)
	}
	return count > 0, nil
}

func insertReceipt(ctx context.Context, q querier, receipt booking.Receipt) error {
	_, err := q.Exec(ctx, sqlInsertReceipt,
		receipt.BookingID.String(),
		receipt.TransactionID.String(),
		receipt.Type.String(),
		receipt.AmountCents,
		receipt.Method,
		receipt.OccurredAtUnixUTC,
		receipt.CreatedUnixUTC,
	)
	if isReceiptConflict(err) {
		return wrapStoreError(errorSubjectReceipt, errorCodeDuplicate, bookingledger.ErrDuplicatePayment)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReceipt, errorCodeInsert, err)
	}
	return nil
}

func listReceipts(ctx context.Context, q querier, bookingID bookingledger.BookingID, limit int) ([]booking.Receipt, error) {
	rows, err := q.Query(ctx, sqlListReceipts, bookingID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReceipt, errorCodeList, err)
	}
	defer rows.Close()
	receipts, err := scanReceipts(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReceipt, errorCodeInvalid, err)
	}
	return receipts, nil
}

func insertStatusEvent(ctx context.Context, q querier, event booking.StatusEvent) error {
	_, err := q.Exec(ctx, sqlInsertStatusEvent,
		event.BookingID.String(),
		event.FromStatus.String(),
		event.ToStatus.String(),
		event.Operation,
		event.MetadataJSON,
		event.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectStatusEvent, errorCodeInsert, err)
	}
	return nil
}

func scanReceipts(rows pgx.Rows) ([]booking.Receipt, error) {
	receipts := make([]booking.Receipt, 0, 16)
	for rows.Next() {
		var (
			receiptIDValue    string
			bookingIDValue    string
			transactionValue  string
			typeValue         string
			amountValue       int64
			methodValue       string
			occurredAtUnixUTC int64
			createdAtUnixUTC  int64
		)
		if err := rows.Scan(
			&receiptIDValue,
			&bookingIDValue,
			&transactionValue,
			&typeValue,
			&amountValue,
			&methodValue,
			&occurredAtUnixUTC,
			&createdAtUnixUTC,
		); err != nil {
			return nil, err
		}
		bookingID, err := bookingledger.NewBookingID(bookingIDValue)
		if err != nil {
			return nil, err
		}
		transactionID, err := bookingledger.NewTransactionID(transactionValue)
		if err != nil {
			return nil, err
		}
		paymentType, err := bookingledger.ParsePaymentType(typeValue)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, booking.Receipt{
			ReceiptID:         receiptIDValue,
			BookingID:         bookingID,
			TransactionID:     transactionID,
			Type:              paymentType,
			AmountCents:       amountValue,
			Method:            methodValue,
			OccurredAtUnixUTC: occurredAtUnixUTC,
			CreatedUnixUTC:    createdAtUnixUTC,
		})
	}
	return receipts, rows.Err()
}

func mapBooking(bookingIDValue string, statusValue string, totalAmountValue int64, totalPaidValue int64, lastPaymentUnixUTC int64, methodValue string, transactionValue string) (bookingledger.Booking, error) {
	bookingID, err := bookingledger.NewBookingID(bookingIDValue)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	status, err := bookingledger.ParseBookingStatus(statusValue)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	totalAmount, err := bookingledger.NewAmountCents(totalAmountValue)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	totalPaid, err := bookingledger.NewAmountCents(totalPaidValue)
	if err != nil {
		return bookingledger.Booking{}, err
	}
	var method *bookingledger.PaymentMethod
	if methodValue != "" {
		parsed, err := bookingledger.NewPaymentMethod(methodValue)
		if err != nil {
			return bookingledger.Booking{}, err
		}
		method = &parsed
	}
	var transactionID *bookingledger.TransactionID
	if transactionValue != "" {
		parsed, err := bookingledger.NewTransactionID(transactionValue)
		if err != nil {
			return bookingledger.Booking{}, err
		}
		transactionID = &parsed
	}
	return bookingledger.NewBooking(bookingID, status, totalAmount, totalPaid, lastPaymentUnixUTC, method, transactionID)
}

func wrapStoreError(subject string, code string, err error) error {
	return bookingledger.WrapError(errorOperationStore, subject, code, err)
}

func isReceiptConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintReceiptTransaction
	}
	return false
}

func isBookingConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintBookingPrimary
	}
	return false
}
