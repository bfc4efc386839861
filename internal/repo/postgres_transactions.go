package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kazibill/mpesa-billing/internal/model"
)

type PostgresTransactionStore struct {
	db *sql.DB
}

func NewPostgresTransactionStore(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

func (s *PostgresTransactionStore) CreatePending(ctx context.Context, t model.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			checkout_request_id, merchant_request_id, organization_id,
			amount, phone_number, package_name, subscription_type,
			status, raw_response, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', $8, now(), now())
	`,
		t.CheckoutRequestID,
		t.MerchantRequestID,
		t.OrganizationID,
		t.Amount,
		t.PhoneNumber,
		t.PackageName,
		t.SubscriptionType,
		t.RawResponse,
	)
	return err
}

func (s *PostgresTransactionStore) Get(ctx context.Context, checkoutRequestID string) (*model.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checkout_request_id, merchant_request_id, organization_id,
		       amount, phone_number, package_name, subscription_type,
		       status, mpesa_receipt, amount_paid, transaction_date,
		       payer_phone, result_code, result_desc, created_at, updated_at
		FROM transactions
		WHERE checkout_request_id = $1
	`, checkoutRequestID)

	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PostgresTransactionStore) ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT checkout_request_id, merchant_request_id, organization_id,
		       amount, phone_number, package_name, subscription_type,
		       status, mpesa_receipt, amount_paid, transaction_date,
		       payer_phone, result_code, result_desc, created_at, updated_at
		FROM transactions
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, organizationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresTransactionStore) Fail(ctx context.Context, checkoutRequestID string, out Outcome) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'FAILED',
		    result_code = $2,
		    result_desc = $3,
		    callback_metadata = $4,
		    updated_at = now()
		WHERE checkout_request_id = $1
		  AND status = 'PENDING'
	`, checkoutRequestID, out.ResultCode, out.ResultDesc, out.Metadata)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresTransactionStore) CompleteAndExtend(ctx context.Context, checkoutRequestID string, out Outcome, organizationID string, upd SubscriptionUpdate) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'COMPLETED',
		    mpesa_receipt = $2,
		    amount_paid = $3,
		    transaction_date = $4,
		    payer_phone = $5,
		    result_code = $6,
		    result_desc = $7,
		    callback_metadata = $8,
		    updated_at = now()
		WHERE checkout_request_id = $1
		  AND status = 'PENDING'
	`,
		checkoutRequestID,
		out.MpesaReceipt,
		out.AmountPaid,
		nullTime(out.TransactionDate),
		out.PayerPhone,
		out.ResultCode,
		out.ResultDesc,
		out.Metadata,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Already terminal. Commit so the no-op is visible as such.
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE organizations
		SET active_package = $2,
		    subscription_start = $3,
		    subscription_end = $4,
		    subscription_type = $5,
		    last_amount_paid = $6,
		    last_transaction_id = $7,
		    payment_confirmed = true,
		    updated_at = now()
		WHERE id = $1
	`,
		organizationID,
		upd.PackageName,
		upd.Start,
		upd.End,
		upd.SubscriptionType,
		upd.AmountPaid,
		upd.TransactionID,
	); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var t model.Transaction
	var status string
	var receipt, payerPhone, resultDesc sql.NullString
	var amountPaid sql.NullFloat64
	var txDate sql.NullTime
	var resultCode sql.NullInt64

	if err := row.Scan(
		&t.CheckoutRequestID,
		&t.MerchantRequestID,
		&t.OrganizationID,
		&t.Amount,
		&t.PhoneNumber,
		&t.PackageName,
		&t.SubscriptionType,
		&status,
		&receipt,
		&amountPaid,
		&txDate,
		&payerPhone,
		&resultCode,
		&resultDesc,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Status = model.Status(status)

	if receipt.Valid {
		s := receipt.String
		t.MpesaReceipt = &s
	}
	if amountPaid.Valid {
		f := amountPaid.Float64
		t.AmountPaid = &f
	}
	if txDate.Valid {
		d := txDate.Time
		t.TransactionDate = &d
	}
	if payerPhone.Valid {
		s := payerPhone.String
		t.PayerPhone = &s
	}
	if resultCode.Valid {
		c := int(resultCode.Int64)
		t.ResultCode = &c
	}
	if resultDesc.Valid {
		s := resultDesc.String
		t.ResultDesc = &s
	}

	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
