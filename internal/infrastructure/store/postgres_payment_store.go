package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/vending-commerce/internal/domain/payment"
)

// PostgresPaymentStore persists ledger rows. Rows are append-style:
// inserts for every attempt/refund, updates only through UpdateLocked.
type PostgresPaymentStore struct {
	db *sql.DB
}

func NewPostgresPaymentStore(db *sql.DB) *PostgresPaymentStore {
	return &PostgresPaymentStore{db: db}
}

const paymentColumns = `
	id, order_id, user_id, amount, currency, payment_method, payment_gateway,
	transaction_type, status, gw_transaction_id, gw_order_id, gw_payment_id,
	gw_signature, error_code, error_message, raw_response,
	meta_machine_id, meta_description, meta_item_count,
	refund_of, reason, initiated_at, completed_at, failed_at, expires_at,
	attempts, max_attempts, refundable_amount, refunded_amount`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*payment.Payment, error) {
	var p payment.Payment
	var completedAt, failedAt sql.NullTime
	var gwTxn, gwOrder, gwPayment, gwSig, errCode, errMsg, refundOf, reason sql.NullString
	var raw []byte
	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &p.Method, &p.Gateway,
		&p.Type, &p.Status, &gwTxn, &gwOrder, &gwPayment,
		&gwSig, &errCode, &errMsg, &raw,
		&p.Metadata.MachineID, &p.Metadata.Description, &p.Metadata.ItemCount,
		&refundOf, &reason, &p.InitiatedAt, &completedAt, &failedAt, &p.ExpiresAt,
		&p.Attempts, &p.MaxAttempts, &p.RefundableAmount, &p.RefundedAmount,
	)
	if err == sql.ErrNoRows {
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.GatewayResponse.TransactionID = gwTxn.String
	p.GatewayResponse.OrderID = gwOrder.String
	p.GatewayResponse.PaymentID = gwPayment.String
	p.GatewayResponse.Signature = gwSig.String
	p.GatewayResponse.ErrorCode = errCode.String
	p.GatewayResponse.ErrorMessage = errMsg.String
	p.GatewayResponse.Raw = raw
	p.Metadata.OrderID = p.OrderID
	p.RefundOf = refundOf.String
	p.Reason = reason.String
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		p.FailedAt = &failedAt.Time
	}
	return &p, nil
}

func paymentArgs(p *payment.Payment) []any {
	return []any{
		p.ID, p.OrderID, p.UserID, p.Amount, p.Currency, p.Method, p.Gateway,
		p.Type, p.Status,
		nullable(p.GatewayResponse.TransactionID), nullable(p.GatewayResponse.OrderID),
		nullable(p.GatewayResponse.PaymentID), nullable(p.GatewayResponse.Signature),
		nullable(p.GatewayResponse.ErrorCode), nullable(p.GatewayResponse.ErrorMessage),
		[]byte(p.GatewayResponse.Raw),
		p.Metadata.MachineID, p.Metadata.Description, p.Metadata.ItemCount,
		nullable(p.RefundOf), nullable(p.Reason), p.InitiatedAt, p.CompletedAt, p.FailedAt, p.ExpiresAt,
		p.Attempts, p.MaxAttempts, p.RefundableAmount, p.RefundedAmount,
	}
}

func (s *PostgresPaymentStore) Create(ctx context.Context, p *payment.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
	`, paymentArgs(p)...)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresPaymentStore) Get(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
}

func (s *PostgresPaymentStore) List(ctx context.Context, filter PaymentFilter) ([]*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.MachineID != "" {
		args = append(args, filter.MachineID)
		query += fmt.Sprintf(" AND meta_machine_id = $%d", len(args))
	}
	query += " ORDER BY initiated_at DESC"
	return s.queryPayments(ctx, query, args...)
}

func (s *PostgresPaymentStore) SuccessfulPaymentForOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1 AND transaction_type = $2 AND status = $3
		LIMIT 1
	`, orderID, payment.TypePayment, payment.StatusSuccess))
}

func (s *PostgresPaymentStore) ListExpired(ctx context.Context, now time.Time) ([]*payment.Payment, error) {
	return s.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE transaction_type = $1 AND status IN ($2, $3) AND expires_at < $4
	`, payment.TypePayment, payment.StatusPending, payment.StatusProcessing, now)
}

func (s *PostgresPaymentStore) queryPayments(ctx context.Context, query string, args ...any) ([]*payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *PostgresPaymentStore) UpdateLocked(ctx context.Context, paymentID string, apply func(*payment.Payment) error) (*payment.Payment, error) {
	var result *payment.Payment
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		p, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID))
		if err != nil {
			return err
		}

		if err := apply(p); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE payments SET
				status = $2, gw_transaction_id = $3, gw_order_id = $4, gw_payment_id = $5,
				gw_signature = $6, error_code = $7, error_message = $8, raw_response = $9,
				completed_at = $10, failed_at = $11, attempts = $12,
				refundable_amount = $13, refunded_amount = $14
			WHERE id = $1
		`, p.ID, p.Status,
			nullable(p.GatewayResponse.TransactionID), nullable(p.GatewayResponse.OrderID),
			nullable(p.GatewayResponse.PaymentID), nullable(p.GatewayResponse.Signature),
			nullable(p.GatewayResponse.ErrorCode), nullable(p.GatewayResponse.ErrorMessage),
			[]byte(p.GatewayResponse.Raw),
			p.CompletedAt, p.FailedAt, p.Attempts, p.RefundableAmount, p.RefundedAmount)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
