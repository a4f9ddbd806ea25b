package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/platform/db"
	"github.com/bentoya/bentoya/internal/shared"
)

// Repository provides PostgreSQL backed persistence for payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SettleInFull records one payment for the invoice's entire outstanding
// balance. The invoice row is locked for the whole read-recompute-write
// sequence, so at most one full settlement wins when raced.
func (r *Repository) SettleInFull(ctx context.Context, input RecordInput) (*PaymentResult, error) {
	var result PaymentResult
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			total  decimal.Decimal
			status billing.InvoiceStatus
		)
		err := tx.QueryRow(ctx,
			`SELECT total_amount, status FROM invoices WHERE id = $1 FOR UPDATE`, input.InvoiceID,
		).Scan(&total, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: invoice %d", shared.ErrNotFound, input.InvoiceID)
		}
		if err != nil {
			return fmt.Errorf("payments: lock invoice: %w", err)
		}
		if status == billing.StatusCancelled {
			return fmt.Errorf("%w: invoice %d is cancelled", shared.ErrInvalidState, input.InvoiceID)
		}

		// Re-check the balance under the lock; a concurrent settlement may
		// have already drained it.
		var paid decimal.Decimal
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(amount), 0) FROM payments
			WHERE invoice_id = $1 AND cancelled_at IS NULL`, input.InvoiceID,
		).Scan(&paid); err != nil {
			return fmt.Errorf("payments: sum payments: %w", err)
		}
		outstanding := total.Sub(paid)
		if !outstanding.IsPositive() {
			return fmt.Errorf("%w: invoice %d has no outstanding balance", shared.ErrInvalidState, input.InvoiceID)
		}

		payment := billing.Payment{
			InvoiceID:   input.InvoiceID,
			Amount:      outstanding,
			Method:      input.Method,
			PaymentDate: input.PaymentDate,
			Reference:   input.Reference,
			Note:        input.Note,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO payments (invoice_id, amount, method, payment_date, reference, note, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			payment.InvoiceID, payment.Amount, payment.Method, payment.PaymentDate, payment.Reference, payment.Note,
		).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
		if err != nil {
			return fmt.Errorf("payments: insert payment: %w", err)
		}

		newStatus := billing.DeriveStatus(total, paid.Add(outstanding))
		if _, err := tx.Exec(ctx,
			`UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1`,
			input.InvoiceID, newStatus,
		); err != nil {
			return fmt.Errorf("payments: update status: %w", err)
		}

		result = PaymentResult{Payment: payment, InvoiceStatus: newStatus}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelPayment marks the payment cancelled, re-derives the invoice status
// from the remaining live payments and supersedes any receipt bound to the
// payment.
func (r *Repository) CancelPayment(ctx context.Context, paymentID int64, reason string) (*CancelResult, error) {
	var result CancelResult
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			invoiceID   int64
			cancelledAt pgtype.Timestamptz
		)
		// Lock the owning invoice first so the balance recompute cannot race
		// a concurrent settlement.
		err := tx.QueryRow(ctx, `
			SELECT p.invoice_id, p.cancelled_at
			FROM payments p
			JOIN invoices i ON i.id = p.invoice_id
			WHERE p.id = $1
			FOR UPDATE OF i`, paymentID,
		).Scan(&invoiceID, &cancelledAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
		}
		if err != nil {
			return fmt.Errorf("payments: lock payment: %w", err)
		}
		if cancelledAt.Valid {
			return fmt.Errorf("%w: payment %d already cancelled", shared.ErrInvalidState, paymentID)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE payments SET cancelled_at = NOW(), cancel_reason = $2, updated_at = NOW()
			WHERE id = $1`, paymentID, reason,
		); err != nil {
			return fmt.Errorf("payments: cancel payment: %w", err)
		}

		var total, paid decimal.Decimal
		if err := tx.QueryRow(ctx, `
			SELECT i.total_amount, COALESCE(SUM(p.amount) FILTER (WHERE p.cancelled_at IS NULL), 0)
			FROM invoices i
			LEFT JOIN payments p ON p.invoice_id = i.id
			WHERE i.id = $1
			GROUP BY i.id`, invoiceID,
		).Scan(&total, &paid); err != nil {
			return fmt.Errorf("payments: recompute balance: %w", err)
		}

		newStatus := billing.DeriveStatus(total, paid)
		if _, err := tx.Exec(ctx,
			`UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1`,
			invoiceID, newStatus,
		); err != nil {
			return fmt.Errorf("payments: update status: %w", err)
		}

		// A receipt bound to this payment must stop asserting it.
		var receiptID pgtype.Int8
		err = tx.QueryRow(ctx, `
			UPDATE receipts SET status = 'superseded', updated_at = NOW()
			WHERE payment_id = $1 AND status <> 'superseded'
			RETURNING id`, paymentID,
		).Scan(&receiptID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("payments: supersede receipt: %w", err)
		}

		result = CancelResult{InvoiceStatus: newStatus, RemainingBalance: total.Sub(paid)}
		if receiptID.Valid {
			result.VoidedReceiptID = &receiptID.Int64
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
