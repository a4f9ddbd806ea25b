package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/shared"
)

// Repository provides PostgreSQL backed persistence for receipts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateReceipt inserts a receipt, allocating its number and external ref.
func (r *Repository) CreateReceipt(ctx context.Context, receipt billing.Receipt) (*billing.Receipt, error) {
	if err := r.pool.QueryRow(ctx, `SELECT generate_receipt_number()`).Scan(&receipt.Number); err != nil {
		return nil, fmt.Errorf("receipts: allocate number: %w", err)
	}
	receipt.ExternalRef = externalRef(receipt.Number)

	var invoiceID, paymentID pgtype.Int8
	if receipt.InvoiceID > 0 {
		invoiceID = pgtype.Int8{Int64: receipt.InvoiceID, Valid: true}
	}
	if receipt.PaymentID != nil {
		paymentID = pgtype.Int8{Int64: *receipt.PaymentID, Valid: true}
	}
	var issueDate pgtype.Date
	if receipt.IssueDate != nil {
		issueDate = pgtype.Date{Time: *receipt.IssueDate, Valid: true}
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO receipts (number, external_ref, invoice_id, payment_id, recipient_name, amount, issue_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		receipt.Number, receipt.ExternalRef, invoiceID, paymentID,
		receipt.RecipientName, receipt.Amount, issueDate, receipt.Status,
	).Scan(&receipt.ID, &receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("receipts: create: %w", err)
	}
	return &receipt, nil
}

// GetPayment loads the payment a receipt is being issued for.
func (r *Repository) GetPayment(ctx context.Context, paymentID int64) (*billing.Payment, error) {
	var p billing.Payment
	var cancelledAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, `
		SELECT id, invoice_id, amount, method, payment_date, reference, note, cancelled_at
		FROM payments WHERE id = $1`, paymentID,
	).Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.PaymentDate, &p.Reference, &p.Note, &cancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("receipts: get payment: %w", err)
	}
	if cancelledAt.Valid {
		p.CancelledAt = &cancelledAt.Time
	}
	return &p, nil
}

const receiptColumns = `id, number, external_ref, COALESCE(invoice_id, 0), payment_id, recipient_name, amount, issue_date, status, created_at, updated_at`

func scanReceipt(row pgx.Row) (*billing.Receipt, error) {
	var rc billing.Receipt
	var paymentID pgtype.Int8
	var issueDate pgtype.Date
	err := row.Scan(
		&rc.ID, &rc.Number, &rc.ExternalRef, &rc.InvoiceID, &paymentID,
		&rc.RecipientName, &rc.Amount, &issueDate, &rc.Status, &rc.CreatedAt, &rc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		rc.PaymentID = &paymentID.Int64
	}
	if issueDate.Valid {
		rc.IssueDate = &issueDate.Time
	}
	return &rc, nil
}

// GetReceiptByPayment returns the receipt bound to the payment, or nil.
func (r *Repository) GetReceiptByPayment(ctx context.Context, paymentID int64) (*billing.Receipt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE payment_id = $1`, paymentID)
	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipts: get by payment: %w", err)
	}
	return receipt, nil
}

// FindUnboundPreReceipt returns the best unbound pre-receipt for the invoice:
// an exact amount match if one exists, otherwise the oldest.
func (r *Repository) FindUnboundPreReceipt(ctx context.Context, invoiceID int64, amount decimal.Decimal) (*billing.Receipt, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE invoice_id = $1 AND payment_id IS NULL AND status = 'pre_issued'
		ORDER BY (amount = $2) DESC, created_at, id
		LIMIT 1`, invoiceID, amount)
	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipts: find pre-receipt: %w", err)
	}
	return receipt, nil
}

// BindReceipt sets the payment on an unbound receipt. The payment_id IS NULL
// guard makes the binding one-way: a receipt bound meanwhile loses the race
// and the caller observes Conflict.
func (r *Repository) BindReceipt(ctx context.Context, receiptID, paymentID int64, issueDate time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE receipts
		SET payment_id = $2, issue_date = $3, status = 'issued', updated_at = NOW()
		WHERE id = $1 AND payment_id IS NULL`,
		receiptID, paymentID, issueDate)
	if err != nil {
		return fmt.Errorf("receipts: bind: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: receipt %d already bound", shared.ErrConflict, receiptID)
	}
	return nil
}

// GetInvoiceRecipient resolves the name printed on a fresh receipt.
func (r *Repository) GetInvoiceRecipient(ctx context.Context, invoiceID int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(p.name, c.name, '')
		FROM invoices i
		LEFT JOIN people p ON p.id = i.person_id
		LEFT JOIN companies c ON c.id = i.company_id
		WHERE i.id = $1`, invoiceID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: invoice %d", shared.ErrNotFound, invoiceID)
	}
	if err != nil {
		return "", fmt.Errorf("receipts: get recipient: %w", err)
	}
	return name, nil
}
