package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/orders"
	"github.com/bentoya/bentoya/internal/platform/db"
	"github.com/bentoya/bentoya/internal/shared"
)

const pgUniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for invoice generation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ResolveTarget loads the billing target and the sponsoring company's billing
// configuration for the given invoice type.
func (r *Repository) ResolveTarget(ctx context.Context, invoiceType billing.InvoiceType, targetID int64) (*Target, error) {
	var (
		query  string
		target Target
	)
	switch invoiceType {
	case billing.TypeCompanyBulk:
		query = `
			SELECT c.id, c.name, c.id, 0, 0, c.subsidy_rate, COALESCE(c.billing_address, '')
			FROM companies c WHERE c.id = $1`
	case billing.TypeDepartment:
		query = `
			SELECT d.id, d.name, c.id, d.id, 0, c.subsidy_rate, COALESCE(c.billing_address, '')
			FROM departments d JOIN companies c ON c.id = d.company_id
			WHERE d.id = $1`
	case billing.TypeIndividual:
		query = `
			SELECT p.id, p.name, c.id, 0, p.id, c.subsidy_rate, COALESCE(c.billing_address, '')
			FROM people p JOIN companies c ON c.id = p.company_id
			WHERE p.id = $1`
	default:
		return nil, fmt.Errorf("%w: unknown invoice type %q", shared.ErrValidation, invoiceType)
	}

	var rate pgtype.Numeric
	err := r.pool.QueryRow(ctx, query, targetID).Scan(
		&target.ID, &target.Name, &target.CompanyID, &target.DepartmentID, &target.PersonID,
		&rate, &target.BillingAddress,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s target %d", shared.ErrNotFound, invoiceType, targetID)
	}
	if err != nil {
		return nil, fmt.Errorf("invoicing: resolve target: %w", err)
	}
	if rate.Valid && rate.Int != nil {
		d := decimal.NewFromBigInt(rate.Int, rate.Exp)
		target.SubsidyRate = &d
	}
	return &target, nil
}

// ListEligibleOrders returns active, unclaimed orders for the target with a
// delivery date inside the period.
func (r *Repository) ListEligibleOrders(ctx context.Context, invoiceType billing.InvoiceType, targetID int64, periodStart, periodEnd time.Time) ([]orders.Order, error) {
	var targetClause string
	switch invoiceType {
	case billing.TypeCompanyBulk:
		targetClause = "company_id = $1"
	case billing.TypeDepartment:
		targetClause = "department_id = $1"
	case billing.TypeIndividual:
		targetClause = "person_id = $1"
	default:
		return nil, fmt.Errorf("%w: unknown invoice type %q", shared.ErrValidation, invoiceType)
	}

	query := `
		SELECT id, person_id, company_id, COALESCE(department_id, 0), product_name, quantity,
			unit_price, total_amount, subsidy_amount, payable_amount, delivery_date
		FROM orders
		WHERE ` + targetClause + `
			AND status = 'active'
			AND invoice_id IS NULL
			AND delivery_date BETWEEN $2 AND $3
		ORDER BY delivery_date, id`

	rows, err := r.pool.Query(ctx, query, targetID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("invoicing: list eligible orders: %w", err)
	}
	defer rows.Close()

	var result []orders.Order
	for rows.Next() {
		var o orders.Order
		if err := rows.Scan(
			&o.ID, &o.PersonID, &o.CompanyID, &o.DepartmentID, &o.ProductName, &o.Quantity,
			&o.UnitPrice, &o.TotalAmount, &o.SubsidyAmount, &o.PayableAmount, &o.DeliveryDate,
		); err != nil {
			return nil, fmt.Errorf("invoicing: scan order: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// CreateInvoiceWithLines persists the invoice header, its lines and the order
// claims in one transaction. If any order was claimed by a concurrent run the
// whole invoice rolls back with Conflict.
func (r *Repository) CreateInvoiceWithLines(ctx context.Context, invoice billing.Invoice, lines []billing.InvoiceLine) (*billing.Invoice, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT generate_invoice_number()`).Scan(&invoice.Number); err != nil {
			return fmt.Errorf("invoicing: allocate number: %w", err)
		}

		var departmentID, personID pgtype.Int8
		if invoice.DepartmentID > 0 {
			departmentID = pgtype.Int8{Int64: invoice.DepartmentID, Valid: true}
		}
		if invoice.PersonID > 0 {
			personID = pgtype.Int8{Int64: invoice.PersonID, Valid: true}
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO invoices (
				number, invoice_type, company_id, department_id, person_id,
				period_start, period_end, total_amount, due_date, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			invoice.Number, invoice.Type, invoice.CompanyID, departmentID, personID,
			invoice.PeriodStart, invoice.PeriodEnd, invoice.TotalAmount, invoice.DueDate, invoice.Status,
		).Scan(&invoice.ID, &invoice.CreatedAt, &invoice.UpdatedAt)
		if err != nil {
			return fmt.Errorf("invoicing: insert invoice: %w", err)
		}

		orderIDs := make([]int64, 0, len(lines))
		for _, line := range lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO invoice_lines (invoice_id, order_id, quantity, unit_price, amount, created_at)
				VALUES ($1, $2, $3, $4, $5, NOW())`,
				invoice.ID, line.OrderID, line.Quantity, line.UnitPrice, line.Amount,
			); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
					return fmt.Errorf("%w: order %d already billed", shared.ErrConflict, line.OrderID)
				}
				return fmt.Errorf("invoicing: insert line: %w", err)
			}
			orderIDs = append(orderIDs, line.OrderID)
		}

		// Claim the orders. Fewer rows than lines means a concurrent run got
		// there first; roll everything back.
		claimed, err := tx.Exec(ctx, `
			UPDATE orders SET invoice_id = $1
			WHERE id = ANY($2) AND invoice_id IS NULL AND status = 'active'`,
			invoice.ID, orderIDs,
		)
		if err != nil {
			return fmt.Errorf("invoicing: claim orders: %w", err)
		}
		if claimed.RowsAffected() != int64(len(orderIDs)) {
			return fmt.Errorf("%w: orders claimed concurrently", shared.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetInvoiceDetail returns an invoice with lines and derived balance.
func (r *Repository) GetInvoiceDetail(ctx context.Context, id int64) (*InvoiceDetail, error) {
	var detail InvoiceDetail
	var departmentID, personID pgtype.Int8
	var cancelledAt pgtype.Timestamptz
	var cancelReason pgtype.Text

	err := r.pool.QueryRow(ctx, `
		SELECT id, number, invoice_type, COALESCE(company_id, 0), department_id, person_id,
			period_start, period_end, total_amount, due_date, status,
			cancelled_at, cancel_reason, created_at, updated_at
		FROM invoices WHERE id = $1`, id,
	).Scan(
		&detail.ID, &detail.Number, &detail.Type, &detail.CompanyID, &departmentID, &personID,
		&detail.PeriodStart, &detail.PeriodEnd, &detail.TotalAmount, &detail.DueDate, &detail.Status,
		&cancelledAt, &cancelReason, &detail.CreatedAt, &detail.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("invoicing: get invoice: %w", err)
	}
	detail.DepartmentID = departmentID.Int64
	detail.PersonID = personID.Int64
	if cancelledAt.Valid {
		detail.CancelledAt = &cancelledAt.Time
	}
	detail.CancelReason = cancelReason.String

	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, order_id, quantity, unit_price, amount, created_at
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("invoicing: list lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line billing.InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.OrderID, &line.Quantity, &line.UnitPrice, &line.Amount, &line.CreatedAt); err != nil {
			return nil, fmt.Errorf("invoicing: scan line: %w", err)
		}
		detail.Lines = append(detail.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE invoice_id = $1 AND cancelled_at IS NULL`, id,
	).Scan(&detail.PaidAmount)
	if err != nil {
		return nil, fmt.Errorf("invoicing: sum payments: %w", err)
	}
	detail.Outstanding = detail.TotalAmount.Sub(detail.PaidAmount)

	return &detail, nil
}

// CancelInvoice marks the invoice cancelled and releases its claimed orders.
// Rejected while any live payment exists.
func (r *Repository) CancelInvoice(ctx context.Context, id int64, reason string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status billing.InvoiceStatus
		err := tx.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: invoice %d", shared.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("invoicing: lock invoice: %w", err)
		}
		if status == billing.StatusCancelled {
			return fmt.Errorf("%w: invoice %d already cancelled", shared.ErrInvalidState, id)
		}

		var paid decimal.Decimal
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(amount), 0) FROM payments
			WHERE invoice_id = $1 AND cancelled_at IS NULL`, id,
		).Scan(&paid); err != nil {
			return fmt.Errorf("invoicing: sum payments: %w", err)
		}
		if paid.IsPositive() {
			return fmt.Errorf("%w: invoice %d has live payments", shared.ErrInvalidState, id)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE invoices
			SET status = 'cancelled', cancelled_at = NOW(), cancel_reason = $2, updated_at = NOW()
			WHERE id = $1`, id, reason,
		); err != nil {
			return fmt.Errorf("invoicing: cancel invoice: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE orders SET invoice_id = NULL WHERE invoice_id = $1`, id); err != nil {
			return fmt.Errorf("invoicing: release orders: %w", err)
		}
		return nil
	})
}
