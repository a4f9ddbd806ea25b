package collections

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the invoice_balances view.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListOutstanding returns issued and partially-paid invoices with their
// derived balances. The view counts non-cancelled payments only.
func (r *Repository) ListOutstanding(ctx context.Context, filter BalanceFilter) ([]OutstandingInvoice, error) {
	query := `
		SELECT b.id, b.number, b.invoice_type, COALESCE(b.company_id, 0), COALESCE(c.name, ''),
			b.total_amount, b.paid_amount, b.outstanding_amount, b.due_date, b.status
		FROM invoice_balances b
		LEFT JOIN companies c ON c.id = b.company_id
		WHERE b.status IN ('issued', 'partial')`

	args := []any{}
	argNum := 1

	if filter.CompanyName != "" {
		query += fmt.Sprintf(" AND c.name ILIKE $%d", argNum)
		args = append(args, "%"+filter.CompanyName+"%")
		argNum++
	}
	if filter.AmountMin != nil {
		query += fmt.Sprintf(" AND b.outstanding_amount >= $%d", argNum)
		args = append(args, *filter.AmountMin)
		argNum++
	}
	if filter.AmountMax != nil {
		query += fmt.Sprintf(" AND b.outstanding_amount <= $%d", argNum)
		args = append(args, *filter.AmountMax)
		argNum++
	}

	query += " ORDER BY b.due_date, b.id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collections: list outstanding: %w", err)
	}
	defer rows.Close()

	var result []OutstandingInvoice
	for rows.Next() {
		var inv OutstandingInvoice
		if err := rows.Scan(
			&inv.InvoiceID, &inv.Number, &inv.Type, &inv.CompanyID, &inv.CompanyName,
			&inv.TotalAmount, &inv.PaidAmount, &inv.Outstanding, &inv.DueDate, &inv.Status,
		); err != nil {
			return nil, fmt.Errorf("collections: scan: %w", err)
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}
