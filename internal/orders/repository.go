package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/shared"
)

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateOrder inserts a new order row.
func (r *Repository) CreateOrder(ctx context.Context, order Order) (*Order, error) {
	query := `
		INSERT INTO orders (
			person_id, company_id, department_id, product_name, quantity,
			unit_price, total_amount, subsidy_amount, payable_amount,
			delivery_date, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING id, created_at`

	var departmentID pgtype.Int8
	if order.DepartmentID > 0 {
		departmentID = pgtype.Int8{Int64: order.DepartmentID, Valid: true}
	}

	err := r.pool.QueryRow(ctx, query,
		order.PersonID,
		order.CompanyID,
		departmentID,
		order.ProductName,
		order.Quantity,
		order.UnitPrice,
		order.TotalAmount,
		order.SubsidyAmount,
		order.PayableAmount,
		order.DeliveryDate,
		order.Status,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("orders: create: %w", err)
	}

	return &order, nil
}

const orderColumns = `id, person_id, company_id, department_id, product_name, quantity,
	unit_price, total_amount, subsidy_amount, payable_amount,
	delivery_date, status, invoice_id, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var departmentID, invoiceID pgtype.Int8
	err := row.Scan(
		&o.ID, &o.PersonID, &o.CompanyID, &departmentID, &o.ProductName, &o.Quantity,
		&o.UnitPrice, &o.TotalAmount, &o.SubsidyAmount, &o.PayableAmount,
		&o.DeliveryDate, &o.Status, &invoiceID, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.DepartmentID = departmentID.Int64
	if invoiceID.Valid {
		o.InvoiceID = &invoiceID.Int64
	}
	return &o, nil
}

// GetOrder retrieves an order by ID.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("orders: get: %w", err)
	}
	return order, nil
}

// CancelOrder flags an unbilled order cancelled. The invoice_id guard keeps a
// concurrent billing run from racing the cancellation.
func (r *Repository) CancelOrder(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = 'cancelled' WHERE id = $1 AND status = 'active' AND invoice_id IS NULL`, id)
	if err != nil {
		return fmt.Errorf("orders: cancel: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %d not cancellable", shared.ErrInvalidState, id)
	}
	return nil
}

// ListOrders returns orders matching the filter.
func (r *Repository) ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}
	argNum := 1

	if req.CompanyID > 0 {
		query += fmt.Sprintf(" AND company_id = $%d", argNum)
		args = append(args, req.CompanyID)
		argNum++
	}
	if req.PersonID > 0 {
		query += fmt.Sprintf(" AND person_id = $%d", argNum)
		args = append(args, req.PersonID)
		argNum++
	}
	if !req.From.IsZero() {
		query += fmt.Sprintf(" AND delivery_date >= $%d", argNum)
		args = append(args, req.From)
		argNum++
	}
	if !req.To.IsZero() {
		query += fmt.Sprintf(" AND delivery_date <= $%d", argNum)
		args = append(args, req.To)
		argNum++
	}
	if req.Unbilled {
		query += " AND invoice_id IS NULL AND status = 'active'"
	}

	query += " ORDER BY delivery_date, id"
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, req.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("orders: list: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("orders: scan: %w", err)
		}
		result = append(result, *order)
	}
	return result, rows.Err()
}

// GetCompanyBilling reads the company billing configuration.
func (r *Repository) GetCompanyBilling(ctx context.Context, companyID int64) (*CompanyBilling, error) {
	var cb CompanyBilling
	var rate pgtype.Numeric
	var address pgtype.Text
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, subsidy_rate, billing_address FROM companies WHERE id = $1`, companyID,
	).Scan(&cb.CompanyID, &cb.Name, &rate, &address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: company %d", shared.ErrNotFound, companyID)
	}
	if err != nil {
		return nil, fmt.Errorf("orders: get company billing: %w", err)
	}
	if rate.Valid {
		d := numericToDecimal(rate)
		cb.SubsidyRate = &d
	}
	cb.BillingAddress = address.String
	return &cb, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
