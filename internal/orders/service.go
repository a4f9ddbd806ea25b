package orders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/shared"
)

// RepositoryPort defines data access methods for orders.
type RepositoryPort interface {
	CreateOrder(ctx context.Context, order Order) (*Order, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	CancelOrder(ctx context.Context, id int64) error
	ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, error)
	GetCompanyBilling(ctx context.Context, companyID int64) (*CompanyBilling, error)
}

// Service handles order ledger business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateOrder records a delivered order. The subsidy/copay split is computed
// from the company's rate at delivery time and stored on the order, so later
// rate changes never alter already-delivered orders.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	if input.PersonID == 0 || input.CompanyID == 0 {
		return nil, fmt.Errorf("%w: person and company required", shared.ErrValidation)
	}
	if input.ProductName == "" {
		return nil, fmt.Errorf("%w: product name required", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if input.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
	}
	if input.DeliveryDate.IsZero() {
		return nil, fmt.Errorf("%w: delivery date required", shared.ErrValidation)
	}

	company, err := s.repo.GetCompanyBilling(ctx, input.CompanyID)
	if err != nil {
		return nil, err
	}
	rate := decimal.Zero
	if company.SubsidyRate != nil {
		rate = *company.SubsidyRate
	}

	total := input.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity)))
	subsidy, payable := billing.SplitSubsidy(rate, input.Quantity, total)

	return s.repo.CreateOrder(ctx, Order{
		PersonID:      input.PersonID,
		CompanyID:     input.CompanyID,
		DepartmentID:  input.DepartmentID,
		ProductName:   input.ProductName,
		Quantity:      input.Quantity,
		UnitPrice:     input.UnitPrice,
		TotalAmount:   total,
		SubsidyAmount: subsidy,
		PayableAmount: payable,
		DeliveryDate:  input.DeliveryDate,
		Status:        OrderActive,
	})
}

// CancelOrder flags an order cancelled. An order already claimed by a live
// invoice cannot be cancelled; the invoice must be cancelled first.
func (s *Service) CancelOrder(ctx context.Context, id int64) error {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if order.Status == OrderCancelled {
		return fmt.Errorf("%w: order %d already cancelled", shared.ErrInvalidState, id)
	}
	if order.Billed() {
		return fmt.Errorf("%w: order %d is billed into invoice %d", shared.ErrInvalidState, id, *order.InvoiceID)
	}
	return s.repo.CancelOrder(ctx, id)
}

// ListOrders returns orders matching the filter.
func (s *Service) ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, error) {
	if !req.From.IsZero() && !req.To.IsZero() && req.From.After(req.To) {
		return nil, fmt.Errorf("%w: period start after end", shared.ErrValidation)
	}
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 1000
	}
	return s.repo.ListOrders(ctx, req)
}
