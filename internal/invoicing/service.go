package invoicing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/orders"
	"github.com/bentoya/bentoya/internal/shared"
)

// targetConcurrency bounds how many per-target transactions run at once.
const targetConcurrency = 4

// RepositoryPort defines data access methods for invoice generation.
type RepositoryPort interface {
	ResolveTarget(ctx context.Context, invoiceType billing.InvoiceType, targetID int64) (*Target, error)
	ListEligibleOrders(ctx context.Context, invoiceType billing.InvoiceType, targetID int64, periodStart, periodEnd time.Time) ([]orders.Order, error)
	CreateInvoiceWithLines(ctx context.Context, invoice billing.Invoice, lines []billing.InvoiceLine) (*billing.Invoice, error)
	GetInvoiceDetail(ctx context.Context, id int64) (*InvoiceDetail, error)
	CancelInvoice(ctx context.Context, id int64, reason string) error
}

// Service implements the invoice generator.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GenerateInvoices creates one invoice per billing target covering the given
// period. Each target runs in its own transaction; one target's failure never
// aborts the others. An invalid period fails the whole call before any write.
func (s *Service) GenerateInvoices(ctx context.Context, input GenerateInput) (*BatchResult, error) {
	if _, err := billing.ParseInvoiceType(string(input.Type)); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if input.PeriodStart.IsZero() || input.PeriodEnd.IsZero() {
		return nil, fmt.Errorf("%w: billing period required", shared.ErrValidation)
	}
	if input.PeriodStart.After(input.PeriodEnd) {
		return nil, fmt.Errorf("%w: period start after end", shared.ErrValidation)
	}
	if input.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: due date required", shared.ErrValidation)
	}
	if len(input.TargetIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one target required", shared.ErrValidation)
	}

	targets := dedupe(input.TargetIDs)

	var (
		mu     sync.Mutex
		result BatchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(targetConcurrency)
	for _, targetID := range targets {
		g.Go(func() error {
			summary, skipped, err := s.generateOne(gctx, input, targetID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors = append(result.Errors, TargetError{TargetID: targetID, Error: err.Error()})
			case skipped:
				result.SkippedTargets++
			default:
				result.Invoices = append(result.Invoices, *summary)
			}
			return nil
		})
	}
	_ = g.Wait()

	return &result, nil
}

// generateOne processes a single billing target. The invoice, its lines and
// the order claims commit in one transaction inside the repository.
func (s *Service) generateOne(ctx context.Context, input GenerateInput, targetID int64) (*InvoiceSummary, bool, error) {
	target, err := s.repo.ResolveTarget(ctx, input.Type, targetID)
	if err != nil {
		return nil, false, err
	}
	if !target.Configured() {
		return nil, false, fmt.Errorf("%w: target %d missing billing configuration", shared.ErrInvalidState, targetID)
	}

	eligible, err := s.repo.ListEligibleOrders(ctx, input.Type, targetID, input.PeriodStart, input.PeriodEnd)
	if err != nil {
		return nil, false, err
	}
	if len(eligible) == 0 {
		return nil, true, nil
	}

	total := decimal.Zero
	lines := make([]billing.InvoiceLine, 0, len(eligible))
	for _, order := range eligible {
		amount := lineAmount(input.Type, order)
		lines = append(lines, billing.InvoiceLine{
			OrderID:   order.ID,
			Quantity:  order.Quantity,
			UnitPrice: order.UnitPrice,
			Amount:    amount,
		})
		total = total.Add(amount)
	}

	invoice := billing.Invoice{
		Type:        input.Type,
		CompanyID:   target.CompanyID,
		PeriodStart: input.PeriodStart,
		PeriodEnd:   input.PeriodEnd,
		TotalAmount: total,
		DueDate:     input.DueDate,
		Status:      billing.StatusIssued,
	}
	switch input.Type {
	case billing.TypeDepartment:
		invoice.DepartmentID = target.DepartmentID
	case billing.TypeIndividual:
		invoice.PersonID = target.PersonID
	}

	created, err := s.repo.CreateInvoiceWithLines(ctx, invoice, lines)
	if err != nil {
		return nil, false, err
	}

	return &InvoiceSummary{
		ID:          created.ID,
		Number:      created.Number,
		TargetID:    targetID,
		TargetName:  target.Name,
		LineCount:   len(lines),
		TotalAmount: created.TotalAmount,
	}, false, nil
}

// GetInvoice returns an invoice with lines and derived balance.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*InvoiceDetail, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: invoice id required", shared.ErrValidation)
	}
	return s.repo.GetInvoiceDetail(ctx, id)
}

// CancelInvoice marks an invoice cancelled and releases its claimed orders.
// Cancellation is rejected while any non-cancelled payment exists; callers
// must cancel those payments first.
func (s *Service) CancelInvoice(ctx context.Context, id int64, reason string) error {
	if id <= 0 {
		return fmt.Errorf("%w: invoice id required", shared.ErrValidation)
	}
	if reason == "" {
		return fmt.Errorf("%w: cancellation reason required", shared.ErrValidation)
	}
	return s.repo.CancelInvoice(ctx, id, reason)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
