package invoicing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/orders"
	"github.com/bentoya/bentoya/internal/shared"
)

type memoryInvoicingRepo struct {
	mu       sync.Mutex
	targets  map[string]*Target
	orders   map[int64]*orders.Order
	invoices map[int64]*billing.Invoice
	lines    map[int64][]billing.InvoiceLine
	paid     map[int64]decimal.Decimal
	nextID   int64
	nextSeq  int
}

func newMemoryInvoicingRepo() *memoryInvoicingRepo {
	return &memoryInvoicingRepo{
		targets:  make(map[string]*Target),
		orders:   make(map[int64]*orders.Order),
		invoices: make(map[int64]*billing.Invoice),
		lines:    make(map[int64][]billing.InvoiceLine),
		paid:     make(map[int64]decimal.Decimal),
	}
}

func targetKey(t billing.InvoiceType, id int64) string {
	return fmt.Sprintf("%s/%d", t, id)
}

func (r *memoryInvoicingRepo) ResolveTarget(ctx context.Context, invoiceType billing.InvoiceType, targetID int64) (*Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.targets[targetKey(invoiceType, targetID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s target %d", shared.ErrNotFound, invoiceType, targetID)
	}
	return target, nil
}

func (r *memoryInvoicingRepo) ListEligibleOrders(ctx context.Context, invoiceType billing.InvoiceType, targetID int64, periodStart, periodEnd time.Time) ([]orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []orders.Order
	for _, o := range r.orders {
		if o.Status != orders.OrderActive || o.InvoiceID != nil {
			continue
		}
		switch invoiceType {
		case billing.TypeCompanyBulk:
			if o.CompanyID != targetID {
				continue
			}
		case billing.TypeDepartment:
			if o.DepartmentID != targetID {
				continue
			}
		case billing.TypeIndividual:
			if o.PersonID != targetID {
				continue
			}
		}
		if o.DeliveryDate.Before(periodStart) || o.DeliveryDate.After(periodEnd) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryInvoicingRepo) CreateInvoiceWithLines(ctx context.Context, invoice billing.Invoice, lines []billing.InvoiceLine) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range lines {
		o, ok := r.orders[line.OrderID]
		if !ok || o.InvoiceID != nil {
			return nil, fmt.Errorf("%w: orders claimed concurrently", shared.ErrConflict)
		}
	}
	r.nextID++
	r.nextSeq++
	invoice.ID = r.nextID
	invoice.Number = fmt.Sprintf("INV-202601-%06d", r.nextSeq)
	invoice.CreatedAt = time.Now()
	invoice.UpdatedAt = invoice.CreatedAt
	for i := range lines {
		lines[i].InvoiceID = invoice.ID
		r.orders[lines[i].OrderID].InvoiceID = &invoice.ID
	}
	r.invoices[invoice.ID] = &invoice
	r.lines[invoice.ID] = lines
	return &invoice, nil
}

func (r *memoryInvoicingRepo) GetInvoiceDetail(ctx context.Context, id int64) (*InvoiceDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, id)
	}
	paid := r.paid[id]
	return &InvoiceDetail{
		Invoice:     *inv,
		Lines:       r.lines[id],
		PaidAmount:  paid,
		Outstanding: inv.TotalAmount.Sub(paid),
	}, nil
}

func (r *memoryInvoicingRepo) CancelInvoice(ctx context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return fmt.Errorf("%w: invoice %d", shared.ErrNotFound, id)
	}
	if inv.Status == billing.StatusCancelled {
		return fmt.Errorf("%w: invoice %d already cancelled", shared.ErrInvalidState, id)
	}
	if r.paid[id].IsPositive() {
		return fmt.Errorf("%w: invoice %d has live payments", shared.ErrInvalidState, id)
	}
	inv.Status = billing.StatusCancelled
	inv.CancelReason = reason
	for _, o := range r.orders {
		if o.InvoiceID != nil && *o.InvoiceID == id {
			o.InvoiceID = nil
		}
	}
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func yen(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func subsidyRate(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func seedCompanyTarget(repo *memoryInvoicingRepo, companyID int64) {
	repo.targets[targetKey(billing.TypeCompanyBulk, companyID)] = &Target{
		ID: companyID, Name: "Sakura Foods", CompanyID: companyID,
		SubsidyRate: subsidyRate(300), BillingAddress: "Chiyoda-ku",
	}
}

func seedOrder(repo *memoryInvoicingRepo, id, companyID, personID int64, total, payable int64, delivered time.Time) {
	repo.orders[id] = &orders.Order{
		ID: id, CompanyID: companyID, PersonID: personID,
		ProductName: "Bento", Quantity: 1,
		UnitPrice:   yen(total),
		TotalAmount: yen(total), SubsidyAmount: yen(total - payable), PayableAmount: yen(payable),
		DeliveryDate: delivered, Status: orders.OrderActive,
	}
}

func TestGenerateCompanyBulkBillsGrossAmount(t *testing.T) {
	repo := newMemoryInvoicingRepo()
	seedCompanyTarget(repo, 1)
	// 3 orders totaling 4500 with a 300 subsidy each.
	seedOrder(repo, 1, 1, 10, 1500, 1200, date(2025, 12, 3))
	seedOrder(repo, 2, 1, 11, 1500, 1200, date(2025, 12, 10))
	seedOrder(repo, 3, 1, 12, 1500, 1200, date(2025, 12, 24))
	svc := NewService(repo)

	result, err := svc.GenerateInvoices(context.Background(), GenerateInput{
		Type:        billing.TypeCompanyBulk,
		PeriodStart: date(2025, 12, 1),
		PeriodEnd:   date(2025, 12, 31),
		DueDate:     date(2026, 1, 31),
		TargetIDs:   []int64{1},
	})
	require.NoError(t, err)
	require.Len(t, result.Invoices, 1)
	require.Empty(t, result.Errors)
	require.Zero(t, result.SkippedTargets)

	inv := result.Invoices[0]
	require.Equal(t, 3, inv.LineCount)
	// Company-bulk bills the pre-subsidy full amount.
	require.True(t, inv.TotalAmount.Equal(yen(4500)), "got %s", inv.TotalAmount)

	detail, err := svc.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, detail.Lines, 3)
	sum := decimal.Zero
	for _, line := range detail.Lines {
		sum = sum.Add(line.Amount)
	}
	require.True(t, detail.TotalAmount.Equal(sum))
	require.Equal(t, billing.StatusIssued, detail.Status)
}

func TestGenerateIndividualBillsCopay(t *testing.T) {
	repo := newMemoryInvoicingRepo()
	repo.targets[targetKey(billing.TypeIndividual, 10)] = &Target{
		ID: 10, Name: "Tanaka", CompanyID: 1, PersonID: 10,
		SubsidyRate: subsidyRate(300), BillingAddress: "Chiyoda-ku",
	}
	seedOrder(repo, 1, 1, 10, 1500, 1200, date(2025, 12, 3))
	svc := NewService(repo)

	result, err := svc.GenerateInvoices(context.Background(), GenerateInput{
		Type:        billing.TypeIndividual,
		PeriodStart: date(2025, 12, 1),
		PeriodEnd:   date(2025, 12, 31),
		DueDate:     date(2026, 1, 31),
		TargetIDs:   []int64{10},
	})
	require.NoError(t, err)
	require.Len(t, result.Invoices, 1)
	require.True(t, result.Invoices[0].TotalAmount.Equal(yen(1200)))
}

func TestGenerateSkipsEmptyTargetsAndCollectsErrors(t *testing.T) {
	repo := newMemoryInvoicingRepo()
	seedCompanyTarget(repo, 1)
	seedCompanyTarget(repo, 2) // configured but no orders
	// Company 3 has no billing configuration.
	repo.targets[targetKey(billing.TypeCompanyBulk, 3)] = &Target{ID: 3, Name: "Unconfigured KK", CompanyID: 3}
	seedOrder(repo, 1, 1, 10, 1500, 1200, date(2025, 12, 3))
	svc := NewService(repo)

	result, err := svc.GenerateInvoices(context.Background(), GenerateInput{
		Type:        billing.TypeCompanyBulk,
		PeriodStart: date(2025, 12, 1),
		PeriodEnd:   date(2025, 12, 31),
		DueDate:     date(2026, 1, 31),
		TargetIDs:   []int64{1, 2, 3, 4},
	})
	require.NoError(t, err)
	require.Len(t, result.Invoices, 1)
	require.Equal(t, 1, result.SkippedTargets)
	require.Len(t, result.Errors, 2) // missing config + unknown target

	errTargets := map[int64]bool{}
	for _, te := range result.Errors {
		errTargets[te.TargetID] = true
	}
	require.True(t, errTargets[3])
	require.True(t, errTargets[4])
}

func TestGenerateInvalidPeriodIsFatal(t *testing.T) {
	svc := NewService(newMemoryInvoicingRepo())
	_, err := svc.GenerateInvoices(context.Background(), GenerateInput{
		Type:        billing.TypeCompanyBulk,
		PeriodStart: date(2025, 12, 31),
		PeriodEnd:   date(2025, 12, 1),
		DueDate:     date(2026, 1, 31),
		TargetIDs:   []int64{1},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGenerateNeverBillsOrderTwice(t *testing.T) {
	repo := newMemoryInvoicingRepo()
	seedCompanyTarget(repo, 1)
	seedOrder(repo, 1, 1, 10, 1500, 1200, date(2025, 12, 3))
	svc := NewService(repo)

	input := GenerateInput{
		Type:        billing.TypeCompanyBulk,
		PeriodStart: date(2025, 12, 1),
		PeriodEnd:   date(2025, 12, 31),
		DueDate:     date(2026, 1, 31),
		TargetIDs:   []int64{1},
	}

	first, err := svc.GenerateInvoices(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, first.Invoices, 1)

	// The order is claimed now; a second run finds nothing to bill.
	second, err := svc.GenerateInvoices(context.Background(), input)
	require.NoError(t, err)
	require.Empty(t, second.Invoices)
	require.Equal(t, 1, second.SkippedTargets)
}

func TestCancelInvoiceReleasesOrders(t *testing.T) {
	repo := newMemoryInvoicingRepo()
	seedCompanyTarget(repo, 1)
	seedOrder(repo, 1, 1, 10, 1500, 1200, date(2025, 12, 3))
	svc := NewService(repo)

	result, err := svc.GenerateInvoices(context.Background(), GenerateInput{
		Type:        billing.TypeCompanyBulk,
		PeriodStart: date(2025, 12, 1),
		PeriodEnd:   date(2025, 12, 31),
		DueDate:     date(2026, 1, 31),
		TargetIDs:   []int64{1},
	})
	require.NoError(t, err)
	invoiceID := result.Invoices[0].ID

	// A live payment blocks cancellation.
	repo.paid[invoiceID] = yen(1000)
	err = svc.CancelInvoice(context.Background(), invoiceID, "wrong period")
	require.ErrorIs(t, err, shared.ErrInvalidState)

	repo.paid[invoiceID] = decimal.Zero
	require.NoError(t, svc.CancelInvoice(context.Background(), invoiceID, "wrong period"))
	require.Nil(t, repo.orders[1].InvoiceID)

	err = svc.CancelInvoice(context.Background(), invoiceID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelInvoiceRequiresReason(t *testing.T) {
	svc := NewService(newMemoryInvoicingRepo())
	err := svc.CancelInvoice(context.Background(), 1, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}
