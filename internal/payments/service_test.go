package payments

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/shared"
)

type memoryInvoice struct {
	total  decimal.Decimal
	status billing.InvoiceStatus
}

type memoryPaymentsRepo struct {
	mu            sync.Mutex
	invoices      map[int64]*memoryInvoice
	payments      map[int64]*billing.Payment
	boundReceipts map[int64]int64 // payment id → receipt id
	voided        []int64
	nextID        int64
}

func newMemoryPaymentsRepo() *memoryPaymentsRepo {
	return &memoryPaymentsRepo{
		invoices:      make(map[int64]*memoryInvoice),
		payments:      make(map[int64]*billing.Payment),
		boundReceipts: make(map[int64]int64),
	}
}

func (r *memoryPaymentsRepo) paidAmount(invoiceID int64) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID && !p.Cancelled() {
			paid = paid.Add(p.Amount)
		}
	}
	return paid
}

func (r *memoryPaymentsRepo) SettleInFull(ctx context.Context, input RecordInput) (*PaymentResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[input.InvoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, input.InvoiceID)
	}
	if inv.status == billing.StatusCancelled {
		return nil, fmt.Errorf("%w: invoice %d is cancelled", shared.ErrInvalidState, input.InvoiceID)
	}
	paid := r.paidAmount(input.InvoiceID)
	outstanding := inv.total.Sub(paid)
	if !outstanding.IsPositive() {
		return nil, fmt.Errorf("%w: invoice %d has no outstanding balance", shared.ErrInvalidState, input.InvoiceID)
	}
	r.nextID++
	payment := billing.Payment{
		ID:          r.nextID,
		InvoiceID:   input.InvoiceID,
		Amount:      outstanding,
		Method:      input.Method,
		PaymentDate: input.PaymentDate,
		Reference:   input.Reference,
		Note:        input.Note,
	}
	r.payments[payment.ID] = &payment
	inv.status = billing.DeriveStatus(inv.total, paid.Add(outstanding))
	return &PaymentResult{Payment: payment, InvoiceStatus: inv.status}, nil
}

func (r *memoryPaymentsRepo) CancelPayment(ctx context.Context, paymentID int64, reason string) (*CancelResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}
	if payment.Cancelled() {
		return nil, fmt.Errorf("%w: payment %d already cancelled", shared.ErrInvalidState, paymentID)
	}
	now := time.Now()
	payment.CancelledAt = &now
	payment.CancelReason = reason

	inv := r.invoices[payment.InvoiceID]
	paid := r.paidAmount(payment.InvoiceID)
	inv.status = billing.DeriveStatus(inv.total, paid)

	result := &CancelResult{InvoiceStatus: inv.status, RemainingBalance: inv.total.Sub(paid)}
	if receiptID, bound := r.boundReceipts[paymentID]; bound {
		r.voided = append(r.voided, receiptID)
		result.VoidedReceiptID = &receiptID
	}
	return result, nil
}

func yen(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func seedInvoice(repo *memoryPaymentsRepo, id int64, total int64) {
	repo.invoices[id] = &memoryInvoice{total: yen(total), status: billing.StatusIssued}
}

func paymentDate() time.Time {
	return time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
}

func TestRecordFullPaymentSettlesInvoice(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 4500)
	svc := NewService(repo)

	result, err := svc.RecordFullPayment(context.Background(), RecordInput{
		InvoiceID:   1,
		Method:      billing.MethodBankTransfer,
		PaymentDate: paymentDate(),
	})
	require.NoError(t, err)
	require.True(t, result.Payment.Amount.Equal(yen(4500)))
	require.Equal(t, billing.StatusPaid, result.InvoiceStatus)
	require.Len(t, repo.payments, 1)

	// Paying again is rejected: no outstanding balance remains.
	_, err = svc.RecordFullPayment(context.Background(), RecordInput{
		InvoiceID:   1,
		Method:      billing.MethodCash,
		PaymentDate: paymentDate(),
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Len(t, repo.payments, 1)
}

func TestRecordFullPaymentValidation(t *testing.T) {
	svc := NewService(newMemoryPaymentsRepo())

	_, err := svc.RecordFullPayment(context.Background(), RecordInput{
		InvoiceID:   1,
		Method:      "barter",
		PaymentDate: paymentDate(),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordFullPayment(context.Background(), RecordInput{
		InvoiceID: 1,
		Method:    billing.MethodCash,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordFullPayment(context.Background(), RecordInput{
		InvoiceID:   42,
		Method:      billing.MethodCash,
		PaymentDate: paymentDate(),
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConcurrentFullPaymentsSettleOnce(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 4500)
	svc := NewService(repo)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordFullPayment(context.Background(), RecordInput{
				InvoiceID:   1,
				Method:      billing.MethodBankTransfer,
				PaymentDate: paymentDate(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, shared.ErrInvalidState)
			losses++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, losses)
	require.Len(t, repo.payments, 1)
}

func TestBulkFullPaymentsPartialFailure(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 1000)
	seedInvoice(repo, 2, 2000)
	seedInvoice(repo, 3, 3000)
	// Invoice 2 is already fully paid.
	_, err := repo.SettleInFull(context.Background(), RecordInput{InvoiceID: 2, Method: billing.MethodCash, PaymentDate: paymentDate()})
	require.NoError(t, err)

	svc := NewService(repo)
	result, err := svc.RecordBulkFullPayments(context.Background(), BulkInput{
		InvoiceIDs:  []int64{1, 2, 3},
		Method:      billing.MethodDirectDebit,
		PaymentDate: paymentDate(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.SuccessCount)
	require.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Failures, 1)
	require.Equal(t, int64(2), result.Failures[0].InvoiceID)
	require.True(t, result.TotalAmount.Equal(yen(4000)))
	require.Equal(t, billing.StatusPaid, repo.invoices[1].status)
	require.Equal(t, billing.StatusPaid, repo.invoices[3].status)
}

func TestBulkFullPaymentsBoundaries(t *testing.T) {
	svc := NewService(newMemoryPaymentsRepo())

	_, err := svc.RecordBulkFullPayments(context.Background(), BulkInput{
		Method:      billing.MethodCash,
		PaymentDate: paymentDate(),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	ids := make([]int64, BulkMaxInvoices+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	_, err = svc.RecordBulkFullPayments(context.Background(), BulkInput{
		InvoiceIDs:  ids,
		Method:      billing.MethodCash,
		PaymentDate: paymentDate(),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelPaymentRevertsStatusAndVoidsReceipt(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 4500)
	svc := NewService(repo)

	settled, err := svc.RecordFullPayment(context.Background(), RecordInput{
		InvoiceID:   1,
		Method:      billing.MethodBankTransfer,
		PaymentDate: paymentDate(),
	})
	require.NoError(t, err)
	repo.boundReceipts[settled.Payment.ID] = 77

	result, err := svc.CancelPayment(context.Background(), settled.Payment.ID, "duplicate entry")
	require.NoError(t, err)
	require.Equal(t, billing.StatusIssued, result.InvoiceStatus)
	require.True(t, result.RemainingBalance.Equal(yen(4500)))
	require.NotNil(t, result.VoidedReceiptID)
	require.Equal(t, int64(77), *result.VoidedReceiptID)

	// The payment row is retained for audit.
	require.Len(t, repo.payments, 1)
	require.True(t, repo.payments[settled.Payment.ID].Cancelled())

	_, err = svc.CancelPayment(context.Background(), settled.Payment.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelPaymentRequiresReason(t *testing.T) {
	svc := NewService(newMemoryPaymentsRepo())
	_, err := svc.CancelPayment(context.Background(), 1, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelPaymentRevertsPaidToPartial(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 4500)
	svc := NewService(repo)

	// First a manual partial payment, then a full settlement of the rest.
	repo.nextID++
	partial := billing.Payment{ID: repo.nextID, InvoiceID: 1, Amount: yen(1500), Method: billing.MethodCash, PaymentDate: paymentDate()}
	repo.payments[partial.ID] = &partial
	repo.invoices[1].status = billing.StatusPartial

	settled, err := svc.RecordFullPayment(context.Background(), RecordInput{
		InvoiceID:   1,
		Method:      billing.MethodBankTransfer,
		PaymentDate: paymentDate(),
	})
	require.NoError(t, err)
	require.True(t, settled.Payment.Amount.Equal(yen(3000)))
	require.Equal(t, billing.StatusPaid, settled.InvoiceStatus)

	result, err := svc.CancelPayment(context.Background(), settled.Payment.ID, "wrong account")
	require.NoError(t, err)
	require.Equal(t, billing.StatusPartial, result.InvoiceStatus)
	require.True(t, result.RemainingBalance.Equal(yen(3000)))
}
