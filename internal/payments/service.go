package payments

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/shared"
)

// RepositoryPort defines data access methods for payment recording. Both
// mutating methods run their read-recompute-write sequence under a row-level
// lock on the owning invoice.
type RepositoryPort interface {
	SettleInFull(ctx context.Context, input RecordInput) (*PaymentResult, error)
	CancelPayment(ctx context.Context, paymentID int64, reason string) (*CancelResult, error)
}

// Service implements the payment recorder.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// RecordFullPayment settles an invoice's entire outstanding balance with one
// payment. Racing settlements of the same invoice resolve to exactly one
// payment row; the loser observes InvalidState.
func (s *Service) RecordFullPayment(ctx context.Context, input RecordInput) (*PaymentResult, error) {
	if err := validateRecordInput(input); err != nil {
		return nil, err
	}
	return s.repo.SettleInFull(ctx, input)
}

// RecordBulkFullPayments settles up to BulkMaxInvoices invoices. Each invoice
// is its own transaction; per-item failures are collected, never fatal to the
// batch.
func (s *Service) RecordBulkFullPayments(ctx context.Context, input BulkInput) (*BulkResult, error) {
	if len(input.InvoiceIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one invoice required", shared.ErrValidation)
	}
	if len(input.InvoiceIDs) > BulkMaxInvoices {
		return nil, fmt.Errorf("%w: batch exceeds %d invoices", shared.ErrValidation, BulkMaxInvoices)
	}
	if err := validateRecordInput(RecordInput{
		InvoiceID:   input.InvoiceIDs[0],
		Method:      input.Method,
		PaymentDate: input.PaymentDate,
	}); err != nil {
		return nil, err
	}

	result := &BulkResult{TotalAmount: decimal.Zero}
	for _, invoiceID := range input.InvoiceIDs {
		settled, err := s.repo.SettleInFull(ctx, RecordInput{
			InvoiceID:   invoiceID,
			Method:      input.Method,
			PaymentDate: input.PaymentDate,
			Reference:   input.Reference,
			Note:        input.Note,
		})
		if err != nil {
			result.FailedCount++
			result.Failures = append(result.Failures, BulkFailure{InvoiceID: invoiceID, Error: err.Error()})
			continue
		}
		result.SuccessCount++
		result.TotalAmount = result.TotalAmount.Add(settled.Payment.Amount)
	}
	return result, nil
}

// CancelPayment reverses a payment. The payment row is retained for audit;
// the invoice status is recomputed from the remaining live payments and any
// receipt bound to the payment is marked superseded.
func (s *Service) CancelPayment(ctx context.Context, paymentID int64, reason string) (*CancelResult, error) {
	if paymentID <= 0 {
		return nil, fmt.Errorf("%w: payment id required", shared.ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason required", shared.ErrValidation)
	}
	return s.repo.CancelPayment(ctx, paymentID, reason)
}

func validateRecordInput(input RecordInput) error {
	if input.InvoiceID <= 0 {
		return fmt.Errorf("%w: invoice id required", shared.ErrValidation)
	}
	if _, err := billing.ParsePaymentMethod(string(input.Method)); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if input.PaymentDate.IsZero() {
		return fmt.Errorf("%w: payment date required", shared.ErrValidation)
	}
	return nil
}
