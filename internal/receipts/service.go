package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/shared"
)

// RepositoryPort defines data access methods for receipts.
type RepositoryPort interface {
	CreateReceipt(ctx context.Context, receipt billing.Receipt) (*billing.Receipt, error)
	GetPayment(ctx context.Context, paymentID int64) (*billing.Payment, error)
	GetReceiptByPayment(ctx context.Context, paymentID int64) (*billing.Receipt, error)
	// FindUnboundPreReceipt returns the best unbound pre-receipt for the
	// invoice: an exact amount match when one exists, otherwise the oldest.
	FindUnboundPreReceipt(ctx context.Context, invoiceID int64, amount decimal.Decimal) (*billing.Receipt, error)
	// BindReceipt sets payment_id and issue_date. The store guards with
	// payment_id IS NULL so a raced bind fails with Conflict.
	BindReceipt(ctx context.Context, receiptID, paymentID int64, issueDate time.Time) error
	GetInvoiceRecipient(ctx context.Context, invoiceID int64) (string, error)
}

// Service implements the receipt issuer.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// IssuePreReceipt creates a receipt with no payment and no issue date, to be
// reconciled once the payment is recorded.
func (s *Service) IssuePreReceipt(ctx context.Context, input PreReceiptInput) (*billing.Receipt, error) {
	if input.RecipientName == "" {
		return nil, fmt.Errorf("%w: recipient name required", shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	return s.repo.CreateReceipt(ctx, billing.Receipt{
		InvoiceID:     input.InvoiceID,
		RecipientName: input.RecipientName,
		Amount:        input.Amount,
		Status:        billing.ReceiptPreIssued,
	})
}

// IssuePostPaymentReceipt binds the payment to an unbound pre-receipt for the
// same invoice, or creates a fresh issued receipt when none exists. Binding
// is one-way and permanent.
func (s *Service) IssuePostPaymentReceipt(ctx context.Context, paymentID int64) (*IssueResult, error) {
	if paymentID <= 0 {
		return nil, fmt.Errorf("%w: payment id required", shared.ErrValidation)
	}
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Cancelled() {
		return nil, fmt.Errorf("%w: payment %d is cancelled", shared.ErrInvalidState, paymentID)
	}

	if existing, err := s.repo.GetReceiptByPayment(ctx, paymentID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: payment %d already has receipt %s", shared.ErrConflict, paymentID, existing.Number)
	}

	pre, err := s.repo.FindUnboundPreReceipt(ctx, payment.InvoiceID, payment.Amount)
	if err != nil {
		return nil, err
	}
	if pre != nil {
		if err := s.repo.BindReceipt(ctx, pre.ID, paymentID, payment.PaymentDate); err != nil {
			return nil, err
		}
		bound := *pre
		bound.PaymentID = &paymentID
		issueDate := payment.PaymentDate
		bound.IssueDate = &issueDate
		bound.Status = billing.ReceiptIssued

		result := &IssueResult{Receipt: bound, Bound: true}
		if !pre.Amount.Equal(payment.Amount) {
			result.Warning = fmt.Sprintf(
				"receipt %s amount %s does not match payment amount %s",
				pre.Number, FormatYen(pre.Amount), FormatYen(payment.Amount),
			)
		}
		return result, nil
	}

	recipient, err := s.repo.GetInvoiceRecipient(ctx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	issueDate := payment.PaymentDate
	created, err := s.repo.CreateReceipt(ctx, billing.Receipt{
		InvoiceID:     payment.InvoiceID,
		PaymentID:     &paymentID,
		RecipientName: recipient,
		Amount:        payment.Amount,
		IssueDate:     &issueDate,
		Status:        billing.ReceiptIssued,
	})
	if err != nil {
		return nil, err
	}
	return &IssueResult{Receipt: *created}, nil
}
