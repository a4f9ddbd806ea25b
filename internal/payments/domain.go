// Package payments applies payments against invoices and keeps invoice
// status in step with the outstanding balance.
package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
)

// BulkMaxInvoices caps one bulk settlement batch to bound lock contention
// and request latency.
const BulkMaxInvoices = 50

// RecordInput describes a single full settlement. The amount is not supplied
// by the caller: a full payment always settles the current outstanding
// balance.
type RecordInput struct {
	InvoiceID   int64
	Method      billing.PaymentMethod
	PaymentDate time.Time
	Reference   string
	Note        string
}

// BulkInput describes a bulk full settlement of up to BulkMaxInvoices
// invoices sharing one method and date.
type BulkInput struct {
	InvoiceIDs  []int64
	Method      billing.PaymentMethod
	PaymentDate time.Time
	Reference   string
	Note        string
}

// PaymentResult reports the created payment and the invoice status it
// produced.
type PaymentResult struct {
	Payment       billing.Payment
	InvoiceStatus billing.InvoiceStatus
}

// BulkFailure reports one failed item of a bulk settlement.
type BulkFailure struct {
	InvoiceID int64  `json:"invoice_id"`
	Error     string `json:"error"`
}

// BulkResult is the partial-failure result shape of a bulk settlement. It is
// returned even when some items failed; failures are data, not an error.
type BulkResult struct {
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Failures     []BulkFailure   `json:"failures"`
}

// CancelResult reports the invoice status after a payment cancellation and
// the receipt voided by it, if any.
type CancelResult struct {
	InvoiceStatus    billing.InvoiceStatus
	VoidedReceiptID  *int64
	RemainingBalance decimal.Decimal
}
