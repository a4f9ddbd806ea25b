// Package invoicing turns delivered orders into invoices: one invoice per
// billing target over a billing period.
package invoicing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/orders"
)

// GenerateInput describes one invoice generation batch.
type GenerateInput struct {
	Type        billing.InvoiceType
	PeriodStart time.Time
	PeriodEnd   time.Time
	DueDate     time.Time
	TargetIDs   []int64
}

// InvoiceSummary is the per-invoice slice of a batch result.
type InvoiceSummary struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	TargetID    int64           `json:"target_id"`
	TargetName  string          `json:"target_name"`
	LineCount   int             `json:"line_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// TargetError reports a non-fatal per-target failure.
type TargetError struct {
	TargetID int64  `json:"target_id"`
	Error    string `json:"error"`
}

// BatchResult is the outcome of a generation batch. Per-target failures never
// abort the batch.
type BatchResult struct {
	Invoices       []InvoiceSummary `json:"invoices"`
	SkippedTargets int              `json:"skipped_targets"`
	Errors         []TargetError    `json:"errors"`
}

// Target is a resolved billing target with its company billing configuration.
type Target struct {
	ID             int64
	Name           string
	CompanyID      int64
	DepartmentID   int64
	PersonID       int64
	SubsidyRate    *decimal.Decimal
	BillingAddress string
}

// Configured reports whether the sponsoring company carries the billing
// configuration invoice generation needs.
func (t Target) Configured() bool {
	return t.SubsidyRate != nil && t.BillingAddress != ""
}

// InvoiceDetail is an invoice with its lines and derived balance.
type InvoiceDetail struct {
	billing.Invoice
	Lines       []billing.InvoiceLine
	PaidAmount  decimal.Decimal
	Outstanding decimal.Decimal
}

// lineAmount picks the order amount billed for the given invoice type:
// corporate targets settle the pre-subsidy gross, individuals settle the
// co-pay.
func lineAmount(invoiceType billing.InvoiceType, order orders.Order) decimal.Decimal {
	if invoiceType == billing.TypeIndividual {
		return order.PayableAmount
	}
	return order.TotalAmount
}
