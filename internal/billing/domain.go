// Package billing holds the domain types shared by the invoicing, payment,
// collection and receipt modules.
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceType selects the aggregation grain for generated invoices.
type InvoiceType string

const (
	TypeCompanyBulk InvoiceType = "company_bulk"
	TypeDepartment  InvoiceType = "department"
	TypeIndividual  InvoiceType = "individual"
)

// ParseInvoiceType validates a raw invoice type string.
func ParseInvoiceType(raw string) (InvoiceType, error) {
	switch t := InvoiceType(raw); t {
	case TypeCompanyBulk, TypeDepartment, TypeIndividual:
		return t, nil
	}
	return "", fmt.Errorf("unknown invoice type %q", raw)
}

// InvoiceStatus enumerates persisted invoice states.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusIssued    InvoiceStatus = "issued"
	StatusPartial   InvoiceStatus = "partial"
	StatusPaid      InvoiceStatus = "paid"
	StatusCancelled InvoiceStatus = "cancelled"
)

// PaymentMethod enumerates how money was received.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodMobilePay    PaymentMethod = "mobile_pay"
	MethodDirectDebit  PaymentMethod = "direct_debit"
	MethodOther        PaymentMethod = "other"
)

// ParsePaymentMethod validates a raw payment method string.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch m := PaymentMethod(raw); m {
	case MethodCash, MethodBankTransfer, MethodMobilePay, MethodDirectDebit, MethodOther:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", raw)
}

// ReceiptStatus enumerates receipt states.
type ReceiptStatus string

const (
	ReceiptPreIssued  ReceiptStatus = "pre_issued"
	ReceiptIssued     ReceiptStatus = "issued"
	ReceiptSuperseded ReceiptStatus = "superseded"
)

// Invoice is a billing document for one target over one period.
type Invoice struct {
	ID           int64
	Number       string
	Type         InvoiceType
	CompanyID    int64
	DepartmentID int64
	PersonID     int64
	PeriodStart  time.Time
	PeriodEnd    time.Time
	TotalAmount  decimal.Decimal
	DueDate      time.Time
	Status       InvoiceStatus
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InvoiceLine is one order's contribution to an invoice. Immutable after
// creation.
type InvoiceLine struct {
	ID        int64
	InvoiceID int64
	OrderID   int64
	Quantity  int
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Payment records money received against exactly one invoice. A cancelled
// payment is retained for audit but excluded from balance computation.
type Payment struct {
	ID           int64
	InvoiceID    int64
	Amount       decimal.Decimal
	Method       PaymentMethod
	PaymentDate  time.Time
	Reference    string
	Note         string
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Cancelled reports whether the payment has been reversed.
func (p Payment) Cancelled() bool {
	return p.CancelledAt != nil
}

// Receipt asserts that an amount was (or will be) received. PaymentID is nil
// until the receipt is bound; once bound it is never reassigned.
type Receipt struct {
	ID            int64
	Number        string
	ExternalRef   string
	InvoiceID     int64
	PaymentID     *int64
	RecipientName string
	Amount        decimal.Decimal
	IssueDate     *time.Time
	Status        ReceiptStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeriveStatus recomputes the persisted invoice status from its balance.
// Cancelled invoices never reach this path.
func DeriveStatus(total, paid decimal.Decimal) InvoiceStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusIssued
	}
}

// SplitSubsidy divides an order total between the sponsoring company and the
// individual: subsidy = min(rate*quantity, total), payable = total - subsidy.
// A nil-equivalent (non-positive) rate yields a zero subsidy.
func SplitSubsidy(ratePerItem decimal.Decimal, quantity int, total decimal.Decimal) (subsidy, payable decimal.Decimal) {
	subsidy = decimal.Zero
	if ratePerItem.IsPositive() && quantity > 0 {
		subsidy = ratePerItem.Mul(decimal.NewFromInt(int64(quantity)))
		if subsidy.GreaterThan(total) {
			subsidy = total
		}
	}
	return subsidy, total.Sub(subsidy)
}
