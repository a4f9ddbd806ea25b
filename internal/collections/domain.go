// Package collections derives collection urgency over unpaid invoices. It is
// a pure read-side view: nothing here mutates the ledger, and alert levels
// are computed at read time, never stored.
package collections

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
)

// AlertLevel classifies how urgently an invoice needs chasing.
type AlertLevel string

const (
	AlertOverdue AlertLevel = "overdue"
	AlertUrgent  AlertLevel = "urgent"
	AlertNormal  AlertLevel = "normal"
)

// urgentWindowDays is the "due soon" window: an invoice due within this many
// days (including today) is urgent.
const urgentWindowDays = 3

// Classify derives the alert level for a due date. Overdue requires being
// strictly past due; an invoice due today is urgent, not overdue.
func Classify(dueDate, today time.Time) (AlertLevel, int) {
	overdueDays := daysBetween(dueDate, today)
	switch {
	case overdueDays > 0:
		return AlertOverdue, overdueDays
	case -overdueDays <= urgentWindowDays:
		return AlertUrgent, overdueDays
	default:
		return AlertNormal, overdueDays
	}
}

// daysBetween returns whole days from a to b, truncating both to dates.
func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// SortKey orders a collection worklist.
type SortKey string

const (
	// SortPriority lists overdue first, then urgent, then normal; within a
	// tier ascending due date, then descending outstanding amount.
	SortPriority    SortKey = "priority"
	SortAmountDesc  SortKey = "amount_desc"
	SortDueDate     SortKey = "due_date"
	SortCompanyName SortKey = "company_name"
)

// DueBucket filters by a coarse due-date window relative to today.
type DueBucket string

const (
	BucketAll      DueBucket = ""
	BucketToday    DueBucket = "today"
	BucketThisWeek DueBucket = "this_week"
	BucketOverdue  DueBucket = "overdue"
)

// Query filters and orders the collection worklist.
type Query struct {
	CompanyName string
	AlertLevel  AlertLevel
	AmountMin   *decimal.Decimal
	AmountMax   *decimal.Decimal
	DueBucket   DueBucket
	Sort        SortKey
	Page        int
	Limit       int
}

// OutstandingInvoice is one unpaid or partially-paid invoice as read from the
// balance view.
type OutstandingInvoice struct {
	InvoiceID   int64
	Number      string
	Type        billing.InvoiceType
	CompanyID   int64
	CompanyName string
	TotalAmount decimal.Decimal
	PaidAmount  decimal.Decimal
	Outstanding decimal.Decimal
	DueDate     time.Time
	Status      billing.InvoiceStatus
}

// Item is one worklist entry with its derived urgency.
type Item struct {
	OutstandingInvoice
	AlertLevel  AlertLevel
	OverdueDays int
}

// Summary aggregates the filtered collection set.
type Summary struct {
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	OverdueCount     int             `json:"overdue_count"`
	UrgentCount      int             `json:"urgent_count"`
	NormalCount      int             `json:"normal_count"`
	DueTodayCount    int             `json:"due_today_count"`
	DueSoonCount     int             `json:"due_soon_count"`
	DueSoonDays      int             `json:"due_soon_days"`
}
