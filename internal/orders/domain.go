// Package orders maintains the delivered-order ledger the billing engine
// draws from. Orders are written by the ordering and CSV-import collaborators
// in front of this service; they are never deleted, only cancelled.
package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates order states.
type OrderStatus string

const (
	OrderActive    OrderStatus = "active"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is one delivered item line. Immutable once billed into a live
// invoice.
type Order struct {
	ID            int64
	PersonID      int64
	CompanyID     int64
	DepartmentID  int64
	ProductName   string
	Quantity      int
	UnitPrice     decimal.Decimal
	TotalAmount   decimal.Decimal
	SubsidyAmount decimal.Decimal
	PayableAmount decimal.Decimal
	DeliveryDate  time.Time
	Status        OrderStatus
	InvoiceID     *int64
	CreatedAt     time.Time
}

// Billed reports whether the order is claimed by a live invoice.
func (o Order) Billed() bool {
	return o.InvoiceID != nil
}

// CreateOrderInput describes a delivered order to record.
type CreateOrderInput struct {
	PersonID     int64
	CompanyID    int64
	DepartmentID int64
	ProductName  string
	Quantity     int
	UnitPrice    decimal.Decimal
	DeliveryDate time.Time
}

// ListOrdersRequest filters the order ledger.
type ListOrdersRequest struct {
	CompanyID int64
	PersonID  int64
	From      time.Time
	To        time.Time
	Unbilled  bool
	Limit     int
}

// CompanyBilling is the billing configuration read from master data. A nil
// SubsidyRate means the company has no configured subsidy.
type CompanyBilling struct {
	CompanyID      int64
	Name           string
	SubsidyRate    *decimal.Decimal
	BillingAddress string
}
