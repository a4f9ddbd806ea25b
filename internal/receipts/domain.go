// Package receipts issues receipt documents. A receipt may precede its
// payment (handed to a driver before money changes hands) and is reconciled
// to the payment later; once bound, the binding never changes.
package receipts

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/bentoya/bentoya/internal/billing"
)

// PreReceiptInput describes a receipt issued before payment.
type PreReceiptInput struct {
	InvoiceID     int64
	RecipientName string
	Amount        decimal.Decimal
}

// IssueResult reports an issued or bound receipt. Warning carries the
// amount-mismatch notice when a pre-receipt was bound to a payment of a
// different amount; the printed receipt amount stays authoritative.
type IssueResult struct {
	Receipt billing.Receipt
	Bound   bool
	Warning string
}

var yenPrinter = message.NewPrinter(language.Japanese)

// FormatYen renders an amount the way it appears on a printed receipt.
func FormatYen(amount decimal.Decimal) string {
	return yenPrinter.Sprintf("¥%d", amount.IntPart())
}

// externalRef derives a stable document reference from the receipt number,
// so reprints of the same receipt carry the same reference.
func externalRef(number string) string {
	return uuid.NewSHA1(uuid.Nil, []byte("RECEIPT:"+number)).String()
}
