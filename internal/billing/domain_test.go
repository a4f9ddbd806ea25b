package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func yen(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestSplitSubsidy(t *testing.T) {
	subsidy, payable := SplitSubsidy(yen(300), 1, yen(1500))
	require.True(t, subsidy.Equal(yen(300)))
	require.True(t, payable.Equal(yen(1200)))

	// Subsidy never exceeds the order total.
	subsidy, payable = SplitSubsidy(yen(900), 2, yen(1500))
	require.True(t, subsidy.Equal(yen(1500)))
	require.True(t, payable.IsZero())

	// No configured rate means the individual pays everything.
	subsidy, payable = SplitSubsidy(decimal.Zero, 3, yen(1500))
	require.True(t, subsidy.IsZero())
	require.True(t, payable.Equal(yen(1500)))
}

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, StatusIssued, DeriveStatus(yen(4500), yen(0)))
	require.Equal(t, StatusPartial, DeriveStatus(yen(4500), yen(1000)))
	require.Equal(t, StatusPaid, DeriveStatus(yen(4500), yen(4500)))
	require.Equal(t, StatusPaid, DeriveStatus(yen(4500), yen(5000)))
}

func TestParseEnums(t *testing.T) {
	for _, raw := range []string{"company_bulk", "department", "individual"} {
		_, err := ParseInvoiceType(raw)
		require.NoError(t, err)
	}
	_, err := ParseInvoiceType("per_meal")
	require.Error(t, err)

	for _, raw := range []string{"cash", "bank_transfer", "mobile_pay", "direct_debit", "other"} {
		_, err := ParsePaymentMethod(raw)
		require.NoError(t, err)
	}
	_, err = ParsePaymentMethod("crypto")
	require.Error(t, err)
}
