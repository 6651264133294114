package pricing

import (
	"errors"
	"testing"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	calc, err := NewCalculator(DefaultConfig())
	require.NoError(t, err)
	return calc
}

func TestComputeBreakdown(t *testing.T) {
	calc := newCalc(t)

	tests := []struct {
		name    string
		gross   string
		pct     string
		mode    payment.FeeMode
		fee     string
		net     string
		total   string
		wantErr error
	}{
		{name: "additive 5 percent", gross: "100.00", pct: "5", mode: payment.FeeModeAdditive, fee: "5.00", net: "100.00", total: "105.00"},
		{name: "inclusive 10 percent", gross: "250", pct: "10", mode: payment.FeeModeInclusive, fee: "25.00", net: "225.00", total: "250.00"},
		{name: "zero percent", gross: "99.99", pct: "0", mode: payment.FeeModeAdditive, fee: "0", net: "99.99", total: "99.99"},
		{name: "rounds half up", gross: "10.10", pct: "5", mode: payment.FeeModeInclusive, fee: "0.51", net: "9.59", total: "10.10"},
		{name: "rounds down below half", gross: "10.01", pct: "2.5", mode: payment.FeeModeAdditive, fee: "0.25", net: "10.01", total: "10.26"},
		{name: "full percentage", gross: "40", pct: "100", mode: payment.FeeModeInclusive, fee: "40", net: "0", total: "40"},
		{name: "zero amount", gross: "0", pct: "5", mode: payment.FeeModeAdditive, wantErr: payment.ErrInvalidAmount},
		{name: "rounds to zero", gross: "0.004", pct: "5", mode: payment.FeeModeAdditive, wantErr: payment.ErrInvalidAmount},
		{name: "rounds up to one minor unit", gross: "0.005", pct: "0", mode: payment.FeeModeInclusive, fee: "0", net: "0.01", total: "0.01"},
		{name: "rounds down to max", gross: "1000000.004", pct: "0", mode: payment.FeeModeInclusive, fee: "0", net: "1000000", total: "1000000"},
		{name: "negative amount", gross: "-3", pct: "5", mode: payment.FeeModeAdditive, wantErr: payment.ErrInvalidAmount},
		{name: "above max", gross: "1000000.01", pct: "5", mode: payment.FeeModeAdditive, wantErr: payment.ErrInvalidAmount},
		{name: "negative pct", gross: "10", pct: "-1", mode: payment.FeeModeAdditive, wantErr: payment.ErrInvalidFeePercentage},
		{name: "pct above 100", gross: "10", pct: "100.5", mode: payment.FeeModeAdditive, wantErr: payment.ErrInvalidFeePercentage},
		{name: "unknown mode", gross: "10", pct: "5", mode: payment.FeeMode("split"), wantErr: payment.ErrInvalidFeeMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.ComputeBreakdown(d(tt.gross), d(tt.pct), tt.mode)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.FeeAmount.Equal(d(tt.fee)), "fee: got %s", got.FeeAmount)
			assert.True(t, got.Net.Equal(d(tt.net)), "net: got %s", got.Net)
			assert.True(t, got.TotalCharged.Equal(d(tt.total)), "total: got %s", got.TotalCharged)
			assert.Equal(t, tt.mode, got.Mode)
		})
	}
}

func TestComputeBreakdownInvariants(t *testing.T) {
	calc := newCalc(t)
	amounts := []string{"1", "3.33", "17.05", "99.99", "1234.56", "999999.99"}
	pcts := []string{"0", "1.5", "5", "12.345", "33.3", "100"}

	for _, a := range amounts {
		for _, p := range pcts {
			inc, err := calc.ComputeBreakdown(d(a), d(p), payment.FeeModeInclusive)
			require.NoError(t, err)
			assert.True(t, inc.Net.Add(inc.FeeAmount).Equal(inc.Gross), "inclusive %s@%s", a, p)
			assert.True(t, inc.TotalCharged.Equal(inc.Gross))
			assert.False(t, inc.FeeAmount.IsNegative())

			add, err := calc.ComputeBreakdown(d(a), d(p), payment.FeeModeAdditive)
			require.NoError(t, err)
			assert.True(t, add.TotalCharged.Equal(add.Gross.Add(add.FeeAmount)), "additive %s@%s", a, p)
			assert.True(t, add.Net.Equal(add.Gross))

			// same inputs, same output
			again, _ := calc.ComputeBreakdown(d(a), d(p), payment.FeeModeAdditive)
			assert.True(t, again.Equal(add))
		}
	}
}

func TestForCategory(t *testing.T) {
	calc := newCalc(t)

	donation, err := calc.ForCategory(payment.KindDonation, d("100"))
	require.NoError(t, err)
	assert.True(t, donation.TotalCharged.Equal(d("105")))

	order, err := calc.ForCategory(payment.KindOrder, d("100"))
	require.NoError(t, err)
	assert.True(t, order.Net.Equal(d("90")))
	assert.True(t, order.TotalCharged.Equal(d("100")))

	sub, err := calc.ForCategory(payment.KindSubscription, d("150"))
	require.NoError(t, err)
	assert.True(t, sub.FeeAmount.IsZero())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Categories[payment.KindOrder] = CategoryFee{Percentage: d("120"), Mode: payment.FeeModeInclusive}
	_, err := NewCalculator(cfg)
	assert.ErrorIs(t, err, payment.ErrInvalidFeePercentage)

	cfg = DefaultConfig()
	cfg.Categories[payment.KindOrder] = CategoryFee{Percentage: d("1"), Mode: "weird"}
	_, err = NewCalculator(cfg)
	assert.ErrorIs(t, err, payment.ErrInvalidFeeMode)
}
