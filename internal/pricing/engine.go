// internal/pricing/engine.go
package pricing

import (
	"fmt"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CategoryFee is the fee rule for one payment kind.
type CategoryFee struct {
	Percentage decimal.Decimal
	Mode       payment.FeeMode
}

// Config bounds the calculator. MinorUnits is the number of decimal places
// amounts are rounded to (2 for ZMW).
type Config struct {
	MaxAmount  decimal.Decimal
	MinorUnits int32
	Categories map[payment.Kind]CategoryFee
}

// DefaultCategories: donors pay the platform fee on top, marketplace sellers
// absorb it, subscriptions carry none.
func DefaultCategories() map[payment.Kind]CategoryFee {
	return map[payment.Kind]CategoryFee{
		payment.KindDonation:     {Percentage: decimal.NewFromInt(5), Mode: payment.FeeModeAdditive},
		payment.KindOrder:        {Percentage: decimal.NewFromInt(10), Mode: payment.FeeModeInclusive},
		payment.KindSubscription: {Percentage: decimal.Zero, Mode: payment.FeeModeInclusive},
	}
}

// DefaultConfig caps a single payment at 1,000,000 and rounds to two
// decimal places.
func DefaultConfig() Config {
	return Config{
		MaxAmount:  decimal.NewFromInt(1_000_000),
		MinorUnits: 2,
		Categories: DefaultCategories(),
	}
}

// Calculator turns an entered amount into a fee breakdown. It holds no
// mutable state and is safe for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator validates cfg and returns a calculator bound to it.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

func (c Config) Validate() error {
	if c.MaxAmount.Sign() <= 0 {
		return fmt.Errorf("%w: max amount must be positive", payment.ErrInvalidAmount)
	}
	if c.MinorUnits < 0 {
		return fmt.Errorf("minor units cannot be negative")
	}
	for kind, rule := range c.Categories {
		if !kind.Valid() {
			return fmt.Errorf("unknown payment kind %q in fee table", kind)
		}
		if err := validatePercentage(rule.Percentage); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		if !rule.Mode.Valid() {
			return fmt.Errorf("%s: %w: %q", kind, payment.ErrInvalidFeeMode, rule.Mode)
		}
	}
	return nil
}

// ComputeBreakdown splits gross into fee, net and total.
//
//	fee = round_half_up(gross * pct / 100)
//	inclusive: net = gross - fee, total = gross
//	additive:  net = gross,       total = gross + fee
//
// Bounds are checked after gross is rounded to minor units, so an amount
// that rounds to zero is rejected.
func (c *Calculator) ComputeBreakdown(gross, feePercentage decimal.Decimal, mode payment.FeeMode) (payment.Breakdown, error) {
	// decimal.Round rounds half away from zero, which is half-up for the
	// positive amounts accepted here.
	gross = gross.Round(c.cfg.MinorUnits)
	if gross.Sign() <= 0 {
		return payment.Breakdown{}, fmt.Errorf("%w: amount must be greater than zero", payment.ErrInvalidAmount)
	}
	if gross.GreaterThan(c.cfg.MaxAmount) {
		return payment.Breakdown{}, fmt.Errorf("%w: amount exceeds %s", payment.ErrInvalidAmount, c.cfg.MaxAmount.String())
	}
	if err := validatePercentage(feePercentage); err != nil {
		return payment.Breakdown{}, err
	}

	fee := gross.Mul(feePercentage).Div(hundred).Round(c.cfg.MinorUnits)

	switch mode {
	case payment.FeeModeInclusive:
		return payment.Breakdown{
			Gross:        gross,
			FeeAmount:    fee,
			Net:          gross.Sub(fee),
			TotalCharged: gross,
			Mode:         mode,
		}, nil
	case payment.FeeModeAdditive:
		return payment.Breakdown{
			Gross:        gross,
			FeeAmount:    fee,
			Net:          gross,
			TotalCharged: gross.Add(fee),
			Mode:         mode,
		}, nil
	default:
		return payment.Breakdown{}, fmt.Errorf("%w: %q", payment.ErrInvalidFeeMode, mode)
	}
}

// ForCategory applies the configured fee rule for kind. A kind missing from
// the table is charged no fee.
func (c *Calculator) ForCategory(kind payment.Kind, gross decimal.Decimal) (payment.Breakdown, error) {
	rule, ok := c.cfg.Categories[kind]
	if !ok {
		rule = CategoryFee{Percentage: decimal.Zero, Mode: payment.FeeModeInclusive}
	}
	return c.ComputeBreakdown(gross, rule.Percentage, rule.Mode)
}

func validatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: got %s", payment.ErrInvalidFeePercentage, pct.String())
	}
	return nil
}
