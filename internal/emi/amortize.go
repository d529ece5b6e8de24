// Package emi holds the pure EMI engine: the equal-monthly-installment
// formula, candidate transaction classification and the upcoming
// installment aggregation. Nothing in here performs I/O.
package emi

import (
	"github.com/boddenberg/emi-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// ratePrecision is the number of fractional digits kept for the periodic
// rate and the compound factor. Money is rounded to 2 places once, at the end.
const ratePrecision = 30

// MaxTenureMonths bounds the compound loop.
const MaxTenureMonths = 360

// DefaultComparisonTenures is the tenure set of the comparison table.
var DefaultComparisonTenures = []int{3, 6, 12, 18}

var (
	one            = decimal.NewFromInt(1)
	monthsTimes100 = decimal.NewFromInt(12 * 100)
)

// Amortize returns the equal monthly installment for principal borrowed at
// annualRatePercent over tenureMonths:
//
//	r   = annualRatePercent / 12 / 100
//	EMI = P * r * (1+r)^n / ((1+r)^n - 1)
//
// A zero rate falls back to P / n. The result is rounded half-up to 2 places.
func Amortize(principal, annualRatePercent decimal.Decimal, tenureMonths int) (decimal.Decimal, error) {
	if err := ValidateTerms(principal, annualRatePercent, tenureMonths); err != nil {
		return decimal.Zero, err
	}

	n := decimal.NewFromInt(int64(tenureMonths))
	r := MonthlyRate(annualRatePercent)
	if r.IsZero() {
		return principal.DivRound(n, 2), nil
	}

	factor := compound(r, tenureMonths)
	denominator := factor.Sub(one)
	if !denominator.IsPositive() {
		return decimal.Zero, &domain.ErrComputation{Reason: "rate too small to compound"}
	}

	emi := principal.Mul(r).Mul(factor).DivRound(denominator, ratePrecision).Round(2)
	if emi.IsNegative() {
		return decimal.Zero, &domain.ErrComputation{Reason: "negative installment"}
	}
	return emi, nil
}

// MonthlyRate converts an annual percentage into the periodic monthly rate.
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.DivRound(monthsTimes100, ratePrecision)
}

// compound returns (1+r)^n at ratePrecision.
func compound(r decimal.Decimal, n int) decimal.Decimal {
	base := one.Add(r)
	f := one
	for i := 0; i < n; i++ {
		f = f.Mul(base).Round(ratePrecision)
	}
	return f
}

// ValidateTerms checks the calculator inputs. Callers must not contact the
// bank API when this fails.
func ValidateTerms(principal, annualRatePercent decimal.Decimal, tenureMonths int) error {
	switch {
	case tenureMonths <= 0:
		return &domain.ErrValidation{Field: "tenureMonths", Message: "must be greater than zero"}
	case tenureMonths > MaxTenureMonths:
		return &domain.ErrValidation{Field: "tenureMonths", Message: "must not exceed 360 months"}
	case principal.IsNegative():
		return &domain.ErrValidation{Field: "principal", Message: "must not be negative"}
	case annualRatePercent.IsNegative():
		return &domain.ErrValidation{Field: "interestRateAnnual", Message: "must not be negative"}
	}
	return nil
}

// Quote computes the EMI and its derived totals.
func Quote(principal, annualRatePercent decimal.Decimal, tenureMonths int) (domain.EMIQuote, error) {
	emi, err := Amortize(principal, annualRatePercent, tenureMonths)
	if err != nil {
		return domain.EMIQuote{}, err
	}
	total := emi.Mul(decimal.NewFromInt(int64(tenureMonths)))
	return domain.EMIQuote{
		Principal:          principal,
		InterestRateAnnual: annualRatePercent,
		TenureMonths:       tenureMonths,
		EMI:                emi,
		TotalPayment:       total,
		TotalInterest:      total.Sub(principal),
	}, nil
}

// CompareTenures quotes the same principal and rate across several tenures.
// A nil or empty tenure list uses DefaultComparisonTenures.
func CompareTenures(principal, annualRatePercent decimal.Decimal, tenures []int) ([]domain.EMIQuote, error) {
	if len(tenures) == 0 {
		tenures = DefaultComparisonTenures
	}
	quotes := make([]domain.EMIQuote, 0, len(tenures))
	for _, n := range tenures {
		q, err := Quote(principal, annualRatePercent, n)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}
