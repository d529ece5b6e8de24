package emi

import (
	"fmt"

	"github.com/boddenberg/emi-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// RemainderPolicy decides each installment amount of a schedule whose EMI
// was rounded to 2 places. The bank API may apply its own rule; the policy in
// use at the boundary is selected by configuration.
type RemainderPolicy interface {
	Name() string
	// Amounts returns tenure amounts, one per installment in order.
	Amounts(principal, monthlyRate, emi decimal.Decimal, tenure int) []decimal.Decimal
}

// Remainder policy names accepted by ParseRemainderPolicy.
const (
	RemainderLastInstallment = "last-installment"
	RemainderNone            = "none"
)

// ParseRemainderPolicy resolves a policy by name. Empty selects the
// last-installment policy.
func ParseRemainderPolicy(name string) (RemainderPolicy, error) {
	switch name {
	case "", RemainderLastInstallment:
		return LastInstallmentAbsorbs{}, nil
	case RemainderNone:
		return EqualInstallments{}, nil
	}
	return nil, fmt.Errorf("unknown remainder policy %q", name)
}

// EqualInstallments charges the rounded EMI every period and leaves any
// rounding difference to the bank API.
type EqualInstallments struct{}

func (EqualInstallments) Name() string { return RemainderNone }

func (EqualInstallments) Amounts(_, _, emi decimal.Decimal, tenure int) []decimal.Decimal {
	out := make([]decimal.Decimal, tenure)
	for i := range out {
		out[i] = emi
	}
	return out
}

// LastInstallmentAbsorbs runs the balance down with per-period interest
// rounded to 2 places and makes the final installment pay off exactly what is
// left, so the balance reaches zero.
type LastInstallmentAbsorbs struct{}

func (LastInstallmentAbsorbs) Name() string { return RemainderLastInstallment }

func (LastInstallmentAbsorbs) Amounts(principal, monthlyRate, emi decimal.Decimal, tenure int) []decimal.Decimal {
	out := make([]decimal.Decimal, tenure)
	balance := principal
	for i := 0; i < tenure-1; i++ {
		interest := balance.Mul(monthlyRate).Round(2)
		balance = balance.Sub(emi.Sub(interest))
		out[i] = emi
	}
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	out[tenure-1] = balance.Add(balance.Mul(monthlyRate).Round(2))
	return out
}

// BuildSchedule lays out a preview schedule: installments 1..tenure, all
// PENDING, due one calendar month apart starting at firstDue.
func BuildSchedule(
	planID string,
	principal, annualRatePercent decimal.Decimal,
	tenureMonths int,
	firstDue domain.Date,
	policy RemainderPolicy,
) ([]domain.EMIInstallment, error) {
	emi, err := Amortize(principal, annualRatePercent, tenureMonths)
	if err != nil {
		return nil, err
	}
	if firstDue.IsZero() {
		return nil, &domain.ErrValidation{Field: "firstDueDate", Message: "is required"}
	}
	if policy == nil {
		policy = LastInstallmentAbsorbs{}
	}

	amounts := policy.Amounts(principal, MonthlyRate(annualRatePercent), emi, tenureMonths)
	installments := make([]domain.EMIInstallment, 0, tenureMonths)
	for i, amount := range amounts {
		installments = append(installments, domain.EMIInstallment{
			PlanID:            planID,
			InstallmentNumber: i + 1,
			DueDate:           firstDue.AddMonths(i),
			Amount:            amount,
			Status:            domain.InstallmentPending,
		})
	}
	return installments, nil
}
