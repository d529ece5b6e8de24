package emi

import (
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// DefaultMinEligibleAmount is the smallest transaction amount that may seed
// an EMI plan.
var DefaultMinEligibleAmount = decimal.NewFromInt(1000)

// Amount bucket edges. Currency agnostic.
var (
	lowCeiling = decimal.NewFromInt(20000)
	highFloor  = decimal.NewFromInt(50000)
)

// AmountBucket narrows candidates by amount.
type AmountBucket string

const (
	AmountAll    AmountBucket = "all"
	AmountLow    AmountBucket = "low"    // < 20,000
	AmountMedium AmountBucket = "medium" // 20,000 .. 50,000 inclusive
	AmountHigh   AmountBucket = "high"   // > 50,000
)

// ParseAmountBucket parses a query value. Empty means all.
func ParseAmountBucket(s string) (AmountBucket, error) {
	switch b := AmountBucket(s); b {
	case "":
		return AmountAll, nil
	case AmountAll, AmountLow, AmountMedium, AmountHigh:
		return b, nil
	}
	return "", &domain.ErrValidation{Field: "amount", Message: "must be one of all, low, medium, high"}
}

// Match reports whether amount falls in the bucket.
func (b AmountBucket) Match(amount decimal.Decimal) bool {
	switch b {
	case AmountLow:
		return amount.LessThan(lowCeiling)
	case AmountMedium:
		return amount.GreaterThanOrEqual(lowCeiling) && amount.LessThanOrEqual(highFloor)
	case AmountHigh:
		return amount.GreaterThan(highFloor)
	}
	return true
}

// DateWindow narrows candidates by recency.
type DateWindow string

const (
	WindowAll   DateWindow = "all"
	WindowWeek  DateWindow = "week"  // last 7 days
	WindowMonth DateWindow = "month" // last 30 days
)

// ParseDateWindow parses a query value. Empty means all.
func ParseDateWindow(s string) (DateWindow, error) {
	switch w := DateWindow(s); w {
	case "":
		return WindowAll, nil
	case WindowAll, WindowWeek, WindowMonth:
		return w, nil
	}
	return "", &domain.ErrValidation{Field: "date", Message: "must be one of all, week, month"}
}

// Match reports whether d falls in the window ending today.
func (w DateWindow) Match(d, today domain.Date) bool {
	switch w {
	case WindowWeek:
		return !d.Before(today.AddDays(-7))
	case WindowMonth:
		return !d.Before(today.AddDays(-30))
	}
	return true
}

// ClassifyTransactions projects every transaction into a candidate. Nothing
// is dropped: ineligible transactions come back with Eligible=false.
func ClassifyTransactions(txs []domain.Transaction, minEligible decimal.Decimal) []domain.CandidateTransaction {
	out := make([]domain.CandidateTransaction, 0, len(txs))
	for _, tx := range txs {
		amount := tx.Amount.Abs()
		out = append(out, domain.CandidateTransaction{
			ID:       tx.ID,
			Merchant: merchantLabel(tx),
			Amount:   amount,
			Date:     domain.NewDate(tx.Timestamp),
			Category: tx.Category,
			Eligible: amount.GreaterThanOrEqual(minEligible),
		})
	}
	return out
}

func merchantLabel(tx domain.Transaction) string {
	switch {
	case tx.Merchant != "":
		return tx.Merchant
	case tx.Description != "":
		return tx.Description
	}
	return tx.Category
}

// ApplyFilters keeps the candidates matching both the amount bucket and the
// date window, preserving order. The input is not modified.
func ApplyFilters(candidates []domain.CandidateTransaction, bucket AmountBucket, window DateWindow, now time.Time) []domain.CandidateTransaction {
	today := domain.NewDate(now)
	out := make([]domain.CandidateTransaction, 0, len(candidates))
	for _, c := range candidates {
		if bucket.Match(c.Amount) && window.Match(c.Date, today) {
			out = append(out, c)
		}
	}
	return out
}
