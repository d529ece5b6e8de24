package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// EMI plans & installments
// ============================================================

// PlanStatus is the lifecycle state of an EMI plan. Owned by the bank API.
type PlanStatus string

const (
	PlanActive    PlanStatus = "ACTIVE"
	PlanCompleted PlanStatus = "COMPLETED"
	PlanCancelled PlanStatus = "CANCELLED"
	PlanOverdue   PlanStatus = "OVERDUE"
)

// Valid reports whether s is a known plan status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanActive, PlanCompleted, PlanCancelled, PlanOverdue:
		return true
	}
	return false
}

// InstallmentStatus is PENDING until the installment is paid.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// DefaultPlanName is shown for plans created without a product name.
const DefaultPlanName = "EMI Plan"

// EMIPlan is a read-only copy of a plan owned by the bank API.
type EMIPlan struct {
	ID                 string          `json:"id"`
	AccountID          string          `json:"accountId"`
	ProductName        string          `json:"productName,omitempty"`
	Principal          decimal.Decimal `json:"principal"`
	InterestRateAnnual decimal.Decimal `json:"interestRateAnnual"`
	TenureMonths       int             `json:"tenureMonths"`
	EMIAmount          decimal.Decimal `json:"emiAmount"`
	Status             PlanStatus      `json:"status"`
	NextDueDate        *Date           `json:"nextDueDate,omitempty"`
	EndDate            Date            `json:"endDate"`
}

// DisplayName returns the product name, or the generic label when absent.
func (p EMIPlan) DisplayName() string {
	if p.ProductName != "" {
		return p.ProductName
	}
	return DefaultPlanName
}

// EMIInstallment is one scheduled payment of a plan.
type EMIInstallment struct {
	ID                string            `json:"id"`
	PlanID            string            `json:"planId"`
	InstallmentNumber int               `json:"installmentNumber"`
	DueDate           Date              `json:"dueDate"`
	Amount            decimal.Decimal   `json:"amount"`
	Status            InstallmentStatus `json:"status"`
	PaidAt            *time.Time        `json:"paidAt,omitempty"`
}

// PlanSchedule is a plan with its ordered installments.
type PlanSchedule struct {
	Plan         EMIPlan          `json:"plan"`
	Installments []EMIInstallment `json:"installments"`
}

// PlanQuery filters the plan list.
type PlanQuery struct {
	Page   int        `json:"page,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Status PlanStatus `json:"status,omitempty"`
}

// Pagination is returned with every paged list.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// PlanPage is one page of plans.
type PlanPage struct {
	Plans      []EMIPlan  `json:"plans"`
	Pagination Pagination `json:"pagination"`
}

// CreatePlanRequest is the body of a plan-creation request.
type CreatePlanRequest struct {
	AccountID          string          `json:"accountId"`
	ProductName        string          `json:"productName,omitempty"`
	Principal          decimal.Decimal `json:"principal"`
	InterestRateAnnual decimal.Decimal `json:"interestRateAnnual"`
	TenureMonths       int             `json:"tenureMonths"`
}

// PayInstallmentRequest is the body of an installment-payment request.
type PayInstallmentRequest struct {
	AccountID string `json:"accountId"`
}

// ============================================================
// Calculator
// ============================================================

// EMIQuote is a locally computed preview. Never authoritative: the plan
// returned by the bank API wins.
type EMIQuote struct {
	Principal          decimal.Decimal `json:"principal"`
	InterestRateAnnual decimal.Decimal `json:"interestRateAnnual"`
	TenureMonths       int             `json:"tenureMonths"`
	EMI                decimal.Decimal `json:"emi"`
	TotalPayment       decimal.Decimal `json:"totalPayment"`
	TotalInterest      decimal.Decimal `json:"totalInterest"`
}

// ============================================================
// Affordability (external AI service, opaque)
// ============================================================

// AffordabilityRequest is passed through to the AI service untouched.
type AffordabilityRequest struct {
	Principal          decimal.Decimal `json:"principal"`
	TenureMonths       int             `json:"tenureMonths"`
	InterestRateAnnual decimal.Decimal `json:"interestRateAnnual"`
	AccountID          string          `json:"accountId,omitempty"`
}

// AffordabilityResult is the AI service's opinion. Not validated here.
type AffordabilityResult struct {
	Affordable      bool             `json:"affordable"`
	RiskLevel       string           `json:"riskLevel"`
	Recommendation  string           `json:"recommendation"`
	Hints           []string         `json:"hints"`
	Summary         string           `json:"summary"`
	MaxSuggestedEMI *decimal.Decimal `json:"maxSuggestedEmi,omitempty"`
}

// ============================================================
// Derived views (never persisted)
// ============================================================

// CandidateTransaction is a past transaction proposed as an EMI principal.
type CandidateTransaction struct {
	ID       string          `json:"id"`
	Merchant string          `json:"merchant"`
	Amount   decimal.Decimal `json:"amount"`
	Date     Date            `json:"date"`
	Category string          `json:"category"`
	Eligible bool            `json:"eligible"`
}

// UpcomingInstallmentRow is one line of the aggregated installment feed.
type UpcomingInstallmentRow struct {
	InstallmentID     string            `json:"installmentId"`
	PlanID            string            `json:"planId"`
	InstallmentNumber int               `json:"installmentNumber"`
	DueDate           Date              `json:"dueDate"`
	PlanName          string            `json:"planName"`
	Amount            decimal.Decimal   `json:"amount"`
	Status            InstallmentStatus `json:"status"`
	PaidAt            *time.Time        `json:"paidAt,omitempty"`
}

// UpcomingFeed is the aggregated feed plus its completeness. Rows from
// resolved schedules are always present; Complete is false while any plan's
// schedule is still loading or failed.
type UpcomingFeed struct {
	Rows           []UpcomingInstallmentRow `json:"rows"`
	Complete       bool                     `json:"complete"`
	LoadingPlanIDs []string                 `json:"loadingPlanIds,omitempty"`
	FailedPlanIDs  []string                 `json:"failedPlanIds,omitempty"`
}
