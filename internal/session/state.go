// Package session holds the per-user view-model: the EMI form, the filter
// selections, the open dialogs and the data they show. A Controller owns
// one session's State and is the only thing that mutates it.
package session

import (
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/emi"

	"github.com/shopspring/decimal"
)

// PlanFlow is the plan-creation dialog state. Success and Failure are
// passed through within a single submit; a snapshot shows where they lead.
//
//	Idle -> FormOpen -> Submitting -> Success -> Idle
//	                               -> Failure -> FormOpen
type PlanFlow string

const (
	PlanIdle       PlanFlow = "IDLE"
	PlanFormOpen   PlanFlow = "FORM_OPEN"
	PlanSubmitting PlanFlow = "SUBMITTING"
	PlanSuccess    PlanFlow = "SUCCESS"
	PlanFailure    PlanFlow = "FAILURE"
)

// PayFlow is the schedule / pay-installment dialog state. As with PlanFlow,
// Success and Failure resolve within the submit.
//
//	ScheduleClosed -> ScheduleOpen -> PayDialogOpen -> Submitting -> Success -> ScheduleClosed
//	                                                             -> Failure -> PayDialogOpen
type PayFlow string

const (
	PayScheduleClosed PayFlow = "SCHEDULE_CLOSED"
	PayScheduleOpen   PayFlow = "SCHEDULE_OPEN"
	PayDialogOpen     PayFlow = "PAY_DIALOG_OPEN"
	PaySubmitting     PayFlow = "SUBMITTING"
	PaySuccess        PayFlow = "SUCCESS"
	PayFailure        PayFlow = "FAILURE"
)

// State is the serializable view-model of one session.
type State struct {
	ID string `json:"id"`

	// Selections
	AccountID           string           `json:"accountId,omitempty"`
	SourceTransactionID string           `json:"sourceTransactionId,omitempty"`
	Principal           decimal.Decimal  `json:"principal"`
	TenureMonths        int              `json:"tenureMonths"`
	InterestRateAnnual  decimal.Decimal  `json:"interestRateAnnual"`
	ProductName         string           `json:"productName,omitempty"`
	AmountBucket        emi.AmountBucket `json:"amountBucket"`
	DateWindow          emi.DateWindow   `json:"dateWindow"`

	// Dialogs
	PlanFlow              PlanFlow `json:"planFlow"`
	PayFlow               PayFlow  `json:"payFlow"`
	SelectedPlanID        string   `json:"selectedPlanId,omitempty"`
	SelectedInstallmentID string   `json:"selectedInstallmentId,omitempty"`

	// Derived and loaded data
	Quote             *domain.EMIQuote              `json:"quote,omitempty"`
	QuoteError        string                        `json:"quoteError,omitempty"`
	Candidates        []domain.CandidateTransaction `json:"candidates,omitempty"`
	CandidatesLoading bool                          `json:"candidatesLoading"`
	Plans             []domain.EMIPlan              `json:"plans,omitempty"`
	Schedule          *domain.PlanSchedule          `json:"schedule,omitempty"`
	Feed              *domain.UpcomingFeed          `json:"feed,omitempty"`
	Affordability     *domain.AffordabilityResult   `json:"affordability,omitempty"`

	// Outcome of the last action
	LastCreatedPlanID string `json:"lastCreatedPlanId,omitempty"`
	Notice            string `json:"notice,omitempty"`
	LastError         string `json:"lastError,omitempty"`

	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// clone copies the slices so a snapshot can leave the lock.
func (s State) clone() State {
	c := s
	c.Candidates = append([]domain.CandidateTransaction(nil), s.Candidates...)
	c.Plans = append([]domain.EMIPlan(nil), s.Plans...)
	if s.Quote != nil {
		q := *s.Quote
		c.Quote = &q
	}
	if s.Schedule != nil {
		sc := *s.Schedule
		sc.Installments = append([]domain.EMIInstallment(nil), s.Schedule.Installments...)
		c.Schedule = &sc
	}
	if s.Feed != nil {
		f := *s.Feed
		f.Rows = append([]domain.UpcomingInstallmentRow(nil), s.Feed.Rows...)
		c.Feed = &f
	}
	return c
}

// candidatesKey identifies the inputs of a candidate load. A response whose
// key no longer matches the state is dropped.
type candidatesKey struct {
	accountID  string
	bucket     emi.AmountBucket
	window     emi.DateWindow
	generation uint64
}

func (s *State) candidatesKey() candidatesKey {
	return candidatesKey{
		accountID:  s.AccountID,
		bucket:     s.AmountBucket,
		window:     s.DateWindow,
		generation: s.Generation,
	}
}

// termsKey identifies the inputs of an affordability check.
type termsKey struct {
	accountID string
	principal string
	rate      string
	tenure    int
}

func (s *State) termsKey() termsKey {
	return termsKey{
		accountID: s.AccountID,
		principal: s.Principal.String(),
		rate:      s.InterestRateAnnual.String(),
		tenure:    s.TenureMonths,
	}
}
