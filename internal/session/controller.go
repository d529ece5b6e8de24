package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/emi"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"
	"github.com/boddenberg/emi-bfa-go/internal/service"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("session")

const planListLimit = 50

// Operations is what a controller needs from the EMI service.
type Operations interface {
	Quote(principal, rate decimal.Decimal, tenureMonths int) (domain.EMIQuote, error)
	Candidates(ctx context.Context, q service.CandidateQuery) ([]domain.CandidateTransaction, error)
	ListPlans(ctx context.Context, q domain.PlanQuery) (*domain.PlanPage, error)
	GetSchedule(ctx context.Context, planID string) (*domain.PlanSchedule, error)
	UpcomingInstallments(ctx context.Context) (*domain.UpcomingFeed, error)
	CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.EMIPlan, error)
	PayInstallment(ctx context.Context, installmentID, accountID string) (*domain.EMIPlan, error)
	CheckAffordability(ctx context.Context, req domain.AffordabilityRequest) (*domain.AffordabilityResult, error)
}

// Defaults seeds the form of a new session.
type Defaults struct {
	TenureMonths       int
	InterestRateAnnual decimal.Decimal
}

// Controller serializes every mutation of one session. Remote calls run
// outside the lock; their results are applied only if the state they were
// issued for is still current.
type Controller struct {
	mu      sync.Mutex
	state   State
	ops     Operations
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	scheduleGen uint64
	feedGen     uint64
	plansGen    uint64
}

// NewController creates a controller for session id.
func NewController(id string, ops Operations, defaults Defaults, metrics *observability.Metrics, logger *zap.Logger, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	c := &Controller{
		state: State{
			ID:                 id,
			TenureMonths:       defaults.TenureMonths,
			InterestRateAnnual: defaults.InterestRateAnnual,
			AmountBucket:       emi.AmountAll,
			DateWindow:         emi.WindowAll,
			PlanFlow:           PlanIdle,
			PayFlow:            PayScheduleClosed,
		},
		ops:     ops,
		metrics: metrics,
		logger:  logger.With(zap.String("session_id", id)),
		now:     now,
	}
	c.state.UpdatedAt = now()
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// snapshotLocked must be called with mu held.
func (c *Controller) snapshotLocked() State {
	c.state.UpdatedAt = c.now()
	return c.state.clone()
}

func (c *Controller) discard(op string) error {
	c.metrics.IncrStaleDiscarded(op)
	c.logger.Debug("stale response discarded", zap.String("operation", op))
	return &domain.ErrStaleResponse{Operation: op}
}

// fail records err as the user-facing message of the last action.
func (c *Controller) fail(err error) error {
	c.state.Notice = ""
	c.state.LastError = domain.UserMessage(err)
	return err
}

// DismissMessages clears the last notice and error.
func (c *Controller) DismissMessages() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Notice = ""
	c.state.LastError = ""
	return c.snapshotLocked()
}

// ---------------------------------------------------------------------------
// Account, filters & candidates
// ---------------------------------------------------------------------------

// SelectAccount switches the funding account and reloads the candidates.
// Any load still in flight for the previous account is superseded.
func (c *Controller) SelectAccount(ctx context.Context, accountID string) (State, error) {
	c.mu.Lock()
	if accountID == "" {
		defer c.mu.Unlock()
		return c.snapshotLocked(), c.fail(&domain.ErrValidation{Field: "accountId", Message: "select an account"})
	}
	c.state.AccountID = accountID
	c.state.SourceTransactionID = ""
	c.state.Candidates = nil
	c.state.Generation++
	c.mu.Unlock()
	return c.LoadCandidates(ctx)
}

// SetFilters changes the amount and date filters and reloads the candidates.
// Empty values leave a filter unchanged.
func (c *Controller) SetFilters(ctx context.Context, amountBucket, dateWindow string) (State, error) {
	c.mu.Lock()
	bucket, window := c.state.AmountBucket, c.state.DateWindow
	if amountBucket != "" {
		b, err := emi.ParseAmountBucket(amountBucket)
		if err != nil {
			defer c.mu.Unlock()
			return c.snapshotLocked(), c.fail(err)
		}
		bucket = b
	}
	if dateWindow != "" {
		w, err := emi.ParseDateWindow(dateWindow)
		if err != nil {
			defer c.mu.Unlock()
			return c.snapshotLocked(), c.fail(err)
		}
		window = w
	}
	c.state.AmountBucket = bucket
	c.state.DateWindow = window
	c.state.Generation++
	c.mu.Unlock()
	return c.LoadCandidates(ctx)
}

// LoadCandidates fetches the candidate transactions for the current account
// and filters.
func (c *Controller) LoadCandidates(ctx context.Context) (State, error) {
	ctx, span := tracer.Start(ctx, "Controller.LoadCandidates")
	defer span.End()

	c.mu.Lock()
	if c.state.AccountID == "" {
		defer c.mu.Unlock()
		return c.snapshotLocked(), c.fail(&domain.ErrValidation{Field: "accountId", Message: "select an account"})
	}
	key := c.state.candidatesKey()
	c.state.CandidatesLoading = true
	c.mu.Unlock()

	candidates, err := c.ops.Candidates(ctx, service.CandidateQuery{
		AccountID:    key.accountID,
		AmountBucket: string(key.bucket),
		DateWindow:   string(key.window),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.candidatesKey() != key {
		return c.snapshotLocked(), c.discard("candidates")
	}
	c.state.CandidatesLoading = false
	if err != nil {
		return c.snapshotLocked(), c.fail(err)
	}
	c.state.Candidates = candidates
	c.state.LastError = ""
	return c.snapshotLocked(), nil
}

// SelectCandidate seeds the plan form with an eligible transaction's amount
// and opens the form.
func (c *Controller) SelectCandidate(transactionID string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.PlanFlow == PlanSubmitting {
		return c.snapshotLocked(), c.fail(errSubmitting)
	}
	for _, cand := range c.state.Candidates {
		if cand.ID != transactionID {
			continue
		}
		if !cand.Eligible {
			return c.snapshotLocked(), c.fail(&domain.ErrValidation{
				Field:   "sourceTransactionId",
				Message: "transaction is below the minimum eligible amount",
			})
		}
		c.state.SourceTransactionID = cand.ID
		c.state.Principal = cand.Amount
		if c.state.ProductName == "" {
			c.state.ProductName = cand.Merchant
		}
		c.state.PlanFlow = PlanFormOpen
		c.recomputeQuoteLocked()
		return c.snapshotLocked(), nil
	}
	return c.snapshotLocked(), c.fail(&domain.ErrNotFound{Resource: "candidate transaction", ID: transactionID})
}

// ---------------------------------------------------------------------------
// Plan form
// ---------------------------------------------------------------------------

var errSubmitting = &domain.ErrConflict{Message: "a submission is already in progress"}

// TermsUpdate carries the form fields that changed. Nil fields are kept.
type TermsUpdate struct {
	Principal          *decimal.Decimal `json:"principal,omitempty"`
	TenureMonths       *int             `json:"tenureMonths,omitempty"`
	InterestRateAnnual *decimal.Decimal `json:"interestRateAnnual,omitempty"`
	ProductName        *string          `json:"productName,omitempty"`
}

// UpdateTerms edits the form and recomputes the quote synchronously.
func (c *Controller) UpdateTerms(u TermsUpdate) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.PlanFlow == PlanSubmitting {
		return c.snapshotLocked(), c.fail(errSubmitting)
	}
	if u.Principal != nil {
		c.state.Principal = *u.Principal
		c.state.SourceTransactionID = ""
	}
	if u.TenureMonths != nil {
		c.state.TenureMonths = *u.TenureMonths
	}
	if u.InterestRateAnnual != nil {
		c.state.InterestRateAnnual = *u.InterestRateAnnual
	}
	if u.ProductName != nil {
		c.state.ProductName = *u.ProductName
	}
	c.state.Affordability = nil
	c.recomputeQuoteLocked()
	return c.snapshotLocked(), nil
}

// recomputeQuoteLocked refreshes the preview. A computation error is kept
// as text and the quote is cleared, never shown as a number.
func (c *Controller) recomputeQuoteLocked() {
	if !c.state.Principal.IsPositive() {
		c.state.Quote = nil
		c.state.QuoteError = ""
		return
	}
	q, err := c.ops.Quote(c.state.Principal, c.state.InterestRateAnnual, c.state.TenureMonths)
	if err != nil {
		c.state.Quote = nil
		c.state.QuoteError = domain.UserMessage(err)
		return
	}
	c.state.Quote = &q
	c.state.QuoteError = ""
}

// OpenPlanForm moves Idle to FormOpen.
func (c *Controller) OpenPlanForm() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.PlanFlow {
	case PlanSubmitting:
		return c.snapshotLocked(), c.fail(errSubmitting)
	case PlanIdle, PlanSuccess:
		c.state.PlanFlow = PlanFormOpen
		c.recomputeQuoteLocked()
	}
	return c.snapshotLocked(), nil
}

// ClosePlanForm abandons the form.
func (c *Controller) ClosePlanForm() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.PlanFlow == PlanSubmitting {
		return c.snapshotLocked(), c.fail(errSubmitting)
	}
	c.state.PlanFlow = PlanIdle
	return c.snapshotLocked(), nil
}

// SubmitPlan sends the form to the bank API. Validation failures never
// leave the BFA. On success the plan list is reloaded, because the created
// plan, not the local preview, is authoritative. On failure the form stays
// open with every value intact.
func (c *Controller) SubmitPlan(ctx context.Context) (State, error) {
	ctx, span := tracer.Start(ctx, "Controller.SubmitPlan")
	defer span.End()

	c.mu.Lock()
	switch c.state.PlanFlow {
	case PlanFormOpen:
	case PlanSubmitting:
		defer c.mu.Unlock()
		return c.snapshotLocked(), errSubmitting
	default:
		defer c.mu.Unlock()
		return c.snapshotLocked(), c.fail(&domain.ErrConflict{Message: "open the plan form first"})
	}

	req := domain.CreatePlanRequest{
		AccountID:          c.state.AccountID,
		ProductName:        c.state.ProductName,
		Principal:          c.state.Principal,
		InterestRateAnnual: c.state.InterestRateAnnual,
		TenureMonths:       c.state.TenureMonths,
	}
	if err := service.ValidatePlanRequest(req); err != nil {
		defer c.mu.Unlock()
		return c.snapshotLocked(), c.fail(err)
	}
	c.state.PlanFlow = PlanSubmitting
	c.state.LastError = ""
	c.mu.Unlock()

	plan, err := c.ops.CreatePlan(ctx, req)

	c.mu.Lock()
	if err != nil {
		c.fail(err)
		c.state.PlanFlow = PlanFormOpen
		defer c.mu.Unlock()
		return c.snapshotLocked(), err
	}
	c.state.LastCreatedPlanID = plan.ID
	c.state.SourceTransactionID = ""
	c.state.ProductName = ""
	c.state.Principal = decimal.Zero
	c.state.Quote = nil
	c.state.Affordability = nil
	c.state.Plans = nil
	c.state.Feed = nil
	c.state.PlanFlow = PlanIdle
	c.mu.Unlock()

	c.logger.Info("plan created from session", zap.String("plan_id", plan.ID))
	return c.refreshAfterMutation(ctx, "EMI plan created")
}

// refreshAfterMutation reloads the plan list and the upcoming feed, then
// posts notice. Failures here are logged; the mutation itself already
// succeeded.
func (c *Controller) refreshAfterMutation(ctx context.Context, notice string) (State, error) {
	if _, err := c.RefreshPlans(ctx); err != nil && !isStale(err) {
		c.logger.Warn("plan list refresh failed", zap.Error(err))
	}
	if _, err := c.LoadUpcoming(ctx); err != nil && !isStale(err) {
		c.logger.Warn("upcoming feed refresh failed", zap.Error(err))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastError = ""
	c.state.Notice = notice
	return c.snapshotLocked(), nil
}

func isStale(err error) bool {
	var stale *domain.ErrStaleResponse
	return errors.As(err, &stale)
}

// RefreshPlans reloads the first page of the plan list.
func (c *Controller) RefreshPlans(ctx context.Context) (State, error) {
	c.mu.Lock()
	c.plansGen++
	gen := c.plansGen
	c.mu.Unlock()

	page, err := c.ops.ListPlans(ctx, domain.PlanQuery{Page: 1, Limit: planListLimit})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.plansGen {
		return c.snapshotLocked(), c.discard("plans")
	}
	if err != nil {
		return c.snapshotLocked(), c.fail(err)
	}
	c.state.Plans = page.Plans
	return c.snapshotLocked(), nil
}

// CheckAffordability asks the AI service about the current terms. The
// answer is dropped if the terms changed while it was in flight.
func (c *Controller) CheckAffordability(ctx context.Context) (State, error) {
	c.mu.Lock()
	key := c.state.termsKey()
	req := domain.AffordabilityRequest{
		Principal:          c.state.Principal,
		TenureMonths:       c.state.TenureMonths,
		InterestRateAnnual: c.state.InterestRateAnnual,
		AccountID:          c.state.AccountID,
	}
	c.mu.Unlock()

	res, err := c.ops.CheckAffordability(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.termsKey() != key {
		return c.snapshotLocked(), c.discard("affordability")
	}
	if err != nil {
		c.state.Affordability = nil
		return c.snapshotLocked(), c.fail(err)
	}
	c.state.Affordability = res
	return c.snapshotLocked(), nil
}

// ---------------------------------------------------------------------------
// Schedule & payment
// ---------------------------------------------------------------------------

// OpenSchedule shows a plan's installments. Opening another plan before
// this one loaded supersedes it.
func (c *Controller) OpenSchedule(ctx context.Context, planID string) (State, error) {
	c.mu.Lock()
	if planID == "" {
		defer c.mu.Unlock()
		return c.snapshotLocked(), c.fail(&domain.ErrValidation{Field: "planId", Message: "is required"})
	}
	switch c.state.PayFlow {
	case PayScheduleClosed, PayScheduleOpen:
	default:
		defer c.mu.Unlock()
		return c.snapshotLocked(), c.fail(&domain.ErrConflict{Message: "close the payment dialog first"})
	}
	c.scheduleGen++
	gen := c.scheduleGen
	c.state.PayFlow = PayScheduleOpen
	c.state.SelectedPlanID = planID
	c.state.SelectedInstallmentID = ""
	c.state.Schedule = nil
	c.mu.Unlock()

	schedule, err := c.ops.GetSchedule(ctx, planID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.scheduleGen || c.state.SelectedPlanID != planID {
		return c.snapshotLocked(), c.discard("schedule")
	}
	if err != nil {
		return c.snapshotLocked(), c.fail(err)
	}
	c.state.Schedule = schedule
	return c.snapshotLocked(), nil
}

// CloseSchedule hides the schedule.
func (c *Controller) CloseSchedule() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.PayFlow == PaySubmitting {
		return c.snapshotLocked(), c.fail(errSubmitting)
	}
	c.scheduleGen++
	c.state.PayFlow = PayScheduleClosed
	c.state.SelectedPlanID = ""
	c.state.SelectedInstallmentID = ""
	c.state.Schedule = nil
	return c.snapshotLocked(), nil
}

// OpenPayDialog selects a pending installment of the open schedule.
func (c *Controller) OpenPayDialog(installmentID string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.PayFlow != PayScheduleOpen || c.state.Schedule == nil {
		return c.snapshotLocked(), c.fail(&domain.ErrConflict{Message: "open a schedule first"})
	}
	for _, inst := range c.state.Schedule.Installments {
		if inst.ID != installmentID {
			continue
		}
		if inst.Status == domain.InstallmentPaid {
			return c.snapshotLocked(), c.fail(&domain.ErrConflict{Message: "installment is already paid"})
		}
		c.state.SelectedInstallmentID = installmentID
		c.state.PayFlow = PayDialogOpen
		return c.snapshotLocked(), nil
	}
	return c.snapshotLocked(), c.fail(&domain.ErrNotFound{Resource: "installment", ID: installmentID})
}

// CancelPayDialog returns to the schedule.
func (c *Controller) CancelPayDialog() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.PayFlow {
	case PaySubmitting:
		return c.snapshotLocked(), c.fail(errSubmitting)
	case PayDialogOpen:
		c.state.PayFlow = PayScheduleOpen
		c.state.SelectedInstallmentID = ""
	}
	return c.snapshotLocked(), nil
}

// SubmitPayment pays the selected installment from the selected account.
// Success closes the schedule and reloads the views that show installment
// statuses; failure keeps the dialog open.
func (c *Controller) SubmitPayment(ctx context.Context) (State, error) {
	ctx, span := tracer.Start(ctx, "Controller.SubmitPayment")
	defer span.End()

	c.mu.Lock()
	switch c.state.PayFlow {
	case PayDialogOpen:
	case PaySubmitting:
		defer c.mu.Unlock()
		return c.snapshotLocked(), errSubmitting
	default:
		defer c.mu.Unlock()
		return c.snapshotLocked(), c.fail(&domain.ErrConflict{Message: "select an installment to pay first"})
	}
	if c.state.AccountID == "" {
		defer c.mu.Unlock()
		return c.snapshotLocked(), c.fail(&domain.ErrValidation{Field: "accountId", Message: "select an account"})
	}
	installmentID, accountID := c.state.SelectedInstallmentID, c.state.AccountID
	c.state.PayFlow = PaySubmitting
	c.state.LastError = ""
	c.mu.Unlock()

	plan, err := c.ops.PayInstallment(ctx, installmentID, accountID)

	c.mu.Lock()
	if err != nil {
		c.fail(err)
		c.state.PayFlow = PayDialogOpen
		defer c.mu.Unlock()
		return c.snapshotLocked(), err
	}
	c.scheduleGen++
	c.state.PayFlow = PayScheduleClosed
	c.state.SelectedPlanID = ""
	c.state.SelectedInstallmentID = ""
	c.state.Schedule = nil
	c.state.Plans = nil
	c.state.Feed = nil
	c.mu.Unlock()

	c.logger.Info("installment paid from session",
		zap.String("installment_id", installmentID),
		zap.String("plan_id", plan.ID),
	)
	return c.refreshAfterMutation(ctx, "Installment paid")
}

// ---------------------------------------------------------------------------
// Upcoming installments
// ---------------------------------------------------------------------------

// LoadUpcoming fetches the aggregated installment feed.
func (c *Controller) LoadUpcoming(ctx context.Context) (State, error) {
	c.mu.Lock()
	c.feedGen++
	gen := c.feedGen
	c.mu.Unlock()

	feed, err := c.ops.UpcomingInstallments(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.feedGen {
		return c.snapshotLocked(), c.discard("upcoming")
	}
	if err != nil {
		return c.snapshotLocked(), c.fail(err)
	}
	c.state.Feed = feed
	return c.snapshotLocked(), nil
}

// LeaveUpcoming is called when the user navigates away from the feed. Any
// load still in flight is discarded on arrival.
func (c *Controller) LeaveUpcoming() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedGen++
	c.state.Feed = nil
	return c.snapshotLocked()
}
