package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/emi"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"
	"github.com/boddenberg/emi-bfa-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/emi")

const (
	scheduleKeyPrefix = "schedule:"
	accountsKeyPrefix = "accounts:"
	planPageSize      = 100
)

// callerKey identifies the caller for cache keys: a digest of the forwarded
// Authorization header, so one caller never reads another's cached data.
func callerKey(ctx context.Context) string {
	auth := domain.AuthorizationFrom(ctx)
	if auth == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(auth))
	return hex.EncodeToString(sum[:16])
}

// accountsKey is accounts:<caller>:<status>.
func accountsKey(ctx context.Context, status string) string {
	return accountsKeyPrefix + callerKey(ctx) + ":" + status
}

// scheduleKey is schedule:<plan>:<caller>. The plan comes first so a
// payment can drop the plan's schedule for every caller.
func scheduleKey(ctx context.Context, planID string) string {
	return scheduleKeyPrefix + planID + ":" + callerKey(ctx)
}

// Options tunes the EMI service.
type Options struct {
	MinEligibleAmount    decimal.Decimal
	RemainderPolicy      emi.RemainderPolicy
	ScheduleFetchTimeout time.Duration
	MaxConcurrency       int
	Now                  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MinEligibleAmount.IsZero() {
		o.MinEligibleAmount = emi.DefaultMinEligibleAmount
	}
	if o.RemainderPolicy == nil {
		o.RemainderPolicy = emi.LastInstallmentAbsorbs{}
	}
	if o.ScheduleFetchTimeout <= 0 {
		o.ScheduleFetchTimeout = 5 * time.Second
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 8
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// EMIService wires the EMI engine to the bank API and the AI service. It is
// stateless apart from its caches; per-user state lives in the session layer.
type EMIService struct {
	bank      port.BankAPI
	ai        port.AffordabilityChecker
	accounts  port.Cache[[]domain.Account]
	schedules port.Cache[*domain.PlanSchedule]
	metrics   *observability.Metrics
	logger    *zap.Logger
	opts      Options
}

// NewEMIService creates the EMI service with all dependencies injected.
func NewEMIService(
	bank port.BankAPI,
	ai port.AffordabilityChecker,
	accounts port.Cache[[]domain.Account],
	schedules port.Cache[*domain.PlanSchedule],
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *EMIService {
	return &EMIService{
		bank:      bank,
		ai:        ai,
		accounts:  accounts,
		schedules: schedules,
		metrics:   metrics,
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// Now returns the service clock.
func (s *EMIService) Now() time.Time { return s.opts.Now() }

// MinEligibleAmount is the candidate threshold in effect.
func (s *EMIService) MinEligibleAmount() decimal.Decimal { return s.opts.MinEligibleAmount }

// ---------------------------------------------------------------------------
// Calculator
// ---------------------------------------------------------------------------

// Quote computes the EMI preview for the given terms.
func (s *EMIService) Quote(principal, rate decimal.Decimal, tenureMonths int) (domain.EMIQuote, error) {
	q, err := emi.Quote(principal, rate, tenureMonths)
	s.countCalculation(err)
	return q, err
}

// CompareTenures quotes the same terms across several tenures.
func (s *EMIService) CompareTenures(principal, rate decimal.Decimal, tenures []int) ([]domain.EMIQuote, error) {
	qs, err := emi.CompareTenures(principal, rate, tenures)
	s.countCalculation(err)
	return qs, err
}

// PreviewSchedule lays out the installments a plan with these terms would
// have. A zero firstDue means one month from today.
func (s *EMIService) PreviewSchedule(principal, rate decimal.Decimal, tenureMonths int, firstDue domain.Date) ([]domain.EMIInstallment, error) {
	if firstDue.IsZero() {
		firstDue = domain.NewDate(s.opts.Now()).AddMonths(1)
	}
	installments, err := emi.BuildSchedule("", principal, rate, tenureMonths, firstDue, s.opts.RemainderPolicy)
	s.countCalculation(err)
	return installments, err
}

func (s *EMIService) countCalculation(err error) {
	if err != nil {
		s.metrics.IncrCalculation("error")
		return
	}
	s.metrics.IncrCalculation("ok")
}

// ---------------------------------------------------------------------------
// Accounts & candidates
// ---------------------------------------------------------------------------

// ListAccounts returns the caller's accounts, cached per caller and status
// filter.
func (s *EMIService) ListAccounts(ctx context.Context, status string) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "EMIService.ListAccounts")
	defer span.End()

	cacheKey := accountsKey(ctx, status)
	if cached, ok := s.accounts.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("accounts")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("accounts")

	start := time.Now()
	accounts, err := s.bank.ListAccounts(ctx, status)
	s.metrics.RecordRequestDuration("bank.accounts", time.Since(start))
	if err != nil {
		s.externalError("accounts", err)
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	s.accounts.Set(cacheKey, accounts)
	return accounts, nil
}

// CandidateQuery selects which statement entries to classify.
type CandidateQuery struct {
	AccountID    string
	AmountBucket string
	DateWindow   string
	Page         int
	Limit        int
}

// Candidates fetches an account's statement, classifies every entry and
// applies the amount and date filters.
func (s *EMIService) Candidates(ctx context.Context, q CandidateQuery) ([]domain.CandidateTransaction, error) {
	if q.AccountID == "" {
		return nil, &domain.ErrValidation{Field: "accountId", Message: "select an account"}
	}
	bucket, err := emi.ParseAmountBucket(q.AmountBucket)
	if err != nil {
		return nil, err
	}
	window, err := emi.ParseDateWindow(q.DateWindow)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "EMIService.Candidates")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", q.AccountID),
		attribute.String("filter.amount", string(bucket)),
		attribute.String("filter.date", string(window)),
	)

	start := time.Now()
	page, err := s.bank.ListAccountTransactions(ctx, q.AccountID, domain.TransactionQuery{Page: q.Page, Limit: q.Limit})
	s.metrics.RecordRequestDuration("bank.transactions", time.Since(start))
	if err != nil {
		s.externalError("transactions", err)
		return nil, fmt.Errorf("listing transactions: %w", err)
	}

	candidates := emi.ClassifyTransactions(page.Transactions, s.opts.MinEligibleAmount)
	return emi.ApplyFilters(candidates, bucket, window, s.opts.Now()), nil
}

// ---------------------------------------------------------------------------
// Plans & schedules
// ---------------------------------------------------------------------------

// ListPlans returns one page of plans.
func (s *EMIService) ListPlans(ctx context.Context, q domain.PlanQuery) (*domain.PlanPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("unknown plan status %q", q.Status)}
	}
	if q.Page < 0 || q.Limit < 0 {
		return nil, &domain.ErrValidation{Field: "page", Message: "page and limit must not be negative"}
	}

	ctx, span := tracer.Start(ctx, "EMIService.ListPlans")
	defer span.End()

	start := time.Now()
	page, err := s.bank.ListPlans(ctx, q)
	s.metrics.RecordRequestDuration("bank.plans", time.Since(start))
	if err != nil {
		s.externalError("plans", err)
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	return page, nil
}

// GetSchedule returns a plan with its installments, from cache when fresh.
func (s *EMIService) GetSchedule(ctx context.Context, planID string) (*domain.PlanSchedule, error) {
	if planID == "" {
		return nil, &domain.ErrValidation{Field: "planId", Message: "is required"}
	}

	ctx, span := tracer.Start(ctx, "EMIService.GetSchedule")
	defer span.End()
	span.SetAttributes(attribute.String("plan.id", planID))

	cacheKey := scheduleKey(ctx, planID)
	if cached, ok := s.schedules.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("schedule")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("schedule")

	start := time.Now()
	schedule, err := s.bank.GetSchedule(ctx, planID)
	s.metrics.RecordRequestDuration("bank.schedule", time.Since(start))
	if err != nil {
		s.externalError("schedule", err)
		return nil, fmt.Errorf("fetching schedule %s: %w", planID, err)
	}
	s.schedules.Set(cacheKey, schedule)
	return schedule, nil
}

// UpcomingInstallments lists every plan, fetches all schedules concurrently
// and aggregates the installments inside the upcoming window. A slow or
// failed schedule never hides the rows of the others; the feed says which
// plans are missing instead.
func (s *EMIService) UpcomingInstallments(ctx context.Context) (*domain.UpcomingFeed, error) {
	ctx, span := tracer.Start(ctx, "EMIService.UpcomingInstallments")
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("upcoming", time.Since(start))
	}()

	plans, err := s.allPlans(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("plans.count", len(plans)))

	type outcome struct {
		schedule *domain.PlanSchedule
		err      error
	}
	results := make([]outcome, len(plans))

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrency)
	for i, plan := range plans {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, s.opts.ScheduleFetchTimeout)
			defer cancel()
			sched, err := s.GetSchedule(fetchCtx, plan.ID)
			results[i] = outcome{schedule: sched, err: err}
			// Errors are reported per plan, never abort the group.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feed := &domain.UpcomingFeed{Complete: true}
	resolved := make([]domain.PlanSchedule, 0, len(plans))
	for i, r := range results {
		switch {
		case r.err == nil:
			resolved = append(resolved, *r.schedule)
		case errors.Is(r.err, context.DeadlineExceeded):
			feed.Complete = false
			feed.LoadingPlanIDs = append(feed.LoadingPlanIDs, plans[i].ID)
		default:
			feed.Complete = false
			feed.FailedPlanIDs = append(feed.FailedPlanIDs, plans[i].ID)
			s.logger.Warn("schedule fetch failed",
				zap.String("plan_id", plans[i].ID),
				zap.Error(r.err),
			)
		}
	}
	feed.Rows = emi.AggregateUpcoming(resolved, s.opts.Now())

	if !feed.Complete {
		s.metrics.IncrIncompleteFeed()
	}
	return feed, nil
}

// allPlans walks every page of the plan list.
func (s *EMIService) allPlans(ctx context.Context) ([]domain.EMIPlan, error) {
	var plans []domain.EMIPlan
	for page := 1; ; page++ {
		p, err := s.ListPlans(ctx, domain.PlanQuery{Page: page, Limit: planPageSize})
		if err != nil {
			return nil, err
		}
		plans = append(plans, p.Plans...)
		if page >= p.Pagination.TotalPages || len(p.Plans) == 0 {
			return plans, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// ValidatePlanRequest checks a plan-creation request before it leaves the
// BFA.
func ValidatePlanRequest(req domain.CreatePlanRequest) error {
	if req.AccountID == "" {
		return &domain.ErrValidation{Field: "accountId", Message: "select an account"}
	}
	if !req.Principal.IsPositive() {
		return &domain.ErrValidation{Field: "principal", Message: "must be greater than zero"}
	}
	return emi.ValidateTerms(req.Principal, req.InterestRateAnnual, req.TenureMonths)
}

// CreatePlan submits a plan to the bank API. The returned plan is the
// server's and wins over any local preview.
func (s *EMIService) CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.EMIPlan, error) {
	if err := ValidatePlanRequest(req); err != nil {
		s.metrics.IncrPlanAction("create", "invalid")
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "EMIService.CreatePlan")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", req.AccountID),
		attribute.Int("tenure.months", req.TenureMonths),
	)

	start := time.Now()
	plan, err := s.bank.CreatePlan(ctx, req)
	s.metrics.RecordRequestDuration("bank.create_plan", time.Since(start))
	if err != nil {
		s.metrics.IncrPlanAction("create", "error")
		s.externalError("create_plan", err)
		return nil, fmt.Errorf("creating plan: %w", err)
	}
	s.metrics.IncrPlanAction("create", "ok")

	s.schedules.DeletePrefix(scheduleKeyPrefix)
	s.accounts.DeletePrefix(accountsKeyPrefix + callerKey(ctx) + ":")

	s.logger.Info("emi plan created",
		zap.String("plan_id", plan.ID),
		zap.String("account_id", plan.AccountID),
		zap.String("emi", plan.EMIAmount.StringFixed(2)),
	)
	return plan, nil
}

// PayInstallment pays one installment and drops the cached schedule of the
// affected plan so the next feed reflects the new status.
func (s *EMIService) PayInstallment(ctx context.Context, installmentID, accountID string) (*domain.EMIPlan, error) {
	if installmentID == "" {
		s.metrics.IncrPlanAction("pay", "invalid")
		return nil, &domain.ErrValidation{Field: "installmentId", Message: "is required"}
	}
	if accountID == "" {
		s.metrics.IncrPlanAction("pay", "invalid")
		return nil, &domain.ErrValidation{Field: "accountId", Message: "select an account"}
	}

	ctx, span := tracer.Start(ctx, "EMIService.PayInstallment")
	defer span.End()
	span.SetAttributes(attribute.String("installment.id", installmentID))

	start := time.Now()
	plan, err := s.bank.PayInstallment(ctx, installmentID, domain.PayInstallmentRequest{AccountID: accountID})
	s.metrics.RecordRequestDuration("bank.pay_installment", time.Since(start))
	if err != nil {
		s.metrics.IncrPlanAction("pay", "error")
		s.externalError("pay_installment", err)
		return nil, fmt.Errorf("paying installment: %w", err)
	}
	s.metrics.IncrPlanAction("pay", "ok")

	s.schedules.DeletePrefix(scheduleKeyPrefix + plan.ID + ":")
	s.accounts.DeletePrefix(accountsKeyPrefix)

	s.logger.Info("installment paid",
		zap.String("installment_id", installmentID),
		zap.String("plan_id", plan.ID),
		zap.String("plan_status", string(plan.Status)),
	)
	return plan, nil
}

// CheckAffordability passes the terms to the AI service and returns its
// opinion unchanged.
func (s *EMIService) CheckAffordability(ctx context.Context, req domain.AffordabilityRequest) (*domain.AffordabilityResult, error) {
	if !req.Principal.IsPositive() {
		return nil, &domain.ErrValidation{Field: "principal", Message: "must be greater than zero"}
	}
	if err := emi.ValidateTerms(req.Principal, req.InterestRateAnnual, req.TenureMonths); err != nil {
		return nil, err
	}
	if s.ai == nil {
		return nil, &domain.ErrExternalService{Service: "ai", Err: errors.New("affordability service not configured")}
	}

	ctx, span := tracer.Start(ctx, "EMIService.CheckAffordability")
	defer span.End()

	start := time.Now()
	res, err := s.ai.CheckAffordability(ctx, req)
	s.metrics.RecordRequestDuration("ai.affordability", time.Since(start))
	if err != nil {
		s.externalError("affordability", err)
		return nil, fmt.Errorf("affordability check: %w", err)
	}
	return res, nil
}

// externalError logs and counts a failed outbound call. Business rejections
// are logged at info: the remote service is healthy.
func (s *EMIService) externalError(op string, err error) {
	var rej *domain.ErrRemoteRejection
	if errors.As(err, &rej) {
		s.logger.Info("request rejected by bank API",
			zap.String("op", op),
			zap.Int("status", rej.StatusCode),
			zap.String("message", rej.Message),
		)
		return
	}
	s.metrics.IncrExternalError(op)
	s.logger.Error("external call failed", zap.String("op", op), zap.Error(err))
}
