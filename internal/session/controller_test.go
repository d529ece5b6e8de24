package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/emi"
	"github.com/boddenberg/emi-bfa-go/internal/infra/cache"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"
	"github.com/boddenberg/emi-bfa-go/internal/service"
	"github.com/boddenberg/emi-bfa-go/internal/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Fake operations ---

// gate blocks a fake call until released, signalling when it is entered.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gate) wait() {
	if g == nil {
		return
	}
	g.entered <- struct{}{}
	<-g.release
}

type fakeOps struct {
	mu sync.Mutex

	candidates map[string][]domain.CandidateTransaction
	slowAcct   string
	candGate   *gate

	plans      []domain.EMIPlan
	schedules  map[string]*domain.PlanSchedule
	feed       *domain.UpcomingFeed
	feedGate   *gate
	createPlan *domain.EMIPlan
	createErr  error
	createGate *gate
	payPlan    *domain.EMIPlan
	payErr     error
	aff        *domain.AffordabilityResult
	affGate    *gate

	createCalls atomic.Int32
	payCalls    atomic.Int32
	listCalls   atomic.Int32
}

func (f *fakeOps) Quote(p, r decimal.Decimal, n int) (domain.EMIQuote, error) {
	return emi.Quote(p, r, n)
}

func (f *fakeOps) Candidates(_ context.Context, q service.CandidateQuery) ([]domain.CandidateTransaction, error) {
	if q.AccountID == f.slowAcct {
		f.candGate.wait()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candidates[q.AccountID], nil
}

func (f *fakeOps) ListPlans(_ context.Context, _ domain.PlanQuery) (*domain.PlanPage, error) {
	f.listCalls.Add(1)
	return &domain.PlanPage{Plans: f.plans}, nil
}

func (f *fakeOps) GetSchedule(_ context.Context, planID string) (*domain.PlanSchedule, error) {
	s, ok := f.schedules[planID]
	if !ok {
		return nil, &domain.ErrRemoteRejection{Service: "bank", StatusCode: 404, Message: "EMI plan not found"}
	}
	return s, nil
}

func (f *fakeOps) UpcomingInstallments(_ context.Context) (*domain.UpcomingFeed, error) {
	f.feedGate.wait()
	return f.feed, nil
}

func (f *fakeOps) CreatePlan(_ context.Context, _ domain.CreatePlanRequest) (*domain.EMIPlan, error) {
	f.createCalls.Add(1)
	f.createGate.wait()
	return f.createPlan, f.createErr
}

func (f *fakeOps) PayInstallment(_ context.Context, _, _ string) (*domain.EMIPlan, error) {
	f.payCalls.Add(1)
	return f.payPlan, f.payErr
}

func (f *fakeOps) CheckAffordability(_ context.Context, _ domain.AffordabilityRequest) (*domain.AffordabilityResult, error) {
	f.affGate.wait()
	return f.aff, nil
}

// --- Helpers ---

var now = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newController(ops *fakeOps) (*session.Controller, *observability.Metrics) {
	metrics := observability.NewMetrics()
	c := session.NewController("s-1", ops, session.Defaults{TenureMonths: 6, InterestRateAnnual: d("14")}, metrics, zap.NewNop(), func() time.Time { return now })
	return c, metrics
}

func ptr[T any](v T) *T { return &v }

func sampleSchedule() *domain.PlanSchedule {
	paidAt := now.AddDate(0, -1, 0)
	return &domain.PlanSchedule{
		Plan: domain.EMIPlan{ID: "p1", Status: domain.PlanActive},
		Installments: []domain.EMIInstallment{
			{ID: "i1", PlanID: "p1", InstallmentNumber: 1, Status: domain.InstallmentPaid, PaidAt: &paidAt},
			{ID: "i2", PlanID: "p1", InstallmentNumber: 2, Status: domain.InstallmentPending},
		},
	}
}

// --- Tests ---

func TestNewController_Defaults(t *testing.T) {
	c, _ := newController(&fakeOps{})
	s := c.Snapshot()

	assert.Equal(t, "s-1", s.ID)
	assert.Equal(t, session.PlanIdle, s.PlanFlow)
	assert.Equal(t, session.PayScheduleClosed, s.PayFlow)
	assert.Equal(t, emi.AmountAll, s.AmountBucket)
	assert.Equal(t, emi.WindowAll, s.DateWindow)
	assert.Equal(t, 6, s.TenureMonths)
}

func TestSelectCandidate_SeedsForm(t *testing.T) {
	ops := &fakeOps{candidates: map[string][]domain.CandidateTransaction{
		"acc-1": {
			{ID: "t1", Merchant: "Croma", Amount: d("45000"), Eligible: true},
			{ID: "t2", Merchant: "Cafe", Amount: d("500"), Eligible: false},
		},
	}}
	c, _ := newController(ops)

	s, err := c.SelectAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, s.Candidates, 2)

	_, err = c.SelectCandidate("t2")
	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)

	s, err = c.SelectCandidate("t1")
	require.NoError(t, err)
	assert.Equal(t, session.PlanFormOpen, s.PlanFlow)
	assert.Equal(t, "t1", s.SourceTransactionID)
	assert.Equal(t, "Croma", s.ProductName)
	require.NotNil(t, s.Quote)
	assert.Equal(t, "7809.21", s.Quote.EMI.StringFixed(2))
}

func TestLoadCandidates_StaleResponseDiscarded(t *testing.T) {
	ops := &fakeOps{
		slowAcct: "acc-slow",
		candGate: newGate(),
		candidates: map[string][]domain.CandidateTransaction{
			"acc-slow": {{ID: "old"}},
			"acc-2":    {{ID: "new"}},
		},
	}
	c, metrics := newController(ops)

	var slowErr error
	done := make(chan struct{})
	go func() {
		_, slowErr = c.SelectAccount(context.Background(), "acc-slow")
		close(done)
	}()
	<-ops.candGate.entered

	s, err := c.SelectAccount(context.Background(), "acc-2")
	require.NoError(t, err)
	require.Len(t, s.Candidates, 1)

	close(ops.candGate.release)
	<-done

	var stale *domain.ErrStaleResponse
	require.ErrorAs(t, slowErr, &stale)
	s = c.Snapshot()
	assert.Equal(t, "acc-2", s.AccountID)
	require.Len(t, s.Candidates, 1)
	assert.Equal(t, "new", s.Candidates[0].ID)
	assert.Equal(t, float64(1), metrics.Snapshot().StaleDiscarded)
}

func TestSetFilters_Validation(t *testing.T) {
	c, _ := newController(&fakeOps{})

	_, err := c.SetFilters(context.Background(), "enormous", "")
	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, c.Snapshot().LastError)

	_, err = c.SetFilters(context.Background(), "high", "week")
	require.ErrorAs(t, err, &verr, "no account selected yet")
	s := c.Snapshot()
	assert.Equal(t, emi.AmountHigh, s.AmountBucket)
	assert.Equal(t, emi.WindowWeek, s.DateWindow)
}

func TestMissingSelections_SetLastError(t *testing.T) {
	ops := &fakeOps{}
	c, _ := newController(ops)

	state, err := c.SelectAccount(context.Background(), "")
	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, state.LastError, "accountId")
	assert.Empty(t, state.AccountID)

	c.DismissMessages()
	state, err = c.OpenSchedule(context.Background(), "")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, state.LastError, "planId")
	assert.Equal(t, session.PayScheduleClosed, state.PayFlow)
}

func TestUpdateTerms_ComputationErrorIsNotANumber(t *testing.T) {
	c, _ := newController(&fakeOps{})

	s, err := c.UpdateTerms(session.TermsUpdate{Principal: ptr(d("100000")), TenureMonths: ptr(12), InterestRateAnnual: ptr(d("12"))})
	require.NoError(t, err)
	require.NotNil(t, s.Quote)
	assert.Equal(t, "8884.88", s.Quote.EMI.StringFixed(2))

	s, err = c.UpdateTerms(session.TermsUpdate{TenureMonths: ptr(0)})
	require.NoError(t, err)
	assert.Nil(t, s.Quote)
	assert.NotEmpty(t, s.QuoteError)
}

func TestSubmitPlan_ValidationBlocksSubmission(t *testing.T) {
	ops := &fakeOps{}
	c, _ := newController(ops)

	_, err := c.OpenPlanForm()
	require.NoError(t, err)
	_, _ = c.UpdateTerms(session.TermsUpdate{Principal: ptr(d("45000"))})

	s, err := c.SubmitPlan(context.Background())
	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "accountId", verr.Field)
	assert.Equal(t, session.PlanFormOpen, s.PlanFlow)
	assert.NotEmpty(t, s.LastError)
	assert.Equal(t, int32(0), ops.createCalls.Load())
}

func TestSubmitPlan_NoDoubleSubmit(t *testing.T) {
	ops := &fakeOps{
		createGate: newGate(),
		createPlan: &domain.EMIPlan{ID: "p-new", EMIAmount: d("7810.00")},
		plans:      []domain.EMIPlan{{ID: "p-new"}},
		feed:       &domain.UpcomingFeed{Complete: true},
		candidates: map[string][]domain.CandidateTransaction{},
	}
	c, _ := newController(ops)
	_, _ = c.SelectAccount(context.Background(), "acc-1")
	_, _ = c.OpenPlanForm()
	_, _ = c.UpdateTerms(session.TermsUpdate{Principal: ptr(d("45000")), ProductName: ptr("TV")})

	var first session.State
	var firstErr error
	done := make(chan struct{})
	go func() {
		first, firstErr = c.SubmitPlan(context.Background())
		close(done)
	}()
	<-ops.createGate.entered

	s, err := c.SubmitPlan(context.Background())
	var conflict *domain.ErrConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, session.PlanSubmitting, s.PlanFlow)

	_, err = c.UpdateTerms(session.TermsUpdate{Principal: ptr(d("1"))})
	require.ErrorAs(t, err, &conflict)

	close(ops.createGate.release)
	<-done

	require.NoError(t, firstErr)
	assert.Equal(t, int32(1), ops.createCalls.Load())
	assert.Equal(t, session.PlanIdle, first.PlanFlow)
	assert.Equal(t, "p-new", first.LastCreatedPlanID)
	assert.Equal(t, "EMI plan created", first.Notice)
	assert.Empty(t, first.LastError)
	assert.Len(t, first.Plans, 1, "plan list reloaded from the bank")
	assert.NotNil(t, first.Feed)
	assert.Equal(t, int32(1), ops.listCalls.Load())
}

func TestSubmitPlan_FailureKeepsForm(t *testing.T) {
	ops := &fakeOps{
		createErr:  &domain.ErrRemoteRejection{Service: "bank", StatusCode: 422, Message: "Credit limit exceeded"},
		candidates: map[string][]domain.CandidateTransaction{},
	}
	c, _ := newController(ops)
	_, _ = c.SelectAccount(context.Background(), "acc-1")
	_, _ = c.OpenPlanForm()
	_, _ = c.UpdateTerms(session.TermsUpdate{Principal: ptr(d("45000")), TenureMonths: ptr(12), ProductName: ptr("TV")})

	s, err := c.SubmitPlan(context.Background())
	require.Error(t, err)
	assert.Equal(t, session.PlanFormOpen, s.PlanFlow)
	assert.Equal(t, "Credit limit exceeded", s.LastError)
	assert.Equal(t, "45000", s.Principal.String())
	assert.Equal(t, 12, s.TenureMonths)
	assert.Equal(t, "TV", s.ProductName)
	assert.Empty(t, s.LastCreatedPlanID)
}

func TestSubmitPlan_TransportFailureIsNormalized(t *testing.T) {
	ops := &fakeOps{
		createErr:  &domain.ErrExternalService{Service: "bank", Err: context.DeadlineExceeded},
		candidates: map[string][]domain.CandidateTransaction{},
	}
	c, _ := newController(ops)
	_, _ = c.SelectAccount(context.Background(), "acc-1")
	_, _ = c.OpenPlanForm()
	_, _ = c.UpdateTerms(session.TermsUpdate{Principal: ptr(d("45000"))})

	s, err := c.SubmitPlan(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.UnknownErrorMessage, s.LastError)
}

func TestPayFlow_Success(t *testing.T) {
	ops := &fakeOps{
		schedules:  map[string]*domain.PlanSchedule{"p1": sampleSchedule()},
		payPlan:    &domain.EMIPlan{ID: "p1", Status: domain.PlanActive},
		feed:       &domain.UpcomingFeed{Complete: true},
		candidates: map[string][]domain.CandidateTransaction{},
	}
	c, _ := newController(ops)

	s, err := c.OpenSchedule(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, session.PayScheduleOpen, s.PayFlow)
	require.NotNil(t, s.Schedule)

	_, err = c.OpenPayDialog("i1")
	var conflict *domain.ErrConflict
	require.ErrorAs(t, err, &conflict, "already paid")

	s, err = c.OpenPayDialog("i2")
	require.NoError(t, err)
	assert.Equal(t, session.PayDialogOpen, s.PayFlow)

	s, err = c.SubmitPayment(context.Background())
	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, session.PayDialogOpen, s.PayFlow)
	assert.Equal(t, int32(0), ops.payCalls.Load())

	_, _ = c.SelectAccount(context.Background(), "acc-1")
	s, err = c.SubmitPayment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.PayScheduleClosed, s.PayFlow)
	assert.Nil(t, s.Schedule)
	assert.Equal(t, "Installment paid", s.Notice)
	assert.NotNil(t, s.Feed)
}

func TestPayFlow_FailureReturnsToDialog(t *testing.T) {
	ops := &fakeOps{
		schedules:  map[string]*domain.PlanSchedule{"p1": sampleSchedule()},
		payErr:     &domain.ErrRemoteRejection{Service: "bank", StatusCode: 422, Message: "Insufficient balance"},
		candidates: map[string][]domain.CandidateTransaction{},
	}
	c, _ := newController(ops)
	_, _ = c.SelectAccount(context.Background(), "acc-1")
	_, _ = c.OpenSchedule(context.Background(), "p1")
	_, _ = c.OpenPayDialog("i2")

	s, err := c.SubmitPayment(context.Background())
	require.Error(t, err)
	assert.Equal(t, session.PayDialogOpen, s.PayFlow)
	assert.Equal(t, "i2", s.SelectedInstallmentID)
	assert.Equal(t, "Insufficient balance", s.LastError)

	s, err = c.CancelPayDialog()
	require.NoError(t, err)
	assert.Equal(t, session.PayScheduleOpen, s.PayFlow)

	s, err = c.CloseSchedule()
	require.NoError(t, err)
	assert.Equal(t, session.PayScheduleClosed, s.PayFlow)
}

func TestCheckAffordability_DiscardedWhenTermsChange(t *testing.T) {
	ops := &fakeOps{affGate: newGate(), aff: &domain.AffordabilityResult{Affordable: true}}
	c, metrics := newController(ops)
	_, _ = c.UpdateTerms(session.TermsUpdate{Principal: ptr(d("45000"))})

	var affErr error
	done := make(chan struct{})
	go func() {
		_, affErr = c.CheckAffordability(context.Background())
		close(done)
	}()
	<-ops.affGate.entered

	_, err := c.UpdateTerms(session.TermsUpdate{Principal: ptr(d("60000"))})
	require.NoError(t, err)
	close(ops.affGate.release)
	<-done

	var stale *domain.ErrStaleResponse
	require.ErrorAs(t, affErr, &stale)
	assert.Nil(t, c.Snapshot().Affordability)
	assert.Equal(t, float64(1), metrics.Snapshot().StaleDiscarded)
}

func TestLeaveUpcoming_DiscardsInFlightFeed(t *testing.T) {
	ops := &fakeOps{feedGate: newGate(), feed: &domain.UpcomingFeed{Complete: true}}
	c, _ := newController(ops)

	var feedErr error
	done := make(chan struct{})
	go func() {
		_, feedErr = c.LoadUpcoming(context.Background())
		close(done)
	}()
	<-ops.feedGate.entered

	c.LeaveUpcoming()
	close(ops.feedGate.release)
	<-done

	var stale *domain.ErrStaleResponse
	require.ErrorAs(t, feedErr, &stale)
	assert.Nil(t, c.Snapshot().Feed)
}

func TestStore_Lifecycle(t *testing.T) {
	sessions := cache.New[*session.Controller](time.Minute)
	defer sessions.Close()
	metrics := observability.NewMetrics()
	store := session.NewStore(sessions, &fakeOps{}, session.Defaults{TenureMonths: 6}, metrics, zap.NewNop(), nil)

	c := store.Create()
	id := c.Snapshot().ID
	assert.NotEmpty(t, id)
	assert.Equal(t, float64(1), metrics.Snapshot().ActiveSessions)

	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Same(t, c, got)

	store.Delete(id)
	_, err = store.Get(id)
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, float64(0), metrics.Snapshot().ActiveSessions)
}
