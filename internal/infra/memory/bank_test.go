package memory_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/infra/memory"
	"github.com/boddenberg/emi-bfa-go/internal/port"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ port.BankAPI = (*memory.Bank)(nil)

func fixedNow() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }

func newBank() *memory.Bank {
	b := memory.NewBank(fixedNow, nil)
	b.AddAccount(domain.Account{ID: "acc-1", Balance: decimal.NewFromInt(200000), Currency: "INR", Status: domain.AccountStatusActive})
	b.AddAccount(domain.Account{ID: "acc-poor", Balance: decimal.NewFromInt(10), Currency: "INR", Status: domain.AccountStatusActive})
	return b
}

func createPlan(t *testing.T, b *memory.Bank) *domain.EMIPlan {
	t.Helper()
	plan, err := b.CreatePlan(context.Background(), domain.CreatePlanRequest{
		AccountID:          "acc-1",
		Principal:          decimal.NewFromInt(100000),
		InterestRateAnnual: decimal.NewFromInt(12),
		TenureMonths:       12,
	})
	require.NoError(t, err)
	return plan
}

func rejectionStatus(t *testing.T, err error) int {
	t.Helper()
	var rej *domain.ErrRemoteRejection
	require.ErrorAs(t, err, &rej)
	return rej.StatusCode
}

func TestCreatePlan_BuildsSchedule(t *testing.T) {
	b := newBank()
	plan := createPlan(t, b)

	assert.Equal(t, domain.PlanActive, plan.Status)
	assert.Equal(t, "8884.88", plan.EMIAmount.StringFixed(2))
	assert.Equal(t, domain.DefaultPlanName, plan.DisplayName())
	require.NotNil(t, plan.NextDueDate)
	assert.Equal(t, "2026-11-15", plan.NextDueDate.String())
	assert.Equal(t, "2027-10-15", plan.EndDate.String())

	s, err := b.GetSchedule(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Len(t, s.Installments, 12)
	assert.Equal(t, "8884.85", s.Installments[11].Amount.StringFixed(2))
	for i, inst := range s.Installments {
		assert.Equal(t, i+1, inst.InstallmentNumber)
		assert.NotEmpty(t, inst.ID)
		assert.Equal(t, domain.InstallmentPending, inst.Status)
	}
}

func TestCreatePlan_Rejections(t *testing.T) {
	b := newBank()
	b.AddAccount(domain.Account{ID: "acc-frozen", Status: "FROZEN"})

	_, err := b.CreatePlan(context.Background(), domain.CreatePlanRequest{AccountID: "acc-1", Principal: decimal.Zero, InterestRateAnnual: decimal.NewFromInt(12), TenureMonths: 6})
	assert.Equal(t, http.StatusBadRequest, rejectionStatus(t, err))

	_, err = b.CreatePlan(context.Background(), domain.CreatePlanRequest{AccountID: "nope", Principal: decimal.NewFromInt(5000), InterestRateAnnual: decimal.NewFromInt(12), TenureMonths: 6})
	assert.Equal(t, http.StatusNotFound, rejectionStatus(t, err))

	_, err = b.CreatePlan(context.Background(), domain.CreatePlanRequest{AccountID: "acc-frozen", Principal: decimal.NewFromInt(5000), InterestRateAnnual: decimal.NewFromInt(12), TenureMonths: 6})
	assert.Equal(t, http.StatusUnprocessableEntity, rejectionStatus(t, err))
}

func TestPayInstallment_MarksPaidAndDebits(t *testing.T) {
	b := newBank()
	plan := createPlan(t, b)
	s, _ := b.GetSchedule(context.Background(), plan.ID)
	first := s.Installments[0]

	updated, err := b.PayInstallment(context.Background(), first.ID, domain.PayInstallmentRequest{AccountID: "acc-1"})
	require.NoError(t, err)
	require.NotNil(t, updated.NextDueDate)
	assert.Equal(t, "2026-12-15", updated.NextDueDate.String())

	s, _ = b.GetSchedule(context.Background(), plan.ID)
	assert.Equal(t, domain.InstallmentPaid, s.Installments[0].Status)
	require.NotNil(t, s.Installments[0].PaidAt)

	accounts, _ := b.ListAccounts(context.Background(), "")
	assert.Equal(t, "191115.12", accounts[0].Balance.StringFixed(2))

	_, err = b.PayInstallment(context.Background(), first.ID, domain.PayInstallmentRequest{AccountID: "acc-1"})
	assert.Equal(t, http.StatusConflict, rejectionStatus(t, err))
}

func TestPayInstallment_InsufficientBalance(t *testing.T) {
	b := newBank()
	plan := createPlan(t, b)
	s, _ := b.GetSchedule(context.Background(), plan.ID)

	_, err := b.PayInstallment(context.Background(), s.Installments[0].ID, domain.PayInstallmentRequest{AccountID: "acc-poor"})
	assert.Equal(t, http.StatusUnprocessableEntity, rejectionStatus(t, err))
}

func TestPayInstallment_LastCompletesPlan(t *testing.T) {
	b := newBank()
	plan, err := b.CreatePlan(context.Background(), domain.CreatePlanRequest{
		AccountID: "acc-1", Principal: decimal.NewFromInt(3000), InterestRateAnnual: decimal.Zero, TenureMonths: 2,
	})
	require.NoError(t, err)
	s, _ := b.GetSchedule(context.Background(), plan.ID)

	for _, inst := range s.Installments {
		plan, err = b.PayInstallment(context.Background(), inst.ID, domain.PayInstallmentRequest{AccountID: "acc-1"})
		require.NoError(t, err)
	}
	assert.Equal(t, domain.PlanCompleted, plan.Status)
	assert.Nil(t, plan.NextDueDate)
}

func TestListPlans_FilterAndPaginate(t *testing.T) {
	b := newBank()
	for i := 0; i < 3; i++ {
		createPlan(t, b)
	}

	page, err := b.ListPlans(context.Background(), domain.PlanQuery{Page: 2, Limit: 2, Status: domain.PlanActive})
	require.NoError(t, err)
	assert.Len(t, page.Plans, 1)
	assert.Equal(t, domain.Pagination{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)

	page, err = b.ListPlans(context.Background(), domain.PlanQuery{Status: domain.PlanCompleted})
	require.NoError(t, err)
	assert.Empty(t, page.Plans)

	_, err = b.ListPlans(context.Background(), domain.PlanQuery{Status: "BOGUS"})
	assert.Equal(t, http.StatusBadRequest, rejectionStatus(t, err))
}

func TestGetSchedule_NotFound(t *testing.T) {
	_, err := newBank().GetSchedule(context.Background(), "missing")
	assert.Equal(t, http.StatusNotFound, rejectionStatus(t, err))
}

func TestSeed(t *testing.T) {
	b := memory.NewBank(fixedNow, nil)
	b.Seed()

	active, err := b.ListAccounts(context.Background(), domain.AccountStatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	txs, err := b.ListAccountTransactions(context.Background(), "acc-savings", domain.TransactionQuery{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, txs.Transactions, 6)
	assert.Equal(t, "tx-1001", txs.Transactions[0].ID)

	page, err := b.ListPlans(context.Background(), domain.PlanQuery{})
	require.NoError(t, err)
	require.Len(t, page.Plans, 1)

	s, err := b.GetSchedule(context.Background(), page.Plans[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentPaid, s.Installments[0].Status)
	assert.Equal(t, domain.InstallmentPending, s.Installments[len(s.Installments)-1].Status)
}
