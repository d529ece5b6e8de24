package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BankClient talks to the bank API's accounts and EMI endpoints.
type BankClient struct {
	api *envelopeClient
}

// NewBankClient creates a new BankClient.
func NewBankClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *BankClient {
	return &BankClient{api: newEnvelopeClient("bank", httpClient, baseURL, cb, cfg, logger)}
}

// ListAccounts returns the caller's accounts, optionally filtered by status.
func (c *BankClient) ListAccounts(ctx context.Context, status string) ([]domain.Account, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}

	var accounts []domain.Account
	err := c.api.call(ctx, request{
		op:     "ListAccounts",
		method: http.MethodGet,
		path:   "/accounts",
		query:  q,
		retry:  true,
	}, &accounts)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListAccountTransactions returns one page of an account statement.
func (c *BankClient) ListAccountTransactions(ctx context.Context, accountID string, tq domain.TransactionQuery) (*domain.TransactionPage, error) {
	q := url.Values{}
	if tq.Page > 0 {
		q.Set("page", strconv.Itoa(tq.Page))
	}
	if tq.Limit > 0 {
		q.Set("limit", strconv.Itoa(tq.Limit))
	}

	var page domain.TransactionPage
	err := c.api.call(ctx, request{
		op:     "ListAccountTransactions",
		method: http.MethodGet,
		path:   "/accounts/" + url.PathEscape(accountID) + "/transactions",
		query:  q,
		retry:  true,
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// ListPlans returns one page of the caller's EMI plans.
func (c *BankClient) ListPlans(ctx context.Context, pq domain.PlanQuery) (*domain.PlanPage, error) {
	q := url.Values{}
	if pq.Page > 0 {
		q.Set("page", strconv.Itoa(pq.Page))
	}
	if pq.Limit > 0 {
		q.Set("limit", strconv.Itoa(pq.Limit))
	}
	if pq.Status != "" {
		q.Set("status", string(pq.Status))
	}

	var page domain.PlanPage
	err := c.api.call(ctx, request{
		op:     "ListPlans",
		method: http.MethodGet,
		path:   "/emi/plans",
		query:  q,
		retry:  true,
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// GetSchedule returns a plan together with all of its installments.
func (c *BankClient) GetSchedule(ctx context.Context, planID string) (*domain.PlanSchedule, error) {
	var schedule domain.PlanSchedule
	err := c.api.call(ctx, request{
		op:     "GetSchedule",
		method: http.MethodGet,
		path:   "/emi/plans/" + url.PathEscape(planID) + "/schedule",
		retry:  true,
	}, &schedule)
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// CreatePlan submits a new plan. Never retried.
func (c *BankClient) CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.EMIPlan, error) {
	var plan domain.EMIPlan
	err := c.api.call(ctx, request{
		op:     "CreatePlan",
		method: http.MethodPost,
		path:   "/emi/plans",
		body:   req,
	}, &plan)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// PayInstallment pays one installment from the given account. Never retried.
func (c *BankClient) PayInstallment(ctx context.Context, installmentID string, req domain.PayInstallmentRequest) (*domain.EMIPlan, error) {
	var plan domain.EMIPlan
	err := c.api.call(ctx, request{
		op:     "PayInstallment",
		method: http.MethodPost,
		path:   "/emi/installments/" + url.PathEscape(installmentID) + "/pay",
		body:   req,
	}, &plan)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
