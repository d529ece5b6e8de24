package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/handler"
	"github.com/boddenberg/emi-bfa-go/internal/infra/cache"
	"github.com/boddenberg/emi-bfa-go/internal/infra/client"
	"github.com/boddenberg/emi-bfa-go/internal/infra/memory"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"
	"github.com/boddenberg/emi-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/emi-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// bankAPIServer exposes a memory.Bank over the bank API's envelope protocol.
func bankAPIServer(t *testing.T, bank *memory.Bank, authSeen *string) *httptest.Server {
	t.Helper()

	reply := func(w http.ResponseWriter, data any, err error) {
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			var rej *domain.ErrRemoteRejection
			status := http.StatusInternalServerError
			if errors.As(err, &rej) {
				status = rej.StatusCode
			}
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
	}
	intParam := func(r *http.Request, key string) int {
		n, _ := strconv.Atoi(r.URL.Query().Get(key))
		return n
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authSeen != nil && r.Header.Get("Authorization") != "" {
				*authSeen = r.Header.Get("Authorization")
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/accounts", func(w http.ResponseWriter, r *http.Request) {
		accounts, err := bank.ListAccounts(r.Context(), r.URL.Query().Get("status"))
		reply(w, accounts, err)
	})
	r.Get("/accounts/{id}/transactions", func(w http.ResponseWriter, r *http.Request) {
		page, err := bank.ListAccountTransactions(r.Context(), chi.URLParam(r, "id"),
			domain.TransactionQuery{Page: intParam(r, "page"), Limit: intParam(r, "limit")})
		reply(w, page, err)
	})
	r.Get("/emi/plans", func(w http.ResponseWriter, r *http.Request) {
		page, err := bank.ListPlans(r.Context(), domain.PlanQuery{
			Page:   intParam(r, "page"),
			Limit:  intParam(r, "limit"),
			Status: domain.PlanStatus(r.URL.Query().Get("status")),
		})
		reply(w, page, err)
	})
	r.Post("/emi/plans", func(w http.ResponseWriter, r *http.Request) {
		var req domain.CreatePlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		plan, err := bank.CreatePlan(r.Context(), req)
		reply(w, plan, err)
	})
	r.Get("/emi/plans/{id}/schedule", func(w http.ResponseWriter, r *http.Request) {
		schedule, err := bank.GetSchedule(r.Context(), chi.URLParam(r, "id"))
		reply(w, schedule, err)
	})
	r.Post("/emi/installments/{id}/pay", func(w http.ResponseWriter, r *http.Request) {
		var req domain.PayInstallmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		plan, err := bank.PayInstallment(r.Context(), chi.URLParam(r, "id"), req)
		reply(w, plan, err)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newIntegrationRouter(t *testing.T, bankURL string) http.Handler {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	accounts := cache.New[[]domain.Account](time.Minute)
	schedules := cache.New[*domain.PlanSchedule](time.Minute)
	t.Cleanup(func() {
		accounts.Close()
		schedules.Close()
	})

	bankClient := client.NewBankClient(httpClient, bankURL, resilience.NewCircuitBreaker("bank-integration"), cfg, logger)
	svc := service.NewEMIService(bankClient, nil, accounts, schedules, metrics, logger, service.Options{Now: clock})

	return handler.NewRouter(handler.RouterDeps{EMI: svc, Metrics: metrics, Logger: logger})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer integration-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

// TestIntegration_CreateThenPay creates a plan through the HTTP bank client,
// checks the generated schedule and pays the first installment.
func TestIntegration_CreateThenPay(t *testing.T) {
	bank := memory.NewBank(func() time.Time { return fixedNow }, nil)
	bank.Seed()
	var authSeen string
	srv := bankAPIServer(t, bank, &authSeen)
	router := newIntegrationRouter(t, srv.URL)

	// --- Create ---
	rec, env := doJSON(t, router, http.MethodPost, "/v1/emi/plans", map[string]any{
		"accountId":          "acc-savings",
		"productName":        "Sofa",
		"principal":          100000,
		"interestRateAnnual": 12,
		"tenureMonths":       12,
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	assert.Equal(t, "Bearer integration-token", authSeen)

	var plan domain.EMIPlan
	require.NoError(t, json.Unmarshal(env.Data, &plan))
	assert.Equal(t, "8884.88", plan.EMIAmount.StringFixed(2))

	// --- Schedule ---
	rec, env = doJSON(t, router, http.MethodGet, "/v1/emi/plans/"+plan.ID+"/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)

	var schedule domain.PlanSchedule
	require.NoError(t, json.Unmarshal(env.Data, &schedule))
	require.Len(t, schedule.Installments, 12)

	firstDue := domain.DateOf(2026, time.November, 16)
	for i, inst := range schedule.Installments {
		assert.Equal(t, i+1, inst.InstallmentNumber)
		assert.Equal(t, domain.InstallmentPending, inst.Status)
		assert.Nil(t, inst.PaidAt)
		assert.Equal(t, firstDue.AddMonths(i).String(), inst.DueDate.String(), "installment %d", i+1)
	}

	// --- Pay #1 ---
	first := schedule.Installments[0]
	rec, env = doJSON(t, router, http.MethodPost, "/v1/emi/installments/"+first.ID+"/pay",
		map[string]string{"accountId": "acc-savings"})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)

	rec, env = doJSON(t, router, http.MethodGet, "/v1/emi/plans/"+plan.ID+"/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &schedule))

	for _, inst := range schedule.Installments {
		if inst.ID == first.ID {
			assert.Equal(t, domain.InstallmentPaid, inst.Status)
			assert.NotNil(t, inst.PaidAt)
			continue
		}
		assert.Equal(t, domain.InstallmentPending, inst.Status, "installment %d", inst.InstallmentNumber)
	}

	// --- Paying again is refused with the bank's message ---
	rec, env = doJSON(t, router, http.MethodPost, "/v1/emi/installments/"+first.ID+"/pay",
		map[string]string{"accountId": "acc-savings"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.NotEqual(t, domain.UnknownErrorMessage, env.Message)

	// --- Feed shows both plans ---
	rec, env = doJSON(t, router, http.MethodGet, "/v1/emi/upcoming", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed domain.UpcomingFeed
	require.NoError(t, json.Unmarshal(env.Data, &feed))
	assert.True(t, feed.Complete)
	assert.Len(t, feed.Rows, 24)
	for i := 1; i < len(feed.Rows); i++ {
		assert.False(t, feed.Rows[i].DueDate.Before(feed.Rows[i-1].DueDate), "feed must be sorted by due date")
	}
}

// TestIntegration_BankUnavailable checks that a failing bank surfaces as the
// generic message rather than the transport error.
func TestIntegration_BankUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	router := newIntegrationRouter(t, srv.URL)

	rec, env := doJSON(t, router, http.MethodGet, "/v1/emi/plans", nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, domain.UnknownErrorMessage, env.Message)
}
