package handler

import (
	"net/http"

	"github.com/boddenberg/emi-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Accounts Handlers
// ============================================================

func listAccountsHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts")
		defer span.End()

		accounts, err := svc.ListAccounts(ctx, r.URL.Query().Get("status"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, accounts)
	}
}

func candidatesHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/emi-candidates")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", accountID))

		page, limit := parsePagination(r)
		candidates, err := svc.Candidates(ctx, service.CandidateQuery{
			AccountID:    accountID,
			AmountBucket: r.URL.Query().Get("amount"),
			DateWindow:   r.URL.Query().Get("date"),
			Page:         page,
			Limit:        limit,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, candidates)
	}
}
