package handler

import (
	"net/http"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"
	"github.com/boddenberg/emi-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Calculator
// ============================================================

func quoteHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/emi/quote")
		defer span.End()

		principal, err := queryDecimal(r, "principal")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		rate, err := queryDecimal(r, "interestRateAnnual")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		tenure, err := queryInt(r, "tenureMonths", 0)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		quote, err := svc.Quote(principal, rate, tenure)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, quote)
	}
}

func compareHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/emi/compare")
		defer span.End()

		principal, err := queryDecimal(r, "principal")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		rate, err := queryDecimal(r, "interestRateAnnual")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		tenures, err := queryIntList(r, "tenures")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		quotes, err := svc.CompareTenures(principal, rate, tenures)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, quotes)
	}
}

func schedulePreviewHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/emi/schedule/preview")
		defer span.End()

		principal, err := queryDecimal(r, "principal")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		rate, err := queryDecimal(r, "interestRateAnnual")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		tenure, err := queryInt(r, "tenureMonths", 0)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var firstDue domain.Date
		if v := r.URL.Query().Get("firstDueDate"); v != "" {
			firstDue, err = domain.ParseDate(v)
			if err != nil {
				handleServiceError(w, &domain.ErrValidation{Field: "firstDueDate", Message: "must be YYYY-MM-DD"}, logger)
				return
			}
		}

		installments, err := svc.PreviewSchedule(principal, rate, tenure, firstDue)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, installments)
	}
}

// ============================================================
// Plans & installments
// ============================================================

func listPlansHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/emi/plans")
		defer span.End()

		page, limit := parsePagination(r)
		plans, err := svc.ListPlans(ctx, domain.PlanQuery{
			Page:   page,
			Limit:  limit,
			Status: domain.PlanStatus(r.URL.Query().Get("status")),
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, plans)
	}
}

func createPlanHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/emi/plans")
		defer span.End()

		var req domain.CreatePlanRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("account.id", req.AccountID))

		plan, err := svc.CreatePlan(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusCreated, plan)
	}
}

func getScheduleHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/emi/plans/{planId}/schedule")
		defer span.End()

		planID := chi.URLParam(r, "planId")
		span.SetAttributes(attribute.String("plan.id", planID))

		schedule, err := svc.GetSchedule(ctx, planID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, schedule)
	}
}

func upcomingHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/emi/upcoming")
		defer span.End()

		feed, err := svc.UpcomingInstallments(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Bool("feed.complete", feed.Complete))
		writeData(w, http.StatusOK, feed)
	}
}

func payInstallmentHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/emi/installments/{installmentId}/pay")
		defer span.End()

		installmentID := chi.URLParam(r, "installmentId")
		var req domain.PayInstallmentRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		plan, err := svc.PayInstallment(ctx, installmentID, req.AccountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, plan)
	}
}

func affordabilityHandler(svc *service.EMIService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/emi/affordability")
		defer span.End()

		var req domain.AffordabilityRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, err := svc.CheckAffordability(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, res)
	}
}

func emiMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, metrics.Snapshot())
	}
}
