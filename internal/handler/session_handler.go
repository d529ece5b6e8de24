package handler

import (
	"context"
	"net/http"

	"github.com/boddenberg/emi-bfa-go/internal/session"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// View-model sessions
// ============================================================

// sessionAction resolves the session from the URL and runs fn against it.
// The response carries the resulting state; on error the message of the
// failed action is returned and the state can be re-read with GET.
func sessionAction(store *session.Store, logger *zap.Logger, name string, fn func(ctx context.Context, c *session.Controller, r *http.Request) (session.State, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), name)
		defer span.End()

		c, err := store.Get(chi.URLParam(r, "sessionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		state, err := fn(ctx, c, r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeData(w, http.StatusOK, state)
	}
}

func createSessionHandler(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/sessions")
		defer span.End()

		c := store.Create()
		writeData(w, http.StatusCreated, c.Snapshot())
	}
}

func deleteSessionHandler(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store.Delete(chi.URLParam(r, "sessionId"))
		w.WriteHeader(http.StatusNoContent)
	}
}

type selectAccountRequest struct {
	AccountID string `json:"accountId"`
}

type filtersRequest struct {
	AmountBucket string `json:"amountBucket"`
	DateWindow   string `json:"dateWindow"`
}

func sessionRoutes(store *session.Store, logger *zap.Logger) func(r chi.Router) {
	return func(r chi.Router) {
		r.Post("/", createSessionHandler(store))

		r.Route("/{sessionId}", func(r chi.Router) {
			r.Get("/", sessionAction(store, logger, "GET /v1/sessions/{id}",
				func(_ context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.Snapshot(), nil
				}))
			r.Delete("/", deleteSessionHandler(store))

			r.Put("/account", sessionAction(store, logger, "PUT /v1/sessions/{id}/account",
				func(ctx context.Context, c *session.Controller, r *http.Request) (session.State, error) {
					var req selectAccountRequest
					if err := decodeBody(r, &req); err != nil {
						return session.State{}, err
					}
					return c.SelectAccount(ctx, req.AccountID)
				}))
			r.Put("/filters", sessionAction(store, logger, "PUT /v1/sessions/{id}/filters",
				func(ctx context.Context, c *session.Controller, r *http.Request) (session.State, error) {
					var req filtersRequest
					if err := decodeBody(r, &req); err != nil {
						return session.State{}, err
					}
					return c.SetFilters(ctx, req.AmountBucket, req.DateWindow)
				}))
			r.Post("/candidates/refresh", sessionAction(store, logger, "POST /v1/sessions/{id}/candidates/refresh",
				func(ctx context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.LoadCandidates(ctx)
				}))
			r.Post("/candidates/{transactionId}/select", sessionAction(store, logger, "POST /v1/sessions/{id}/candidates/{txId}/select",
				func(_ context.Context, c *session.Controller, r *http.Request) (session.State, error) {
					return c.SelectCandidate(chi.URLParam(r, "transactionId"))
				}))

			r.Patch("/terms", sessionAction(store, logger, "PATCH /v1/sessions/{id}/terms",
				func(_ context.Context, c *session.Controller, r *http.Request) (session.State, error) {
					var req session.TermsUpdate
					if err := decodeBody(r, &req); err != nil {
						return session.State{}, err
					}
					return c.UpdateTerms(req)
				}))
			r.Post("/plan-form/open", sessionAction(store, logger, "POST /v1/sessions/{id}/plan-form/open",
				func(_ context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.OpenPlanForm()
				}))
			r.Post("/plan-form/close", sessionAction(store, logger, "POST /v1/sessions/{id}/plan-form/close",
				func(_ context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.ClosePlanForm()
				}))
			r.Post("/plan-form/submit", sessionAction(store, logger, "POST /v1/sessions/{id}/plan-form/submit",
				func(ctx context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.SubmitPlan(ctx)
				}))
			r.Post("/plans/refresh", sessionAction(store, logger, "POST /v1/sessions/{id}/plans/refresh",
				func(ctx context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.RefreshPlans(ctx)
				}))
			r.Post("/affordability", sessionAction(store, logger, "POST /v1/sessions/{id}/affordability",
				func(ctx context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.CheckAffordability(ctx)
				}))

			r.Post("/schedule/{planId}/open", sessionAction(store, logger, "POST /v1/sessions/{id}/schedule/{planId}/open",
				func(ctx context.Context, c *session.Controller, r *http.Request) (session.State, error) {
					return c.OpenSchedule(ctx, chi.URLParam(r, "planId"))
				}))
			r.Post("/schedule/close", sessionAction(store, logger, "POST /v1/sessions/{id}/schedule/close",
				func(_ context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.CloseSchedule()
				}))
			r.Post("/pay-dialog/{installmentId}/open", sessionAction(store, logger, "POST /v1/sessions/{id}/pay-dialog/{installmentId}/open",
				func(_ context.Context, c *session.Controller, r *http.Request) (session.State, error) {
					return c.OpenPayDialog(chi.URLParam(r, "installmentId"))
				}))
			r.Post("/pay-dialog/cancel", sessionAction(store, logger, "POST /v1/sessions/{id}/pay-dialog/cancel",
				func(_ context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.CancelPayDialog()
				}))
			r.Post("/pay-dialog/submit", sessionAction(store, logger, "POST /v1/sessions/{id}/pay-dialog/submit",
				func(ctx context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.SubmitPayment(ctx)
				}))

			r.Post("/upcoming/load", sessionAction(store, logger, "POST /v1/sessions/{id}/upcoming/load",
				func(ctx context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.LoadUpcoming(ctx)
				}))
			r.Post("/upcoming/leave", sessionAction(store, logger, "POST /v1/sessions/{id}/upcoming/leave",
				func(_ context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.LeaveUpcoming(), nil
				}))
			r.Post("/messages/dismiss", sessionAction(store, logger, "POST /v1/sessions/{id}/messages/dismiss",
				func(_ context.Context, c *session.Controller, _ *http.Request) (session.State, error) {
					return c.DismissMessages(), nil
				}))
		})
	}
}
