package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/boddenberg/emi-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// Envelope helpers
// ============================================================

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeData wraps data as {success: true, data}.
func writeData(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, domain.UnknownErrorMessage)
		return
	}
	writeJSON(w, status, domain.Envelope{Success: true, Data: raw})
}

// writeError wraps msg as {success: false, message}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.Envelope{Success: false, Message: msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid request body"}
	}
	return nil
}

// ============================================================
// Query parsing
// ============================================================

func queryDecimal(r *http.Request, name string) (decimal.Decimal, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return decimal.Zero, &domain.ErrValidation{Field: name, Message: "is required"}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, &domain.ErrValidation{Field: name, Message: "must be a number"}
	}
	return d, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ErrValidation{Field: name, Message: "must be an integer"}
	}
	return n, nil
}

func queryIntList(r *http.Request, name string) ([]int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, &domain.ErrValidation{Field: name, Message: "must be a comma-separated list of integers"}
		}
		out = append(out, n)
	}
	return out, nil
}

// parsePagination reads page and limit, defaulting to 1 and 20.
func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	return
}

// ============================================================
// Error mapping
// ============================================================

func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var (
		validation  *domain.ErrValidation
		computation *domain.ErrComputation
		notFound    *domain.ErrNotFound
		conflict    *domain.ErrConflict
		stale       *domain.ErrStaleResponse
		rejection   *domain.ErrRemoteRejection
		circuitOpen *domain.ErrCircuitOpen
		external    *domain.ErrExternalService
	)
	msg := domain.UserMessage(err)

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, msg)
	case errors.As(err, &computation):
		logger.Debug("computation error", zap.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, msg)
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, msg)
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, msg)
	case errors.As(err, &stale):
		logger.Debug("stale response", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, msg)
	case errors.As(err, &rejection):
		logger.Info("remote rejection", zap.Int("status", rejection.StatusCode), zap.String("message", rejection.Message))
		status := rejection.StatusCode
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		writeError(w, status, msg)
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, msg)
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, msg)
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, msg)
	default:
		logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}
