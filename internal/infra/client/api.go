// Package client implements the outbound REST clients. Every call goes
// through the circuit breaker, the bulkhead and (for idempotent requests)
// retry with backoff, and every response is decoded from the uniform
// {success, data|message} envelope.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"
	"github.com/boddenberg/emi-bfa-go/internal/infra/resilience"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

const maxResponseBytes = 4 << 20

// envelopeClient is the transport shared by the bank and AI clients.
type envelopeClient struct {
	service    string
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
	logger     *zap.Logger
}

func newEnvelopeClient(service string, httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *envelopeClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &envelopeClient{
		service:    service,
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		logger:     logger,
	}
}

// request describes a single outbound call.
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	// retry allows RetryWithBackoff to repeat the call. Only safe for
	// requests without side effects.
	retry bool
}

// call executes req and decodes the envelope's data into out (may be nil).
func (c *envelopeClient) call(ctx context.Context, req request, out any) error {
	ctx, span := tracer.Start(ctx, c.service+"."+req.op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.method),
		attribute.String("http.path", req.path),
	)

	var payload []byte
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", req.op, err)
		}
		payload = b
	}

	cfg := c.cfg
	if !req.retry {
		cfg = cfg.NoRetry()
	}

	// One key per logical operation so a replay by an intermediary is
	// recognised by the bank API.
	var idempotencyKey string
	if req.method != http.MethodGet {
		idempotencyKey = uuid.NewString()
	}

	_, err := c.cb.Execute(func() (any, error) {
		err := resilience.RetryWithBackoff(ctx, cfg, func() error {
			return c.do(ctx, req, payload, idempotencyKey, out)
		})
		return nil, resilience.CallerAborted(ctx, err)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = c.normalize(err)
		c.logger.Warn("outbound call failed",
			zap.String("service", c.service),
			zap.String("op", req.op),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (c *envelopeClient) do(ctx context.Context, req request, payload []byte, idempotencyKey string, out any) error {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer c.bulkhead.Release()

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return resilience.Permanent(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if auth := domain.AuthorizationFrom(ctx); auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	observability.InjectTraceHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	return decodeEnvelope(c.service, resp.StatusCode, raw, out)
}

// decodeEnvelope turns a raw response into either decoded data or a typed
// error. Business rejections are permanent: retrying them cannot help and
// they say nothing about the health of the remote service.
func decodeEnvelope(service string, status int, raw []byte, out any) error {
	var env domain.Envelope
	parsed := json.Unmarshal(raw, &env) == nil

	if status >= 200 && status < 300 {
		if !parsed {
			return resilience.Permanent(fmt.Errorf("%s returned a malformed body", service))
		}
		if !env.Success {
			return resilience.Permanent(rejection(service, status, env.Message))
		}
		if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resilience.Permanent(fmt.Errorf("decoding %s data: %w", service, err))
		}
		return nil
	}

	retryable := status >= 500 || status == http.StatusTooManyRequests
	if parsed && env.Message != "" {
		rej := rejection(service, status, env.Message)
		if retryable {
			return rej
		}
		return resilience.Permanent(rej)
	}

	err := fmt.Errorf("%s returned status %d", service, status)
	if retryable {
		return err
	}
	return resilience.Permanent(err)
}

func rejection(service string, status int, message string) *domain.ErrRemoteRejection {
	if message == "" {
		message = domain.UnknownErrorMessage
	}
	return &domain.ErrRemoteRejection{Service: service, StatusCode: status, Message: message}
}

// normalize maps whatever came out of the breaker and retry loop onto the
// domain error types the service layer understands.
func (c *envelopeClient) normalize(err error) error {
	if resilience.IsCircuitOpen(err) {
		return &domain.ErrCircuitOpen{Service: c.service}
	}

	var rej *domain.ErrRemoteRejection
	if errors.As(err, &rej) {
		return rej
	}

	var a *resilience.AbortedError
	if errors.As(err, &a) {
		err = a.Err
	}
	var p *resilience.PermanentError
	if errors.As(err, &p) {
		err = p.Err
	}
	return &domain.ErrExternalService{Service: c.service, Err: err}
}
