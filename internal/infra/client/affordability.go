package client

import (
	"context"
	"net/http"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AffordabilityClient calls the AI service's affordability endpoint. The
// AI service is metered, so calls are rate limited client-side.
type AffordabilityClient struct {
	api     *envelopeClient
	limiter *rate.Limiter
}

// NewAffordabilityClient creates a new AffordabilityClient allowing rps
// requests per second with a burst of the same size.
func NewAffordabilityClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, rps float64, logger *zap.Logger) *AffordabilityClient {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &AffordabilityClient{
		api:     newEnvelopeClient("ai", httpClient, baseURL, cb, cfg, logger),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// CheckAffordability waits for a rate-limit token and asks the AI service
// whether the proposed plan is affordable. The request is read-only, so it
// is retried like a GET.
func (c *AffordabilityClient) CheckAffordability(ctx context.Context, req domain.AffordabilityRequest) (*domain.AffordabilityResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.ErrExternalService{Service: "ai", Err: err}
	}

	var result domain.AffordabilityResult
	err := c.api.call(ctx, request{
		op:     "CheckAffordability",
		method: http.MethodPost,
		path:   "/ai/emi/affordability",
		body:   req,
		retry:  true,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
