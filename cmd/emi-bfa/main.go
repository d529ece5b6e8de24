package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/config"
	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/emi"
	"github.com/boddenberg/emi-bfa-go/internal/handler"
	"github.com/boddenberg/emi-bfa-go/internal/infra/cache"
	"github.com/boddenberg/emi-bfa-go/internal/infra/client"
	"github.com/boddenberg/emi-bfa-go/internal/infra/memory"
	"github.com/boddenberg/emi-bfa-go/internal/infra/observability"
	"github.com/boddenberg/emi-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/emi-bfa-go/internal/port"
	"github.com/boddenberg/emi-bfa-go/internal/service"
	"github.com/boddenberg/emi-bfa-go/internal/session"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func main() {
	// --- Config ---
	cfg := config.Load()

	// Money goes over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "emi-bfa")
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("memory_backend", cfg.UseMemoryBackend),
		zap.Bool("affordability_enabled", cfg.AIAPIURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("schedule_cache_ttl", cfg.ScheduleCacheTTL),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.String("remainder_policy", cfg.RemainderPolicy),
		zap.String("min_eligible_amount", cfg.MinEligibleAmount.String()),
	)

	policy, err := emi.ParseRemainderPolicy(cfg.RemainderPolicy)
	if err != nil {
		logger.Fatal("invalid remainder policy", zap.Error(err))
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "emi-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	accountsCache := cache.New[[]domain.Account](cfg.AccountsCacheTTL)
	defer accountsCache.Close()
	scheduleCache := cache.New[*domain.PlanSchedule](cfg.ScheduleCacheTTL)
	defer scheduleCache.Close()
	sessionCache := cache.New[*session.Controller](cfg.SessionTTL)
	defer sessionCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	bankCB := resilience.NewCircuitBreaker("bank")
	aiCB := resilience.NewCircuitBreaker("ai")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var bank port.BankAPI
	if cfg.UseMemoryBackend {
		logger.Warn("using the in-memory bank backend with seed data")
		mem := memory.NewBank(time.Now, policy)
		mem.Seed()
		bank = mem
	} else {
		logger.Info("using the bank API", zap.String("bank_api_url", cfg.BankAPIURL))
		bank = client.NewBankClient(httpClient, cfg.BankAPIURL, bankCB, resilienceCfg, logger)
	}

	var ai port.AffordabilityChecker
	if cfg.AIAPIURL != "" {
		ai = client.NewAffordabilityClient(httpClient, cfg.AIAPIURL, aiCB, resilienceCfg, cfg.AffordabilityRPS, logger)
	} else {
		logger.Warn("AI_API_URL not set, affordability check unavailable")
	}

	// --- Services ---
	emiSvc := service.NewEMIService(bank, ai, accountsCache, scheduleCache, metrics, logger, service.Options{
		MinEligibleAmount:    cfg.MinEligibleAmount,
		RemainderPolicy:      policy,
		ScheduleFetchTimeout: cfg.ScheduleFetchTimeout,
		MaxConcurrency:       cfg.MaxConcurrency,
	})

	sessions := session.NewStore(sessionCache, emiSvc, session.Defaults{
		TenureMonths:       cfg.DefaultTenureMonths,
		InterestRateAnnual: cfg.DefaultInterestRate,
	}, metrics, logger, time.Now)

	// --- Router ---
	router := handler.NewRouter(handler.RouterDeps{
		EMI:      emiSvc,
		Sessions: sessions,
		Probes: []handler.HealthProbe{
			breakerProbe("bank-api", bankCB),
			breakerProbe("ai-api", aiCB),
		},
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metrics,
		Logger:      logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// breakerProbe reports a dependency as degraded while its circuit is open.
func breakerProbe(name string, cb *gobreaker.CircuitBreaker) handler.HealthProbe {
	return handler.HealthProbe{
		Name: name,
		Check: func(context.Context) error {
			if cb.State() == gobreaker.StateOpen {
				return errors.New("circuit open")
			}
			return nil
		},
	}
}
