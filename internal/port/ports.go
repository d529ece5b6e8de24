// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service and
// session layers from the bank API and AI service clients.
package port

import (
	"context"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
)

// AccountsFetcher lists the caller's funding accounts.
type AccountsFetcher interface {
	ListAccounts(ctx context.Context, status string) ([]domain.Account, error)
}

// TransactionsFetcher pages through an account statement.
type TransactionsFetcher interface {
	ListAccountTransactions(ctx context.Context, accountID string, q domain.TransactionQuery) (*domain.TransactionPage, error)
}

// EMIPlanStore is the bank API's EMI surface. The bank API owns plans and
// installments; implementations never fabricate results.
type EMIPlanStore interface {
	ListPlans(ctx context.Context, q domain.PlanQuery) (*domain.PlanPage, error)
	GetSchedule(ctx context.Context, planID string) (*domain.PlanSchedule, error)
	CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.EMIPlan, error)
	PayInstallment(ctx context.Context, installmentID string, req domain.PayInstallmentRequest) (*domain.EMIPlan, error)
}

// BankAPI is everything the EMI core needs from the bank.
type BankAPI interface {
	AccountsFetcher
	TransactionsFetcher
	EMIPlanStore
}

// AffordabilityChecker asks the external AI service for an opinion.
type AffordabilityChecker interface {
	CheckAffordability(ctx context.Context, req domain.AffordabilityRequest) (*domain.AffordabilityResult, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	DeletePrefix(prefix string) int
}
