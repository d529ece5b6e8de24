// Package memory is an in-process stand-in for the bank API. It keeps plans,
// installments, accounts and statements in memory and answers with the same
// rejections the real API would, which makes the BFA runnable without a
// bank backend.
package memory

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/emi-bfa-go/internal/domain"
	"github.com/boddenberg/emi-bfa-go/internal/emi"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultPageLimit = 10

type planRecord struct {
	plan         domain.EMIPlan
	installments []domain.EMIInstallment
	createdAt    time.Time
}

// Bank implements port.BankAPI in memory.
type Bank struct {
	mu           sync.Mutex
	now          func() time.Time
	policy       emi.RemainderPolicy
	accounts     []domain.Account
	transactions map[string][]domain.Transaction
	plans        map[string]*planRecord
	installments map[string]string // installment ID -> plan ID
}

// NewBank creates an empty in-memory bank. A nil clock means time.Now.
func NewBank(now func() time.Time, policy emi.RemainderPolicy) *Bank {
	if now == nil {
		now = time.Now
	}
	if policy == nil {
		policy = emi.LastInstallmentAbsorbs{}
	}
	return &Bank{
		now:          now,
		policy:       policy,
		transactions: make(map[string][]domain.Transaction),
		plans:        make(map[string]*planRecord),
		installments: make(map[string]string),
	}
}

// AddAccount registers an account.
func (b *Bank) AddAccount(a domain.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts = append(b.accounts, a)
}

// AddTransactions appends statement entries to an account.
func (b *Bank) AddTransactions(accountID string, txs ...domain.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tx := range txs {
		tx.AccountID = accountID
		b.transactions[accountID] = append(b.transactions[accountID], tx)
	}
}

func reject(status int, message string) error {
	return &domain.ErrRemoteRejection{Service: "bank", StatusCode: status, Message: message}
}

func (b *Bank) findAccount(id string) (int, bool) {
	for i := range b.accounts {
		if b.accounts[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// ListAccounts returns accounts, filtered by status when given.
func (b *Bank) ListAccounts(ctx context.Context, status string) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Account, 0, len(b.accounts))
	for _, a := range b.accounts {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListAccountTransactions pages through an account's statement, newest first.
func (b *Bank) ListAccountTransactions(ctx context.Context, accountID string, q domain.TransactionQuery) (*domain.TransactionPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.findAccount(accountID); !ok {
		return nil, reject(http.StatusNotFound, "Account not found")
	}

	txs := append([]domain.Transaction(nil), b.transactions[accountID]...)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp.After(txs[j].Timestamp) })

	lo, hi, p := paginate(len(txs), q.Page, q.Limit)
	return &domain.TransactionPage{Transactions: txs[lo:hi], Pagination: p}, nil
}

// ListPlans returns plans, newest first, filtered by status when given.
func (b *Bank) ListPlans(ctx context.Context, q domain.PlanQuery) (*domain.PlanPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, reject(http.StatusBadRequest, "Invalid status filter")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	records := make([]*planRecord, 0, len(b.plans))
	for _, r := range b.plans {
		if q.Status == "" || r.plan.Status == q.Status {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].createdAt.Equal(records[j].createdAt) {
			return records[i].plan.ID < records[j].plan.ID
		}
		return records[i].createdAt.After(records[j].createdAt)
	})

	lo, hi, p := paginate(len(records), q.Page, q.Limit)
	plans := make([]domain.EMIPlan, 0, hi-lo)
	for _, r := range records[lo:hi] {
		plans = append(plans, r.plan)
	}
	return &domain.PlanPage{Plans: plans, Pagination: p}, nil
}

// GetSchedule returns a copy of a plan and its installments.
func (b *Bank) GetSchedule(ctx context.Context, planID string) (*domain.PlanSchedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.plans[planID]
	if !ok {
		return nil, reject(http.StatusNotFound, "EMI plan not found")
	}
	return &domain.PlanSchedule{
		Plan:         r.plan,
		Installments: append([]domain.EMIInstallment(nil), r.installments...),
	}, nil
}

// CreatePlan books a new plan whose first installment is due one month
// from today.
func (b *Bank) CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.EMIPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Principal.IsPositive() {
		return nil, reject(http.StatusBadRequest, "Principal must be greater than zero")
	}
	quote, err := emi.Quote(req.Principal, req.InterestRateAnnual, req.TenureMonths)
	if err != nil {
		return nil, reject(http.StatusBadRequest, err.Error())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.findAccount(req.AccountID)
	if !ok {
		return nil, reject(http.StatusNotFound, "Account not found")
	}
	if b.accounts[idx].Status != domain.AccountStatusActive {
		return nil, reject(http.StatusUnprocessableEntity, "Account is not active")
	}

	now := b.now()
	planID := uuid.NewString()
	firstDue := domain.NewDate(now).AddMonths(1)
	installments, err := emi.BuildSchedule(planID, req.Principal, req.InterestRateAnnual, req.TenureMonths, firstDue, b.policy)
	if err != nil {
		return nil, reject(http.StatusBadRequest, err.Error())
	}
	for i := range installments {
		installments[i].ID = uuid.NewString()
		b.installments[installments[i].ID] = planID
	}

	next := firstDue
	plan := domain.EMIPlan{
		ID:                 planID,
		AccountID:          req.AccountID,
		ProductName:        req.ProductName,
		Principal:          req.Principal,
		InterestRateAnnual: req.InterestRateAnnual,
		TenureMonths:       req.TenureMonths,
		EMIAmount:          quote.EMI,
		Status:             domain.PlanActive,
		NextDueDate:        &next,
		EndDate:            installments[len(installments)-1].DueDate,
	}
	b.plans[planID] = &planRecord{plan: plan, installments: installments, createdAt: now}
	return &plan, nil
}

// PayInstallment debits the account and marks the installment paid. The
// plan completes when its last pending installment is paid.
func (b *Bank) PayInstallment(ctx context.Context, installmentID string, req domain.PayInstallmentRequest) (*domain.EMIPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	planID, ok := b.installments[installmentID]
	if !ok {
		return nil, reject(http.StatusNotFound, "Installment not found")
	}
	r := b.plans[planID]
	if r.plan.Status == domain.PlanCancelled {
		return nil, reject(http.StatusConflict, "EMI plan is cancelled")
	}

	var inst *domain.EMIInstallment
	for i := range r.installments {
		if r.installments[i].ID == installmentID {
			inst = &r.installments[i]
			break
		}
	}
	if inst.Status == domain.InstallmentPaid {
		return nil, reject(http.StatusConflict, "Installment already paid")
	}

	idx, ok := b.findAccount(req.AccountID)
	if !ok {
		return nil, reject(http.StatusNotFound, "Account not found")
	}
	acct := &b.accounts[idx]
	if acct.Balance.LessThan(inst.Amount) {
		return nil, reject(http.StatusUnprocessableEntity, "Insufficient balance")
	}

	now := b.now()
	acct.Balance = acct.Balance.Sub(inst.Amount)
	paidAt := now.UTC()
	inst.Status = domain.InstallmentPaid
	inst.PaidAt = &paidAt

	b.transactions[acct.ID] = append(b.transactions[acct.ID], domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   acct.ID,
		Amount:      inst.Amount.Neg(),
		Type:        "debit",
		Description: r.plan.DisplayName() + " installment",
		Category:    "emi",
		Timestamp:   now,
	})

	r.plan.NextDueDate = nil
	for i := range r.installments {
		if r.installments[i].Status != domain.InstallmentPaid {
			next := r.installments[i].DueDate
			r.plan.NextDueDate = &next
			break
		}
	}
	if r.plan.NextDueDate == nil {
		r.plan.Status = domain.PlanCompleted
	}

	plan := r.plan
	return &plan, nil
}

// paginate returns slice bounds for a 1-based page.
func paginate(total, page, limit int) (int, int, domain.Pagination) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	lo := (page - 1) * limit
	if lo > total {
		lo = total
	}
	hi := lo + limit
	if hi > total {
		hi = total
	}
	return lo, hi, domain.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
}

// Seed loads a small demo data set relative to the bank's clock: two
// active accounts and a dormant one, a month of card spending and one plan
// already under way.
func (b *Bank) Seed() {
	now := b.now()
	b.AddAccount(domain.Account{
		ID: "acc-savings", AccountNumber: "XXXX1234", AccountType: "SAVINGS",
		Balance: decimal.NewFromInt(250000), Currency: "INR", Status: domain.AccountStatusActive,
	})
	b.AddAccount(domain.Account{
		ID: "acc-current", AccountNumber: "XXXX9876", AccountType: "CURRENT",
		Balance: decimal.NewFromInt(80000), Currency: "INR", Status: domain.AccountStatusActive,
	})
	b.AddAccount(domain.Account{
		ID: "acc-dormant", AccountNumber: "XXXX5555", AccountType: "SAVINGS",
		Balance: decimal.Zero, Currency: "INR", Status: "DORMANT",
	})

	day := 24 * time.Hour
	b.AddTransactions("acc-savings",
		domain.Transaction{ID: "tx-1001", Amount: decimal.NewFromInt(-45000), Type: "debit", Merchant: "Croma Electronics", Description: "POS CROMA", Category: "electronics", Timestamp: now.Add(-2 * day)},
		domain.Transaction{ID: "tx-1002", Amount: decimal.NewFromInt(-850), Type: "debit", Merchant: "Cafe Coffee Day", Description: "POS CCD", Category: "dining", Timestamp: now.Add(-3 * day)},
		domain.Transaction{ID: "tx-1003", Amount: decimal.NewFromInt(-72000), Type: "debit", Merchant: "MakeMyTrip", Description: "Flight booking", Category: "travel", Timestamp: now.Add(-12 * day)},
		domain.Transaction{ID: "tx-1004", Amount: decimal.NewFromInt(120000), Type: "credit", Description: "Salary", Category: "income", Timestamp: now.Add(-15 * day)},
		domain.Transaction{ID: "tx-1005", Amount: decimal.NewFromInt(-18500), Type: "debit", Description: "Dental clinic", Category: "health", Timestamp: now.Add(-21 * day)},
		domain.Transaction{ID: "tx-1006", Amount: decimal.NewFromInt(-32000), Type: "debit", Merchant: "IKEA", Description: "POS IKEA", Category: "home", Timestamp: now.Add(-40 * day)},
	)

	plan, err := b.CreatePlan(context.Background(), domain.CreatePlanRequest{
		AccountID:          "acc-savings",
		ProductName:        "Laptop",
		Principal:          decimal.NewFromInt(60000),
		InterestRateAnnual: decimal.NewFromInt(13),
		TenureMonths:       12,
	})
	if err != nil {
		return
	}

	// Backdate the plan by three months and settle the installments that
	// have fallen due since.
	b.mu.Lock()
	r := b.plans[plan.ID]
	r.createdAt = now.AddDate(0, -3, 0)
	today := domain.NewDate(now)
	for i := range r.installments {
		r.installments[i].DueDate = r.installments[i].DueDate.AddMonths(-3)
		if r.installments[i].DueDate.Before(today) {
			paid := r.installments[i].DueDate.Time()
			r.installments[i].Status = domain.InstallmentPaid
			r.installments[i].PaidAt = &paid
		}
	}
	r.plan.EndDate = r.installments[len(r.installments)-1].DueDate
	r.plan.NextDueDate = nil
	for i := range r.installments {
		if r.installments[i].Status != domain.InstallmentPaid {
			next := r.installments[i].DueDate
			r.plan.NextDueDate = &next
			break
		}
	}
	b.mu.Unlock()
}
