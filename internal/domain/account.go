package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Accounts
// ============================================================

// Account is a funding account. Owned by the bank API.
type Account struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"accountNumber"`
	AccountType   string          `json:"accountType"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
}

// AccountStatusActive is the status the UI filters on by default.
const AccountStatusActive = "ACTIVE"

// ============================================================
// Transactions (account statement)
// ============================================================

// Transaction is a raw statement entry. Amount is signed: negative for
// debits, positive for credits.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description"`
	Merchant    string          `json:"merchant,omitempty"`
	Category    string          `json:"category"`
	Timestamp   time.Time       `json:"timestamp"`
}

// TransactionQuery pages through an account's statement.
type TransactionQuery struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// TransactionPage is one page of an account statement.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Pagination   Pagination    `json:"pagination"`
}
