package ledger

import (
	"context"
	"errors"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrBudgetExists        = errors.New("budget already exists for this category and month")
)

// Repository persists transactions and budgets. Every read and write is
// scoped to one user.
type Repository interface {
	ListTransactions(ctx context.Context, userID string, filter Filter) ([]Transaction, error)
	RecentTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	GetTransaction(ctx context.Context, userID, id string) (Transaction, error)
	CreateTransaction(ctx context.Context, t Transaction) error
	// UpdateTransaction overwrites the mutable fields of t.
	UpdateTransaction(ctx context.Context, t Transaction) error
	DeleteTransaction(ctx context.Context, userID, id string) error

	CreateBudget(ctx context.Context, b Budget) error
	ListBudgets(ctx context.Context, userID string, month, year int) ([]Budget, error)
	// AdjustBudgetSpent adds delta to the spent amount of the matching budget,
	// never letting it drop below zero. A missing budget is not an error.
	AdjustBudgetSpent(ctx context.Context, userID, category string, month, year int, delta float64) error
}
