package ledger

import (
	"encoding/json"
	"math"
	"slices"
	"time"
)

type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

const CategoryIncome = "Income"

// Categories are the labels a transaction may carry.
var Categories = []string{
	"Food & Dining",
	"Transportation",
	"Shopping",
	"Entertainment",
	"Bills & Utilities",
	"Healthcare",
	CategoryIncome,
	"Other",
}

// ValidCategory reports whether category may label a transaction.
func ValidCategory(category string) bool {
	return slices.Contains(Categories, category)
}

// ValidBudgetCategory reports whether category may carry a budget. Income is
// never budgeted.
func ValidBudgetCategory(category string) bool {
	return category != CategoryIncome && ValidCategory(category)
}

// Transaction is one ledger entry. Expenses are stored with a negative amount
// and income with a positive one.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Type        Kind      `json:"type"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Magnitude is the absolute amount of the entry.
func (t Transaction) Magnitude() float64 {
	return math.Abs(t.Amount)
}

// TransactionInput is a create request. Nil fields of an update leave the
// stored value unchanged.
type TransactionInput struct {
	Description *string    `json:"description"`
	Amount      *float64   `json:"amount"`
	Type        *Kind      `json:"type"`
	Category    *string    `json:"category"`
	Date        *time.Time `json:"date"`
	Notes       *string    `json:"notes"`
}

// Filter narrows and orders a transaction listing.
type Filter struct {
	Category  string
	Type      Kind
	From      *time.Time
	To        *time.Time
	Search    string
	SortBy    string
	Ascending bool
}

// SortFields are the accepted Filter.SortBy values.
var SortFields = []string{"date", "amount", "description", "category", "type", "createdAt"}

const (
	DefaultAlertThreshold = 80
	PeriodMonthly         = "monthly"
)

type Budget struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Category       string    `json:"category"`
	BudgetAmount   float64   `json:"budgetAmount"`
	SpentAmount    float64   `json:"spentAmount"`
	Period         string    `json:"period"`
	Month          int       `json:"month"`
	Year           int       `json:"year"`
	AlertThreshold int       `json:"alertThreshold"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (b Budget) RemainingAmount() float64 {
	return math.Max(b.BudgetAmount-b.SpentAmount, 0)
}

// SpentPercentage is the rounded share of the budget spent, capped at 100.
func (b Budget) SpentPercentage() int {
	if b.BudgetAmount <= 0 {
		if b.SpentAmount > 0 {
			return 100
		}
		return 0
	}
	return int(math.Min(math.Round(b.SpentAmount/b.BudgetAmount*100), 100))
}

// Status is "exceeded" at 100%, "warning" from the alert threshold and "safe" below it.
func (b Budget) Status() string {
	pct := b.SpentPercentage()
	switch {
	case pct >= 100:
		return "exceeded"
	case pct >= b.AlertThreshold:
		return "warning"
	default:
		return "safe"
	}
}

func (b Budget) MarshalJSON() ([]byte, error) {
	type plain Budget
	return json.Marshal(struct {
		plain
		RemainingAmount float64 `json:"remainingAmount"`
		SpentPercentage int     `json:"spentPercentage"`
		Status          string  `json:"status"`
	}{
		plain:           plain(b),
		RemainingAmount: b.RemainingAmount(),
		SpentPercentage: b.SpentPercentage(),
		Status:          b.Status(),
	})
}

// BudgetInput is a create-budget request.
type BudgetInput struct {
	Category       string  `json:"category"`
	BudgetAmount   float64 `json:"budgetAmount"`
	Month          int     `json:"month"`
	Year           int     `json:"year"`
	AlertThreshold int     `json:"alertThreshold"`
}
