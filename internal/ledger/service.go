package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultRecentLimit = 5
	MaxRecentLimit     = 50
	maxNotesLength     = 500
	maxDescription     = 200
	minBudgetYear      = 2020
)

// ValidationError is a rejected input with a client-facing message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Service applies ledger rules on top of a Repository. Expense changes are
// mirrored into the spent amount of the budget for the same category and month.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) List(ctx context.Context, userID string, filter Filter) ([]Transaction, error) {
	if filter.Category != "" && !ValidCategory(filter.Category) {
		return nil, invalid("unknown category %q", filter.Category)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalid("type must be income or expense")
	}
	if filter.SortBy == "" {
		filter.SortBy = "date"
	}
	if !slices.Contains(SortFields, filter.SortBy) {
		return nil, invalid("cannot sort by %q", filter.SortBy)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalid("endDate must not be before startDate")
	}
	filter.Search = strings.TrimSpace(filter.Search)

	return s.repo.ListTransactions(ctx, userID, filter)
}

// Recent returns the newest transactions, limit clamped to 1..MaxRecentLimit.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)
	return s.repo.RecentTransactions(ctx, userID, limit)
}

func (s *Service) Create(ctx context.Context, userID string, input TransactionInput) (Transaction, error) {
	if input.Description == nil || input.Amount == nil || input.Type == nil || input.Category == nil {
		return Transaction{}, invalid("Description, amount, type, and category are required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Transaction{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := s.now().UTC()
	t := Transaction{
		ID:        id.String(),
		UserID:    userID,
		Date:      now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := apply(&t, input); err != nil {
		return Transaction{}, err
	}

	if err := s.repo.CreateTransaction(ctx, t); err != nil {
		return Transaction{}, err
	}
	if err := s.track(ctx, t, 1); err != nil {
		return Transaction{}, err
	}

	return t, nil
}

func (s *Service) Update(ctx context.Context, userID, id string, input TransactionInput) (Transaction, error) {
	existing, err := s.repo.GetTransaction(ctx, userID, id)
	if err != nil {
		return Transaction{}, err
	}

	updated := existing
	if err := apply(&updated, input); err != nil {
		return Transaction{}, err
	}
	updated.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateTransaction(ctx, updated); err != nil {
		return Transaction{}, err
	}
	if err := s.track(ctx, existing, -1); err != nil {
		return Transaction{}, err
	}
	if err := s.track(ctx, updated, 1); err != nil {
		return Transaction{}, err
	}

	return updated, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	existing, err := s.repo.GetTransaction(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteTransaction(ctx, userID, id); err != nil {
		return err
	}
	return s.track(ctx, existing, -1)
}

func (s *Service) CreateBudget(ctx context.Context, userID string, input BudgetInput) (Budget, error) {
	input.Category = strings.TrimSpace(input.Category)
	if !ValidBudgetCategory(input.Category) {
		return Budget{}, invalid("unknown budget category %q", input.Category)
	}
	if input.BudgetAmount <= 0 || math.IsInf(input.BudgetAmount, 0) || math.IsNaN(input.BudgetAmount) {
		return Budget{}, invalid("budgetAmount must be greater than 0")
	}

	now := s.now().UTC()
	if input.Month == 0 && input.Year == 0 {
		input.Month, input.Year = int(now.Month()), now.Year()
	}
	if input.Month < 1 || input.Month > 12 {
		return Budget{}, invalid("month must be between 1 and 12")
	}
	if input.Year < minBudgetYear {
		return Budget{}, invalid("year must be %d or later", minBudgetYear)
	}
	if input.AlertThreshold == 0 {
		input.AlertThreshold = DefaultAlertThreshold
	}
	if input.AlertThreshold < 1 || input.AlertThreshold > 100 {
		return Budget{}, invalid("alertThreshold must be between 1 and 100")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Budget{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	b := Budget{
		ID:             id.String(),
		UserID:         userID,
		Category:       input.Category,
		BudgetAmount:   input.BudgetAmount,
		Period:         PeriodMonthly,
		Month:          input.Month,
		Year:           input.Year,
		AlertThreshold: input.AlertThreshold,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateBudget(ctx, b); err != nil {
		return Budget{}, err
	}
	return b, nil
}

// Budgets lists the budgets of one month, defaulting to the current one.
func (s *Service) Budgets(ctx context.Context, userID string, month, year int) ([]Budget, error) {
	now := s.now().UTC()
	if month == 0 {
		month = int(now.Month())
	}
	if year == 0 {
		year = now.Year()
	}
	if month < 1 || month > 12 {
		return nil, invalid("month must be between 1 and 12")
	}
	return s.repo.ListBudgets(ctx, userID, month, year)
}

// track moves the spent amount of t's budget by sign times its magnitude.
func (s *Service) track(ctx context.Context, t Transaction, sign float64) error {
	if t.Type != KindExpense {
		return nil
	}
	date := t.Date.UTC()
	if err := s.repo.AdjustBudgetSpent(ctx, t.UserID, t.Category, int(date.Month()), date.Year(), sign*t.Magnitude()); err != nil {
		return fmt.Errorf("adjust budget spent: %w", err)
	}
	return nil
}

// apply merges input into t and re-validates the result.
func apply(t *Transaction, input TransactionInput) error {
	if input.Description != nil {
		t.Description = strings.TrimSpace(*input.Description)
	}
	if input.Type != nil {
		t.Type = *input.Type
	}
	if input.Category != nil {
		t.Category = strings.TrimSpace(*input.Category)
	}
	if input.Date != nil {
		t.Date = input.Date.UTC()
	}
	if input.Notes != nil {
		t.Notes = strings.TrimSpace(*input.Notes)
	}

	magnitude := t.Magnitude()
	if input.Amount != nil {
		magnitude = math.Abs(*input.Amount)
	}

	switch {
	case t.Description == "":
		return invalid("Description cannot be empty")
	case utf8.RuneCountInString(t.Description) > maxDescription:
		return invalid("Description cannot exceed %d characters", maxDescription)
	case magnitude == 0 || math.IsInf(magnitude, 0) || math.IsNaN(magnitude):
		return invalid("Amount cannot be zero")
	case !t.Type.Valid():
		return invalid("type must be income or expense")
	case !ValidCategory(t.Category):
		return invalid("unknown category %q", t.Category)
	case utf8.RuneCountInString(t.Notes) > maxNotesLength:
		return invalid("Notes cannot exceed %d characters", maxNotesLength)
	}

	t.Amount = magnitude
	if t.Type == KindExpense {
		t.Amount = -magnitude
	}
	return nil
}

// IsValidation reports whether err is a rejected input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
