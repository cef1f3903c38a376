package ledger

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"
)

// MemoryRepository is a process-local Repository.
type MemoryRepository struct {
	mu           sync.Mutex
	transactions map[string]Transaction
	budgets      map[string]Budget
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		transactions: make(map[string]Transaction),
		budgets:      make(map[string]Budget),
	}
}

func (r *MemoryRepository) ListTransactions(_ context.Context, userID string, filter Filter) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	search := strings.ToLower(filter.Search)
	out := make([]Transaction, 0)
	for _, t := range r.transactions {
		switch {
		case t.UserID != userID:
		case filter.Category != "" && t.Category != filter.Category:
		case filter.Type != "" && t.Type != filter.Type:
		case filter.From != nil && t.Date.Before(*filter.From):
		case filter.To != nil && t.Date.After(*filter.To):
		case search != "" && !strings.Contains(strings.ToLower(t.Description), search):
		default:
			out = append(out, t)
		}
	}

	slices.SortStableFunc(out, func(a, b Transaction) int {
		c := compareBy(filter.SortBy, a, b)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if !filter.Ascending {
			c = -c
		}
		return c
	})
	return out, nil
}

func compareBy(field string, a, b Transaction) int {
	switch field {
	case "amount":
		return cmp.Compare(a.Amount, b.Amount)
	case "description":
		return cmp.Compare(a.Description, b.Description)
	case "category":
		return cmp.Compare(a.Category, b.Category)
	case "type":
		return cmp.Compare(a.Type, b.Type)
	case "createdAt":
		return a.CreatedAt.Compare(b.CreatedAt)
	default:
		return a.Date.Compare(b.Date)
	}
}

func (r *MemoryRepository) RecentTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	all, err := r.ListTransactions(ctx, userID, Filter{SortBy: "date"})
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) GetTransaction(_ context.Context, userID, id string) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transactions[id]
	if !ok || t.UserID != userID {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (r *MemoryRepository) CreateTransaction(_ context.Context, t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transactions[t.ID] = t
	return nil
}

func (r *MemoryRepository) UpdateTransaction(_ context.Context, t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.transactions[t.ID]
	if !ok || existing.UserID != t.UserID {
		return ErrTransactionNotFound
	}
	t.CreatedAt = existing.CreatedAt
	r.transactions[t.ID] = t
	return nil
}

func (r *MemoryRepository) DeleteTransaction(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.transactions[id]
	if !ok || existing.UserID != userID {
		return ErrTransactionNotFound
	}
	delete(r.transactions, id)
	return nil
}

func (r *MemoryRepository) CreateBudget(_ context.Context, b Budget) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.budgets {
		if sameBudgetSlot(existing, b.UserID, b.Category, b.Month, b.Year) {
			return ErrBudgetExists
		}
	}
	r.budgets[b.ID] = b
	return nil
}

func (r *MemoryRepository) ListBudgets(_ context.Context, userID string, month, year int) ([]Budget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Budget, 0)
	for _, b := range r.budgets {
		if b.UserID == userID && b.Month == month && b.Year == year {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b Budget) int { return cmp.Compare(a.Category, b.Category) })
	return out, nil
}

func (r *MemoryRepository) AdjustBudgetSpent(_ context.Context, userID, category string, month, year int, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, b := range r.budgets {
		if sameBudgetSlot(b, userID, category, month, year) {
			b.SpentAmount = math.Max(b.SpentAmount+delta, 0)
			r.budgets[id] = b
			return nil
		}
	}
	return nil
}

func sameBudgetSlot(b Budget, userID, category string, month, year int) bool {
	return b.UserID == userID && b.Category == category && b.Month == month && b.Year == year
}
