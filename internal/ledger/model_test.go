package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetDerivedFields(t *testing.T) {
	tests := []struct {
		name      string
		budget    Budget
		remaining float64
		percent   int
		status    string
	}{
		{"untouched", Budget{BudgetAmount: 200, AlertThreshold: 80}, 200, 0, "safe"},
		{"below threshold", Budget{BudgetAmount: 200, SpentAmount: 150, AlertThreshold: 80}, 50, 75, "safe"},
		{"at threshold", Budget{BudgetAmount: 200, SpentAmount: 160, AlertThreshold: 80}, 40, 80, "warning"},
		{"exactly spent", Budget{BudgetAmount: 200, SpentAmount: 200, AlertThreshold: 80}, 0, 100, "exceeded"},
		{"overspent", Budget{BudgetAmount: 200, SpentAmount: 260, AlertThreshold: 80}, 0, 100, "exceeded"},
		{"rounds", Budget{BudgetAmount: 3, SpentAmount: 2, AlertThreshold: 80}, 1, 67, "safe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.remaining, tt.budget.RemainingAmount(), 1e-9)
			assert.Equal(t, tt.percent, tt.budget.SpentPercentage())
			assert.Equal(t, tt.status, tt.budget.Status())
		})
	}
}

func TestBudgetJSONIncludesDerivedFields(t *testing.T) {
	raw, err := json.Marshal(Budget{ID: "b1", Category: "Shopping", BudgetAmount: 100, SpentAmount: 90, AlertThreshold: 80})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "b1", decoded["id"])
	assert.Equal(t, "Shopping", decoded["category"])
	assert.Equal(t, 10.0, decoded["remainingAmount"])
	assert.Equal(t, 90.0, decoded["spentPercentage"])
	assert.Equal(t, "warning", decoded["status"])
}

func TestCategories(t *testing.T) {
	assert.True(t, ValidCategory(CategoryIncome))
	assert.False(t, ValidBudgetCategory(CategoryIncome))
	assert.True(t, ValidBudgetCategory("Bills & Utilities"))
	assert.False(t, ValidCategory("bills & utilities"))
}
