package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transactionColumns = `id, user_id, description, amount, type, category, date, notes, created_at, updated_at`

var sortColumns = map[string]string{
	"date":        "date",
	"amount":      "amount",
	"description": "description",
	"category":    "category",
	"type":        "type",
	"createdAt":   "created_at",
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, filter Filter) ([]Transaction, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.From != nil {
		add("date >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("date <= $%d", filter.To.UTC())
	}
	if filter.Search != "" {
		add("description ILIKE $%d", "%"+escapeLike(filter.Search)+"%")
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "date"
	}
	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE %s
		ORDER BY %s %s, id %s
	`, transactionColumns, strings.Join(where, " AND "), column, direction, direction)

	return r.queryTransactions(ctx, query, args...)
}

func (r *PostgresRepository) RecentTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	return r.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY date DESC, id DESC
		LIMIT $2
	`, userID, limit)
}

func (r *PostgresRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return transactions, nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, userID, id string) (Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Transaction{}, ErrTransactionNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *PostgresRepository) CreateTransaction(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.UserID, t.Description, t.Amount, string(t.Type), t.Category, t.Date.UTC(), t.Notes, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateTransaction(ctx context.Context, t Transaction) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET description = $3, amount = $4, type = $5, category = $6, date = $7, notes = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2
	`, t.ID, t.UserID, t.Description, t.Amount, string(t.Type), t.Category, t.Date.UTC(), t.Notes, t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	return requireAffected(res)
}

func (r *PostgresRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	return requireAffected(res)
}

func (r *PostgresRepository) CreateBudget(ctx context.Context, b Budget) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (id, user_id, category, budget_amount, spent_amount, period, month, year,
			alert_threshold, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, b.UserID, b.Category, b.BudgetAmount, b.SpentAmount, b.Period, b.Month, b.Year,
		b.AlertThreshold, b.IsActive, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrBudgetExists
		}
		return fmt.Errorf("insert budget: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListBudgets(ctx context.Context, userID string, month, year int) ([]Budget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, category, budget_amount, spent_amount, period, month, year,
			alert_threshold, is_active, created_at, updated_at
		FROM budgets
		WHERE user_id = $1 AND month = $2 AND year = $3
		ORDER BY category ASC
	`, userID, month, year)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	budgets := make([]Budget, 0)
	for rows.Next() {
		var b Budget
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &b.BudgetAmount, &b.SpentAmount, &b.Period,
			&b.Month, &b.Year, &b.AlertThreshold, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budgets: %w", err)
	}

	return budgets, nil
}

func (r *PostgresRepository) AdjustBudgetSpent(ctx context.Context, userID, category string, month, year int, delta float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE budgets
		SET spent_amount = GREATEST(spent_amount + $5, 0), updated_at = NOW()
		WHERE user_id = $1 AND category = $2 AND month = $3 AND year = $4
	`, userID, category, month, year, delta)
	if err != nil {
		return fmt.Errorf("adjust budget spent: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t    Transaction
		kind string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Description, &t.Amount, &kind, &t.Category, &t.Date, &t.Notes, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, err
		}
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	t.Type = Kind(kind)
	return t, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}

	return nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
