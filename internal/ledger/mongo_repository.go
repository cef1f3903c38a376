package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type MongoRepository struct {
	transactions *mongo.Collection
	budgets      *mongo.Collection
}

var _ Repository = (*MongoRepository)(nil)

func NewMongoRepository(database *mongo.Database) *MongoRepository {
	return &MongoRepository{
		transactions: database.Collection("transactions"),
		budgets:      database.Collection("budgets"),
	}
}

type transactionDocument struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"userId"`
	Description string    `bson:"description"`
	Amount      float64   `bson:"amount"`
	Type        string    `bson:"type"`
	Category    string    `bson:"category"`
	Date        time.Time `bson:"date"`
	Notes       string    `bson:"notes"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

type budgetDocument struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"userId"`
	Category       string    `bson:"category"`
	BudgetAmount   float64   `bson:"budgetAmount"`
	SpentAmount    float64   `bson:"spentAmount"`
	Period         string    `bson:"period"`
	Month          int       `bson:"month"`
	Year           int       `bson:"year"`
	AlertThreshold int       `bson:"alertThreshold"`
	IsActive       bool      `bson:"isActive"`
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

// EnsureIndexes creates the listing indexes and the one-budget-per-month
// uniqueness constraint.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "type", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}

	_, err = r.budgets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "userId", Value: 1},
			{Key: "category", Value: 1},
			{Key: "month", Value: 1},
			{Key: "year", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("budgets_slot_unique"),
	})
	if err != nil {
		return fmt.Errorf("create budget index: %w", err)
	}
	return nil
}

func (r *MongoRepository) ListTransactions(ctx context.Context, userID string, filter Filter) ([]Transaction, error) {
	query := bson.D{{Key: "userId", Value: userID}}
	if filter.Category != "" {
		query = append(query, bson.E{Key: "category", Value: filter.Category})
	}
	if filter.Type != "" {
		query = append(query, bson.E{Key: "type", Value: string(filter.Type)})
	}
	if filter.From != nil || filter.To != nil {
		dateRange := bson.D{}
		if filter.From != nil {
			dateRange = append(dateRange, bson.E{Key: "$gte", Value: filter.From.UTC()})
		}
		if filter.To != nil {
			dateRange = append(dateRange, bson.E{Key: "$lte", Value: filter.To.UTC()})
		}
		query = append(query, bson.E{Key: "date", Value: dateRange})
	}
	if filter.Search != "" {
		query = append(query, bson.E{Key: "description", Value: bson.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}})
	}

	field := filter.SortBy
	if field == "" {
		field = "date"
	}
	direction := -1
	if filter.Ascending {
		direction = 1
	}

	opts := options.Find().SetSort(bson.D{{Key: field, Value: direction}, {Key: "_id", Value: direction}})
	return r.find(ctx, query, opts)
}

func (r *MongoRepository) RecentTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return r.find(ctx, bson.D{{Key: "userId", Value: userID}}, opts)
}

func (r *MongoRepository) find(ctx context.Context, query bson.D, opts *options.FindOptionsBuilder) ([]Transaction, error) {
	cursor, err := r.transactions.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []transactionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}

	transactions := make([]Transaction, 0, len(docs))
	for _, doc := range docs {
		transactions = append(transactions, doc.transaction())
	}
	return transactions, nil
}

func (r *MongoRepository) GetTransaction(ctx context.Context, userID, id string) (Transaction, error) {
	var doc transactionDocument
	err := r.transactions.FindOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "userId", Value: userID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, fmt.Errorf("find transaction: %w", err)
	}
	return doc.transaction(), nil
}

func (r *MongoRepository) CreateTransaction(ctx context.Context, t Transaction) error {
	if _, err := r.transactions.InsertOne(ctx, toTransactionDocument(t)); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *MongoRepository) UpdateTransaction(ctx context.Context, t Transaction) error {
	res, err := r.transactions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: t.ID}, {Key: "userId", Value: t.UserID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "description", Value: t.Description},
			{Key: "amount", Value: t.Amount},
			{Key: "type", Value: string(t.Type)},
			{Key: "category", Value: t.Category},
			{Key: "date", Value: t.Date.UTC()},
			{Key: "notes", Value: t.Notes},
			{Key: "updatedAt", Value: t.UpdatedAt.UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *MongoRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := r.transactions.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "userId", Value: userID}})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *MongoRepository) CreateBudget(ctx context.Context, b Budget) error {
	if _, err := r.budgets.InsertOne(ctx, budgetDocument(b)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrBudgetExists
		}
		return fmt.Errorf("insert budget: %w", err)
	}
	return nil
}

func (r *MongoRepository) ListBudgets(ctx context.Context, userID string, month, year int) ([]Budget, error) {
	cursor, err := r.budgets.Find(ctx,
		bson.D{{Key: "userId", Value: userID}, {Key: "month", Value: month}, {Key: "year", Value: year}},
		options.Find().SetSort(bson.D{{Key: "category", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []budgetDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode budgets: %w", err)
	}

	budgets := make([]Budget, 0, len(docs))
	for _, doc := range docs {
		budgets = append(budgets, Budget(doc))
	}
	return budgets, nil
}

func (r *MongoRepository) AdjustBudgetSpent(ctx context.Context, userID, category string, month, year int, delta float64) error {
	update := bson.A{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "spentAmount", Value: bson.D{{Key: "$max", Value: bson.A{
				bson.D{{Key: "$add", Value: bson.A{"$spentAmount", delta}}},
				0,
			}}}},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	}

	_, err := r.budgets.UpdateOne(ctx, bson.D{
		{Key: "userId", Value: userID},
		{Key: "category", Value: category},
		{Key: "month", Value: month},
		{Key: "year", Value: year},
	}, update)
	if err != nil {
		return fmt.Errorf("adjust budget spent: %w", err)
	}
	return nil
}

func toTransactionDocument(t Transaction) transactionDocument {
	return transactionDocument{
		ID:          t.ID,
		UserID:      t.UserID,
		Description: t.Description,
		Amount:      t.Amount,
		Type:        string(t.Type),
		Category:    t.Category,
		Date:        t.Date.UTC(),
		Notes:       t.Notes,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
}

func (d transactionDocument) transaction() Transaction {
	return Transaction{
		ID:          d.ID,
		UserID:      d.UserID,
		Description: d.Description,
		Amount:      d.Amount,
		Type:        Kind(d.Type),
		Category:    d.Category,
		Date:        d.Date,
		Notes:       d.Notes,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
