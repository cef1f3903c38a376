package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const usersCollection = "users"

// MongoRepository keeps each identity, including its refresh entries, in a
// single document of the users collection. Every mutation is one conditional
// update so concurrent writers never lose each other's entries.
type MongoRepository struct {
	users *mongo.Collection
}

var _ Repository = (*MongoRepository)(nil)

func NewMongoRepository(database *mongo.Database) *MongoRepository {
	return &MongoRepository{users: database.Collection(usersCollection)}
}

type identityDocument struct {
	ID                        string                 `bson:"_id"`
	Name                      string                 `bson:"name"`
	Username                  string                 `bson:"username"`
	Email                     string                 `bson:"email"`
	Avatar                    string                 `bson:"avatar"`
	PasswordHash              string                 `bson:"passwordHash"`
	IsEmailVerified           bool                   `bson:"isEmailVerified"`
	VerificationToken         string                 `bson:"verificationToken,omitempty"`
	VerificationTokenExpires  *time.Time             `bson:"verificationTokenExpires,omitempty"`
	ResetPasswordToken        string                 `bson:"resetPasswordToken,omitempty"`
	ResetPasswordTokenExpires *time.Time             `bson:"resetPasswordTokenExpires,omitempty"`
	RefreshTokens             []refreshTokenDocument `bson:"refreshTokens"`
	LastLogin                 *time.Time             `bson:"lastLogin,omitempty"`
	CreatedAt                 time.Time              `bson:"createdAt"`
	UpdatedAt                 time.Time              `bson:"updatedAt"`
}

type refreshTokenDocument struct {
	Token     string    `bson:"token"`
	CreatedAt time.Time `bson:"createdAt"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// EnsureIndexes creates the unique email index that backs
// ErrEmailAlreadyRegistered.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create users email index: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, identity *Identity) error {
	doc := toIdentityDocument(*identity)
	if doc.RefreshTokens == nil {
		doc.RefreshTokens = []refreshTokenDocument{}
	}

	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailAlreadyRegistered
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (Identity, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *MongoRepository) GetByEmail(ctx context.Context, email string) (Identity, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.D) (Identity, error) {
	var doc identityDocument
	if err := r.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("find user: %w", err)
	}
	return doc.identity(), nil
}

func (r *MongoRepository) RecordLogin(ctx context.Context, userID string, entry RefreshToken, now time.Time) error {
	now = now.UTC()
	update := bson.A{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refreshTokens", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
				liveTokensExpr(now),
				bson.A{toRefreshTokenDocument(entry)},
			}}}},
			{Key: "lastLogin", Value: now},
			{Key: "updatedAt", Value: now},
		}}},
	}

	res, err := r.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, update)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) RotateRefreshToken(ctx context.Context, userID, oldDigest string, next RefreshToken, now time.Time) error {
	now = now.UTC()
	filter := bson.D{
		{Key: "_id", Value: userID},
		{Key: "refreshTokens", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
			{Key: "token", Value: oldDigest},
			{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
		}}}},
	}
	update := bson.A{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refreshTokens", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
				filterTokensExpr(bson.D{{Key: "$ne", Value: bson.A{"$$t.token", oldDigest}}}),
				bson.A{toRefreshTokenDocument(next)},
			}}}},
			{Key: "updatedAt", Value: now},
		}}},
	}

	res, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrRefreshTokenNotRecognized
	}
	return nil
}

func (r *MongoRepository) RemoveRefreshToken(ctx context.Context, userID, digest string) error {
	_, err := r.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "refreshTokens", Value: bson.D{{Key: "token", Value: digest}}}}}},
	)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *MongoRepository) SetVerificationToken(ctx context.Context, userID, digest string, expiresAt time.Time) error {
	return r.setFields(ctx, userID, bson.D{
		{Key: "verificationToken", Value: digest},
		{Key: "verificationTokenExpires", Value: expiresAt.UTC()},
	})
}

func (r *MongoRepository) ConsumeVerificationToken(ctx context.Context, userID, digest string, now time.Time) error {
	now = now.UTC()
	filter := bson.D{
		{Key: "_id", Value: userID},
		{Key: "isEmailVerified", Value: false},
		{Key: "verificationToken", Value: digest},
		{Key: "verificationTokenExpires", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "isEmailVerified", Value: true}, {Key: "updatedAt", Value: now}}},
		{Key: "$unset", Value: bson.D{{Key: "verificationToken", Value: ""}, {Key: "verificationTokenExpires", Value: ""}}},
	}

	res, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("consume verification token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrInvalidOrExpiredToken
	}
	return nil
}

func (r *MongoRepository) SetResetToken(ctx context.Context, userID, digest string, expiresAt time.Time) error {
	return r.setFields(ctx, userID, bson.D{
		{Key: "resetPasswordToken", Value: digest},
		{Key: "resetPasswordTokenExpires", Value: expiresAt.UTC()},
	})
}

func (r *MongoRepository) ConsumeResetToken(ctx context.Context, userID, digest, passwordHash string, now time.Time) error {
	now = now.UTC()
	filter := bson.D{
		{Key: "_id", Value: userID},
		{Key: "resetPasswordToken", Value: digest},
		{Key: "resetPasswordTokenExpires", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "passwordHash", Value: passwordHash},
			{Key: "refreshTokens", Value: bson.A{}},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$unset", Value: bson.D{{Key: "resetPasswordToken", Value: ""}, {Key: "resetPasswordTokenExpires", Value: ""}}},
	}

	res, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrInvalidOrExpiredToken
	}
	return nil
}

func (r *MongoRepository) ReplacePassword(ctx context.Context, userID, passwordHash, keepDigest string, now time.Time) error {
	now = now.UTC()
	keep := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{"$$t.token", keepDigest}}},
		bson.D{{Key: "$gt", Value: bson.A{"$$t.expiresAt", now}}},
	}}}
	if keepDigest == "" {
		keep = bson.D{{Key: "$literal", Value: false}}
	}
	update := bson.A{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "passwordHash", Value: passwordHash},
			{Key: "refreshTokens", Value: filterTokensExpr(keep)},
			{Key: "updatedAt", Value: now},
		}}},
	}

	res, err := r.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, update)
	if err != nil {
		return fmt.Errorf("replace password: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (Identity, error) {
	set := bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}
	if update.Name != nil {
		set = append(set, bson.E{Key: "name", Value: *update.Name})
	}
	if update.Username != nil {
		set = append(set, bson.E{Key: "username", Value: *update.Username})
	}
	if update.Avatar != nil {
		set = append(set, bson.E{Key: "avatar", Value: *update.Avatar})
	}

	var doc identityDocument
	err := r.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("update profile: %w", err)
	}
	return doc.identity(), nil
}

// PurgeExpired counts dead refresh entries right before pulling them, so the
// reported count can trail a concurrent login that pruned the same entries.
func (r *MongoRepository) PurgeExpired(ctx context.Context, now time.Time) (CleanupResult, error) {
	now = now.UTC()
	var result CleanupResult

	dead, err := r.countDeadRefreshTokens(ctx, now)
	if err != nil {
		return CleanupResult{}, err
	}
	if _, err := r.users.UpdateMany(ctx,
		bson.D{{Key: "refreshTokens.expiresAt", Value: bson.D{{Key: "$lte", Value: now}}}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "refreshTokens", Value: bson.D{
			{Key: "expiresAt", Value: bson.D{{Key: "$lte", Value: now}}},
		}}}}},
	); err != nil {
		return CleanupResult{}, fmt.Errorf("pull stale refresh tokens: %w", err)
	}
	result.DeletedRefreshTokens = dead

	res, err := r.users.UpdateMany(ctx,
		bson.D{{Key: "verificationTokenExpires", Value: bson.D{{Key: "$lte", Value: now}}}},
		bson.D{{Key: "$unset", Value: bson.D{{Key: "verificationToken", Value: ""}, {Key: "verificationTokenExpires", Value: ""}}}},
	)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("clear stale verification tokens: %w", err)
	}
	result.ClearedVerificationToken = res.ModifiedCount

	res, err = r.users.UpdateMany(ctx,
		bson.D{{Key: "resetPasswordTokenExpires", Value: bson.D{{Key: "$lte", Value: now}}}},
		bson.D{{Key: "$unset", Value: bson.D{{Key: "resetPasswordToken", Value: ""}, {Key: "resetPasswordTokenExpires", Value: ""}}}},
	)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("clear stale reset tokens: %w", err)
	}
	result.ClearedResetTokens = res.ModifiedCount

	return result, nil
}

func (r *MongoRepository) countDeadRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "refreshTokens.expiresAt", Value: bson.D{{Key: "$lte", Value: now}}}}}},
		{{Key: "$project", Value: bson.D{{Key: "dead", Value: bson.D{{Key: "$size", Value: filterTokensExpr(
			bson.D{{Key: "$lte", Value: bson.A{"$$t.expiresAt", now}}},
		)}}}}}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: nil}, {Key: "total", Value: bson.D{{Key: "$sum", Value: "$dead"}}}}}},
	}

	cursor, err := r.users.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("count stale refresh tokens: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode stale refresh token count: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.users.Database().Client().Ping(ctx, nil)
}

func (r *MongoRepository) setFields(ctx context.Context, userID string, fields bson.D) error {
	fields = append(fields, bson.E{Key: "updatedAt", Value: time.Now().UTC()})
	res, err := r.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, bson.D{{Key: "$set", Value: fields}})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func liveTokensExpr(now time.Time) bson.D {
	return filterTokensExpr(bson.D{{Key: "$gt", Value: bson.A{"$$t.expiresAt", now}}})
}

func filterTokensExpr(cond bson.D) bson.D {
	return bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$refreshTokens", bson.A{}}}}},
		{Key: "as", Value: "t"},
		{Key: "cond", Value: cond},
	}}}
}

func toIdentityDocument(identity Identity) identityDocument {
	doc := identityDocument{
		ID:                        identity.ID,
		Name:                      identity.Name,
		Username:                  identity.Username,
		Email:                     identity.Email,
		Avatar:                    identity.Avatar,
		PasswordHash:              identity.PasswordHash,
		IsEmailVerified:           identity.IsEmailVerified,
		VerificationToken:         identity.VerificationToken,
		VerificationTokenExpires:  identity.VerificationTokenExpires,
		ResetPasswordToken:        identity.ResetPasswordToken,
		ResetPasswordTokenExpires: identity.ResetPasswordTokenExpires,
		LastLogin:                 identity.LastLogin,
		CreatedAt:                 identity.CreatedAt,
		UpdatedAt:                 identity.UpdatedAt,
	}
	for _, t := range identity.RefreshTokens {
		doc.RefreshTokens = append(doc.RefreshTokens, toRefreshTokenDocument(t))
	}
	return doc
}

func toRefreshTokenDocument(t RefreshToken) refreshTokenDocument {
	return refreshTokenDocument{Token: t.Token, CreatedAt: t.CreatedAt.UTC(), ExpiresAt: t.ExpiresAt.UTC()}
}

func (d identityDocument) identity() Identity {
	identity := Identity{
		ID:                        d.ID,
		Name:                      d.Name,
		Username:                  d.Username,
		Email:                     d.Email,
		Avatar:                    d.Avatar,
		PasswordHash:              d.PasswordHash,
		IsEmailVerified:           d.IsEmailVerified,
		VerificationToken:         d.VerificationToken,
		VerificationTokenExpires:  d.VerificationTokenExpires,
		ResetPasswordToken:        d.ResetPasswordToken,
		ResetPasswordTokenExpires: d.ResetPasswordTokenExpires,
		LastLogin:                 d.LastLogin,
		CreatedAt:                 d.CreatedAt,
		UpdatedAt:                 d.UpdatedAt,
	}
	for _, t := range d.RefreshTokens {
		identity.RefreshTokens = append(identity.RefreshTokens, RefreshToken{Token: t.Token, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt})
	}
	return identity
}
