package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepository stores identities in a users table and their sessions in
// a refresh_tokens child table.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectIdentity = `
	SELECT id, name, username, email, avatar, password_hash, is_email_verified,
		verification_token, verification_token_expires,
		reset_password_token, reset_password_token_expires,
		last_login, created_at, updated_at
	FROM users
`

func (r *PostgresRepository) Create(ctx context.Context, identity *Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, username, email, avatar, password_hash, is_email_verified,
			verification_token, verification_token_expires, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $10)
	`, identity.ID, identity.Name, identity.Username, identity.Email, identity.Avatar, identity.PasswordHash,
		identity.IsEmailVerified, identity.VerificationToken, identity.VerificationTokenExpires, identity.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrEmailAlreadyRegistered
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Identity{}, ErrNotFound
	}
	return r.getOne(ctx, selectIdentity+`WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (Identity, error) {
	return r.getOne(ctx, selectIdentity+`WHERE email = $1`, email)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (Identity, error) {
	var (
		identity          Identity
		verificationToken sql.NullString
		verificationExp   sql.NullTime
		resetToken        sql.NullString
		resetExp          sql.NullTime
		lastLogin         sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&identity.ID, &identity.Name, &identity.Username, &identity.Email, &identity.Avatar,
		&identity.PasswordHash, &identity.IsEmailVerified,
		&verificationToken, &verificationExp, &resetToken, &resetExp,
		&lastLogin, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("query user: %w", err)
	}

	identity.VerificationToken = verificationToken.String
	identity.VerificationTokenExpires = nullTime(verificationExp)
	identity.ResetPasswordToken = resetToken.String
	identity.ResetPasswordTokenExpires = nullTime(resetExp)
	identity.LastLogin = nullTime(lastLogin)

	tokens, err := r.refreshTokens(ctx, identity.ID)
	if err != nil {
		return Identity{}, err
	}
	identity.RefreshTokens = tokens

	return identity, nil
}

func (r *PostgresRepository) refreshTokens(ctx context.Context, userID string) ([]RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token_hash, created_at, expires_at
		FROM refresh_tokens
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.Token, &t.CreatedAt, &t.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}

	return tokens, nil
}

func (r *PostgresRepository) RecordLogin(ctx context.Context, userID string, entry RefreshToken, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin login tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("stamp last login: %w", err)
	}
	if err := requireAffected(res, ErrNotFound); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE user_id = $1 AND expires_at <= $2
	`, userID, now.UTC()); err != nil {
		return fmt.Errorf("prune refresh tokens: %w", err)
	}

	if err := insertRefreshToken(ctx, tx, userID, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit login tx: %w", err)
	}

	return nil
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, userID, oldDigest string, next RefreshToken, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh rotation tx: %w", err)
	}
	defer tx.Rollback()

	// The row lock taken by DELETE makes a concurrent rotation of the same
	// token see zero affected rows once this transaction commits.
	res, err := tx.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE user_id = $1 AND token_hash = $2 AND expires_at > $3
	`, userID, oldDigest, now.UTC())
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	if err := requireAffected(res, ErrRefreshTokenNotRecognized); err != nil {
		return err
	}

	if err := insertRefreshToken(ctx, tx, userID, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh rotation tx: %w", err)
	}

	return nil
}

func (r *PostgresRepository) RemoveRefreshToken(ctx context.Context, userID, digest string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2
	`, userID, digest)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	return nil
}

func (r *PostgresRepository) SetVerificationToken(ctx context.Context, userID, digest string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token = $2, verification_token_expires = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, digest, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}

	return requireAffected(res, ErrNotFound)
}

func (r *PostgresRepository) ConsumeVerificationToken(ctx context.Context, userID, digest string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_token_expires = NULL, updated_at = $3
		WHERE id = $1 AND is_email_verified = FALSE
			AND verification_token = $2 AND verification_token_expires > $3
	`, userID, digest, now.UTC())
	if err != nil {
		return fmt.Errorf("consume verification token: %w", err)
	}

	return requireAffected(res, ErrInvalidOrExpiredToken)
}

func (r *PostgresRepository) SetResetToken(ctx context.Context, userID, digest string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET reset_password_token = $2, reset_password_token_expires = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, digest, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}

	return requireAffected(res, ErrNotFound)
}

func (r *PostgresRepository) ConsumeResetToken(ctx context.Context, userID, digest, passwordHash string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $3, reset_password_token = NULL, reset_password_token_expires = NULL, updated_at = $4
		WHERE id = $1 AND reset_password_token = $2 AND reset_password_token_expires > $4
	`, userID, digest, passwordHash, now.UTC())
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if err := requireAffected(res, ErrInvalidOrExpiredToken); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("revoke all refresh tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset tx: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ReplacePassword(ctx context.Context, userID, passwordHash, keepDigest string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password change tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, userID, passwordHash, now.UTC())
	if err != nil {
		return fmt.Errorf("replace password: %w", err)
	}
	if err := requireAffected(res, ErrNotFound); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE user_id = $1 AND (token_hash <> $2 OR expires_at <= $3)
	`, userID, keepDigest, now.UTC()); err != nil {
		return fmt.Errorf("revoke other refresh tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit password change tx: %w", err)
	}

	return nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (Identity, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET name = COALESCE($2, name), username = COALESCE($3, username),
			avatar = COALESCE($4, avatar), updated_at = NOW()
		WHERE id = $1
	`, userID, update.Name, update.Username, update.Avatar)
	if err != nil {
		return Identity{}, fmt.Errorf("update profile: %w", err)
	}
	if err := requireAffected(res, ErrNotFound); err != nil {
		return Identity{}, err
	}

	return r.GetByID(ctx, userID)
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (CleanupResult, error) {
	var result CleanupResult

	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale refresh tokens: %w", err)
	}
	if result.DeletedRefreshTokens, err = res.RowsAffected(); err != nil {
		return CleanupResult{}, fmt.Errorf("stale refresh tokens rows affected: %w", err)
	}

	res, err = r.db.ExecContext(ctx, `
		UPDATE users SET verification_token = NULL, verification_token_expires = NULL
		WHERE verification_token_expires <= $1
	`, now.UTC())
	if err != nil {
		return CleanupResult{}, fmt.Errorf("clear stale verification tokens: %w", err)
	}
	if result.ClearedVerificationToken, err = res.RowsAffected(); err != nil {
		return CleanupResult{}, fmt.Errorf("stale verification tokens rows affected: %w", err)
	}

	res, err = r.db.ExecContext(ctx, `
		UPDATE users SET reset_password_token = NULL, reset_password_token_expires = NULL
		WHERE reset_password_token_expires <= $1
	`, now.UTC())
	if err != nil {
		return CleanupResult{}, fmt.Errorf("clear stale reset tokens: %w", err)
	}
	if result.ClearedResetTokens, err = res.RowsAffected(); err != nil {
		return CleanupResult{}, fmt.Errorf("stale reset tokens rows affected: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func insertRefreshToken(ctx context.Context, tx *sql.Tx, userID string, entry RefreshToken) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate refresh token id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), userID, entry.Token, entry.CreatedAt.UTC(), entry.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

func requireAffected(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
