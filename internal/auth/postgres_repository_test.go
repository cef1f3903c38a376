package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "0195a7c2-6f1e-7d3a-9b2c-1f4e5d6a7b8c"

func newMockedRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func TestPostgresCreateMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockedRepository(t)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	err := repo.Create(context.Background(), &Identity{ID: testUserID, Email: "ana@example.com", CreatedAt: testEpoch})
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
}

func TestPostgresGetByIDRejectsMalformedID(t *testing.T) {
	repo, _ := newMockedRepository(t)

	_, err := repo.GetByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresGetByEmailLoadsSessions(t *testing.T) {
	repo, mock := newMockedRepository(t)
	verificationExp := testEpoch.Add(24 * time.Hour)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email\s*=\s*\$1`).
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "username", "email", "avatar", "password_hash", "is_email_verified",
			"verification_token", "verification_token_expires",
			"reset_password_token", "reset_password_token_expires",
			"last_login", "created_at", "updated_at",
		}).AddRow(
			testUserID, "Ana Lee", "analee", "ana@example.com", "", "hash", false,
			"digest-v", verificationExp,
			nil, nil,
			nil, testEpoch, testEpoch,
		))
	mock.ExpectQuery(`FROM\s+refresh_tokens\s+WHERE\s+user_id\s*=\s*\$1`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"token_hash", "created_at", "expires_at"}).
			AddRow("digest-r", testEpoch, testEpoch.Add(7*24*time.Hour)))

	identity, err := repo.GetByEmail(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ana Lee", identity.Name)
	assert.Equal(t, "digest-v", identity.VerificationToken)
	require.NotNil(t, identity.VerificationTokenExpires)
	assert.True(t, verificationExp.Equal(*identity.VerificationTokenExpires))
	assert.Empty(t, identity.ResetPasswordToken)
	assert.Nil(t, identity.ResetPasswordTokenExpires)
	assert.Nil(t, identity.LastLogin)
	require.Len(t, identity.RefreshTokens, 1)
	assert.Equal(t, "digest-r", identity.RefreshTokens[0].Token)
}

func TestPostgresGetByEmailNotFound(t *testing.T) {
	repo, mock := newMockedRepository(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email`).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRotateRefreshToken(t *testing.T) {
	t.Run("swaps live entry", func(t *testing.T) {
		repo, mock := newMockedRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+token_hash\s*=\s*\$2\s+AND\s+expires_at\s*>\s*\$3`).
			WithArgs(testUserID, "old", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).
			WithArgs(sqlmock.AnyArg(), testUserID, "new", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		next := RefreshToken{Token: "new", CreatedAt: testEpoch, ExpiresAt: testEpoch.Add(time.Hour)}
		require.NoError(t, repo.RotateRefreshToken(context.Background(), testUserID, "old", next, testEpoch))
	})

	t.Run("unknown entry rolls back", func(t *testing.T) {
		repo, mock := newMockedRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE\s+FROM\s+refresh_tokens`).
			WithArgs(testUserID, "old", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		next := RefreshToken{Token: "new", CreatedAt: testEpoch, ExpiresAt: testEpoch.Add(time.Hour)}
		err := repo.RotateRefreshToken(context.Background(), testUserID, "old", next, testEpoch)
		assert.ErrorIs(t, err, ErrRefreshTokenNotRecognized)
	})
}

func TestPostgresConsumeResetTokenRevokesSessions(t *testing.T) {
	repo, mock := newMockedRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+password_hash\s*=\s*\$3`).
		WithArgs(testUserID, "digest", "new-hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+user_id\s*=\s*\$1`).
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, repo.ConsumeResetToken(context.Background(), testUserID, "digest", "new-hash", testEpoch))
}

func TestPostgresConsumeResetTokenRejectsStaleToken(t *testing.T) {
	repo, mock := newMockedRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE\s+users`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ConsumeResetToken(context.Background(), testUserID, "digest", "new-hash", testEpoch)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestPostgresUpdateProfileMissingUser(t *testing.T) {
	repo, mock := newMockedRepository(t)
	name := "Ana"

	mock.ExpectExec(`UPDATE\s+users`).
		WithArgs(testUserID, "Ana", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.UpdateProfile(context.Background(), testUserID, ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresPurgeExpired(t *testing.T) {
	repo, mock := newMockedRepository(t)

	mock.ExpectExec(`DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at\s*<=\s*\$1`).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`SET\s+verification_token\s*=\s*NULL`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`SET\s+reset_password_token\s*=\s*NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := repo.PurgeExpired(context.Background(), testEpoch)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{DeletedRefreshTokens: 4, ClearedVerificationToken: 2, ClearedResetTokens: 1}, result)
}
