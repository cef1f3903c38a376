package auth

import (
	"context"
	"time"
)

// Repository is the credential store. Every mutating method is a single atomic
// write against the backing store so that concurrent requests for the same
// identity never overwrite each other's refresh tokens.
type Repository interface {
	// Create inserts a new identity. A taken email yields ErrEmailAlreadyRegistered.
	Create(ctx context.Context, identity *Identity) error
	GetByID(ctx context.Context, id string) (Identity, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)

	// RecordLogin drops refresh entries dead at now, appends entry and stamps
	// the last login time.
	RecordLogin(ctx context.Context, userID string, entry RefreshToken, now time.Time) error
	// RotateRefreshToken swaps the live entry oldDigest for next. It fails with
	// ErrRefreshTokenNotRecognized when no such live entry exists.
	RotateRefreshToken(ctx context.Context, userID, oldDigest string, next RefreshToken, now time.Time) error
	// RemoveRefreshToken deletes the entry with digest if present.
	RemoveRefreshToken(ctx context.Context, userID, digest string) error

	SetVerificationToken(ctx context.Context, userID, digest string, expiresAt time.Time) error
	// ConsumeVerificationToken marks the identity verified if digest is its
	// live verification token, clearing the token in the same write.
	ConsumeVerificationToken(ctx context.Context, userID, digest string, now time.Time) error

	SetResetToken(ctx context.Context, userID, digest string, expiresAt time.Time) error
	// ConsumeResetToken replaces the password hash if digest is the live reset
	// token, clearing it and every refresh entry in the same write.
	ConsumeResetToken(ctx context.Context, userID, digest, passwordHash string, now time.Time) error

	// ReplacePassword sets passwordHash and keeps only the live refresh entry
	// whose digest is keepDigest.
	ReplacePassword(ctx context.Context, userID, passwordHash, keepDigest string, now time.Time) error

	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (Identity, error)

	// PurgeExpired removes dead refresh entries and clears lapsed
	// verification and reset tokens.
	PurgeExpired(ctx context.Context, now time.Time) (CleanupResult, error)

	Ping(ctx context.Context) error
}
