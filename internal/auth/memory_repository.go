package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepository keeps identities in process memory. Every method holds the
// lock for its whole read and write, which makes each call atomic in the same
// sense as a single document update.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*Identity
	byEmail map[string]string
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, identity *Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[identity.Email]; taken {
		return ErrEmailAlreadyRegistered
	}
	stored := cloneIdentity(*identity)
	r.byID[identity.ID] = &stored
	r.byEmail[identity.Email] = identity.ID
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return cloneIdentity(*identity), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return cloneIdentity(*r.byID[id]), nil
}

func (r *MemoryRepository) RecordLogin(_ context.Context, userID string, entry RefreshToken, now time.Time) error {
	return r.update(userID, func(identity *Identity) error {
		identity.RefreshTokens = append(liveTokens(identity.RefreshTokens, now), entry)
		identity.LastLogin = &now
		return nil
	})
}

func (r *MemoryRepository) RotateRefreshToken(_ context.Context, userID, oldDigest string, next RefreshToken, now time.Time) error {
	return r.update(userID, func(identity *Identity) error {
		idx := -1
		for i, t := range identity.RefreshTokens {
			if t.Token == oldDigest && t.Alive(now) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrRefreshTokenNotRecognized
		}
		kept := make([]RefreshToken, 0, len(identity.RefreshTokens))
		kept = append(kept, identity.RefreshTokens[:idx]...)
		kept = append(kept, identity.RefreshTokens[idx+1:]...)
		identity.RefreshTokens = append(kept, next)
		return nil
	})
}

func (r *MemoryRepository) RemoveRefreshToken(_ context.Context, userID, digest string) error {
	err := r.update(userID, func(identity *Identity) error {
		kept := identity.RefreshTokens[:0]
		for _, t := range identity.RefreshTokens {
			if t.Token != digest {
				kept = append(kept, t)
			}
		}
		identity.RefreshTokens = kept
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (r *MemoryRepository) SetVerificationToken(_ context.Context, userID, digest string, expiresAt time.Time) error {
	return r.update(userID, func(identity *Identity) error {
		identity.VerificationToken = digest
		identity.VerificationTokenExpires = &expiresAt
		return nil
	})
}

func (r *MemoryRepository) ConsumeVerificationToken(_ context.Context, userID, digest string, now time.Time) error {
	err := r.update(userID, func(identity *Identity) error {
		if identity.IsEmailVerified || !liveSecret(identity.VerificationToken, identity.VerificationTokenExpires, digest, now) {
			return ErrInvalidOrExpiredToken
		}
		identity.IsEmailVerified = true
		identity.VerificationToken = ""
		identity.VerificationTokenExpires = nil
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidOrExpiredToken
	}
	return err
}

func (r *MemoryRepository) SetResetToken(_ context.Context, userID, digest string, expiresAt time.Time) error {
	return r.update(userID, func(identity *Identity) error {
		identity.ResetPasswordToken = digest
		identity.ResetPasswordTokenExpires = &expiresAt
		return nil
	})
}

func (r *MemoryRepository) ConsumeResetToken(_ context.Context, userID, digest, passwordHash string, now time.Time) error {
	err := r.update(userID, func(identity *Identity) error {
		if !liveSecret(identity.ResetPasswordToken, identity.ResetPasswordTokenExpires, digest, now) {
			return ErrInvalidOrExpiredToken
		}
		identity.PasswordHash = passwordHash
		identity.ResetPasswordToken = ""
		identity.ResetPasswordTokenExpires = nil
		identity.RefreshTokens = nil
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidOrExpiredToken
	}
	return err
}

func (r *MemoryRepository) ReplacePassword(_ context.Context, userID, passwordHash, keepDigest string, now time.Time) error {
	return r.update(userID, func(identity *Identity) error {
		identity.PasswordHash = passwordHash
		var kept []RefreshToken
		for _, t := range identity.RefreshTokens {
			if keepDigest != "" && t.Token == keepDigest && t.Alive(now) {
				kept = append(kept, t)
			}
		}
		identity.RefreshTokens = kept
		return nil
	})
}

func (r *MemoryRepository) UpdateProfile(_ context.Context, userID string, update ProfileUpdate) (Identity, error) {
	var updated Identity
	err := r.update(userID, func(identity *Identity) error {
		if update.Name != nil {
			identity.Name = *update.Name
		}
		if update.Username != nil {
			identity.Username = *update.Username
		}
		if update.Avatar != nil {
			identity.Avatar = *update.Avatar
		}
		updated = cloneIdentity(*identity)
		return nil
	})
	return updated, err
}

func (r *MemoryRepository) PurgeExpired(_ context.Context, now time.Time) (CleanupResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result CleanupResult
	for _, identity := range r.byID {
		live := liveTokens(identity.RefreshTokens, now)
		result.DeletedRefreshTokens += int64(len(identity.RefreshTokens) - len(live))
		identity.RefreshTokens = live

		if identity.VerificationTokenExpires != nil && !now.Before(*identity.VerificationTokenExpires) {
			identity.VerificationToken = ""
			identity.VerificationTokenExpires = nil
			result.ClearedVerificationToken++
		}
		if identity.ResetPasswordTokenExpires != nil && !now.Before(*identity.ResetPasswordTokenExpires) {
			identity.ResetPasswordToken = ""
			identity.ResetPasswordTokenExpires = nil
			result.ClearedResetTokens++
		}
	}
	return result, nil
}

func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryRepository) update(userID string, mutate func(*Identity) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byID[userID]
	if !ok {
		return ErrNotFound
	}
	working := cloneIdentity(*identity)
	if err := mutate(&working); err != nil {
		return err
	}
	working.UpdatedAt = time.Now().UTC()
	*identity = working
	return nil
}

func liveTokens(tokens []RefreshToken, now time.Time) []RefreshToken {
	live := make([]RefreshToken, 0, len(tokens)+1)
	for _, t := range tokens {
		if t.Alive(now) {
			live = append(live, t)
		}
	}
	return live
}

func liveSecret(stored string, expires *time.Time, digest string, now time.Time) bool {
	return stored != "" && stored == digest && expires != nil && now.Before(*expires)
}

func cloneIdentity(identity Identity) Identity {
	if identity.RefreshTokens != nil {
		identity.RefreshTokens = append([]RefreshToken(nil), identity.RefreshTokens...)
	}
	return identity
}
