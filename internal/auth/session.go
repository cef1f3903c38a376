package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SessionService issues, rotates and revokes access/refresh token pairs.
type SessionService struct {
	repo                 Repository
	hasher               PasswordHasher
	issuer               *Issuer
	metrics              *Metrics
	requireVerifiedLogin bool

	dummyOnce sync.Once
	dummyHash string
}

func NewSessionService(repo Repository, hasher PasswordHasher, issuer *Issuer) *SessionService {
	return &SessionService{repo: repo, hasher: hasher, issuer: issuer}
}

// WithLoginPolicy makes Login refuse identities whose email is unverified.
func (s *SessionService) WithLoginPolicy(requireVerified bool) *SessionService {
	s.requireVerifiedLogin = requireVerified
	return s
}

func (s *SessionService) WithMetrics(metrics *Metrics) *SessionService {
	s.metrics = metrics
	return s
}

func (s *SessionService) Login(ctx context.Context, email, password string) (result LoginResult, err error) {
	defer func() { s.metrics.Observe("login", err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	identity, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Keep the response time of unknown emails close to wrong passwords.
			s.hasher.Verify(password, s.placeholderHash())
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("load user by email: %w", err)
	}

	if !s.hasher.Verify(password, identity.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if s.requireVerifiedLogin && !identity.IsEmailVerified {
		return LoginResult{}, ErrEmailNotVerified
	}

	tokens, entry, err := s.issuePair(identity)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.repo.RecordLogin(ctx, identity.ID, entry, entry.CreatedAt); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Deleted since the lookup; answer like any unknown email.
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("record login: %w", err)
	}

	identity.LastLogin = &entry.CreatedAt
	return LoginResult{User: identity.Profile(), Tokens: tokens}, nil
}

func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (tokens Tokens, err error) {
	defer func() { s.metrics.Observe("refresh", err) }()

	refreshToken = strings.TrimSpace(refreshToken)
	claims, err := s.issuer.Verify(KindRefresh, refreshToken)
	if err != nil {
		return Tokens{}, ErrInvalidRefreshToken
	}

	identity, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Tokens{}, ErrUserNotFound
		}
		return Tokens{}, fmt.Errorf("load user by id: %w", err)
	}

	tokens, entry, err := s.issuePair(identity)
	if err != nil {
		return Tokens{}, err
	}
	if err := s.repo.RotateRefreshToken(ctx, identity.ID, Digest(refreshToken), entry, entry.CreatedAt); err != nil {
		if errors.Is(err, ErrRefreshTokenNotRecognized) {
			return Tokens{}, ErrRefreshTokenNotRecognized
		}
		return Tokens{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	return tokens, nil
}

// Logout forgets refreshToken for userID. Unknown or empty tokens are ignored.
func (s *SessionService) Logout(ctx context.Context, userID, refreshToken string) (err error) {
	defer func() { s.metrics.Observe("logout", err) }()

	refreshToken = strings.TrimSpace(refreshToken)
	if userID == "" || refreshToken == "" {
		return nil
	}
	if err := s.repo.RemoveRefreshToken(ctx, userID, Digest(refreshToken)); err != nil {
		return fmt.Errorf("remove refresh token: %w", err)
	}
	return nil
}

func (s *SessionService) issuePair(identity Identity) (Tokens, RefreshToken, error) {
	claims := Claims{UserID: identity.ID, Email: identity.Email}

	access, _, err := s.issuer.Issue(KindAccess, claims)
	if err != nil {
		return Tokens{}, RefreshToken{}, err
	}
	refresh, expiresAt, err := s.issuer.Issue(KindRefresh, claims)
	if err != nil {
		return Tokens{}, RefreshToken{}, err
	}

	entry := RefreshToken{
		Token:     Digest(refresh),
		CreatedAt: s.issuer.Now(),
		ExpiresAt: expiresAt.UTC(),
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, entry, nil
}

func (s *SessionService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash(uuid.NewString())
		if err == nil {
			s.dummyHash = digest
		}
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
