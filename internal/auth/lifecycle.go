package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"finora/internal/observability"
)

const minNameLength = 3

// Notifier delivers account emails. Delivery happens out of band: a failure
// never undoes state that was already persisted.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, name, token string) error
	SendPasswordResetEmail(ctx context.Context, email, name, token string) error
	SendWelcomeEmail(ctx context.Context, email, name string) error
}

// CredentialService runs signup, email verification and the password flows.
type CredentialService struct {
	repo     Repository
	hasher   PasswordHasher
	issuer   *Issuer
	notifier Notifier
	logger   *observability.Logger
	metrics  *Metrics
}

func NewCredentialService(repo Repository, hasher PasswordHasher, issuer *Issuer, notifier Notifier, logger *observability.Logger) *CredentialService {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CredentialService{
		repo:     repo,
		hasher:   hasher,
		issuer:   issuer,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *CredentialService) WithMetrics(metrics *Metrics) *CredentialService {
	s.metrics = metrics
	return s
}

// SignUp registers an unverified identity and sends it a verification link.
func (s *CredentialService) SignUp(ctx context.Context, input SignUpInput) (profile Profile, err error) {
	defer func() { s.metrics.Observe("signup", err) }()

	input.Name = strings.TrimSpace(input.Name)
	input.Username = strings.TrimSpace(input.Username)
	input.Email = normalizeEmail(input.Email)
	if err := validateSignUp(input); err != nil {
		return Profile{}, err
	}

	digest, err := s.hasher.Hash(input.Password)
	if err != nil {
		return Profile{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Profile{}, fmt.Errorf("generate user id: %w", err)
	}

	now := s.issuer.Now()
	identity := Identity{
		ID:           id.String(),
		Name:         input.Name,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: digest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	token, expiresAt, err := s.issuer.Issue(KindEmailVerification, Claims{UserID: identity.ID, Email: identity.Email})
	if err != nil {
		return Profile{}, err
	}
	expiresAt = expiresAt.UTC()
	identity.VerificationToken = Digest(token)
	identity.VerificationTokenExpires = &expiresAt

	if err := s.repo.Create(ctx, &identity); err != nil {
		if errors.Is(err, ErrEmailAlreadyRegistered) {
			return Profile{}, ErrEmailAlreadyRegistered
		}
		return Profile{}, fmt.Errorf("create user: %w", err)
	}

	s.notify("verification", identity.ID, func() error {
		return s.notifier.SendVerificationEmail(ctx, identity.Email, identity.Name, token)
	})

	return identity.Profile(), nil
}

// VerifyEmail consumes a verification token and marks its identity verified.
func (s *CredentialService) VerifyEmail(ctx context.Context, token string) (profile Profile, err error) {
	defer func() { s.metrics.Observe("verify_email", err) }()

	token = strings.TrimSpace(token)
	claims, err := s.issuer.Verify(KindEmailVerification, token)
	if err != nil {
		return Profile{}, ErrInvalidOrExpiredToken
	}

	identity, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, ErrInvalidOrExpiredToken
		}
		return Profile{}, fmt.Errorf("load user by id: %w", err)
	}
	if identity.IsEmailVerified {
		return Profile{}, ErrAlreadyVerified
	}

	if err := s.repo.ConsumeVerificationToken(ctx, identity.ID, Digest(token), s.issuer.Now()); err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			return Profile{}, ErrInvalidOrExpiredToken
		}
		return Profile{}, fmt.Errorf("consume verification token: %w", err)
	}

	identity.IsEmailVerified = true
	identity.VerificationToken = ""
	identity.VerificationTokenExpires = nil

	s.notify("welcome", identity.ID, func() error {
		return s.notifier.SendWelcomeEmail(ctx, identity.Email, identity.Name)
	})

	return identity.Profile(), nil
}

// ResendVerification replaces the outstanding verification token, which
// invalidates every earlier link.
func (s *CredentialService) ResendVerification(ctx context.Context, email string) (err error) {
	defer func() { s.metrics.Observe("resend_verification", err) }()

	email = normalizeEmail(email)
	if email == "" {
		return invalid("Email is required")
	}

	identity, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load user by email: %w", err)
	}
	if identity.IsEmailVerified {
		return ErrAlreadyVerified
	}

	token, expiresAt, err := s.issuer.Issue(KindEmailVerification, Claims{UserID: identity.ID, Email: identity.Email})
	if err != nil {
		return err
	}
	if err := s.repo.SetVerificationToken(ctx, identity.ID, Digest(token), expiresAt); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	s.notify("verification", identity.ID, func() error {
		return s.notifier.SendVerificationEmail(ctx, identity.Email, identity.Name, token)
	})
	return nil
}

// ForgotPassword stores a fresh reset token and mails it. Unknown emails
// yield ErrNotFound.
func (s *CredentialService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { s.metrics.Observe("forgot_password", err) }()

	email = normalizeEmail(email)
	if !validEmail(email) {
		return invalid("A valid email is required")
	}

	identity, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load user by email: %w", err)
	}

	token, expiresAt, err := s.issuer.Issue(KindPasswordReset, Claims{UserID: identity.ID, Email: identity.Email})
	if err != nil {
		return err
	}
	if err := s.repo.SetResetToken(ctx, identity.ID, Digest(token), expiresAt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.notify("password_reset", identity.ID, func() error {
		return s.notifier.SendPasswordResetEmail(ctx, identity.Email, identity.Name, token)
	})
	return nil
}

// ResetPassword replaces the password of the identity a live reset token
// belongs to and revokes all of its sessions.
func (s *CredentialService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	defer func() { s.metrics.Observe("reset_password", err) }()

	if err := validatePassword(newPassword, MinPasswordLength); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	claims, err := s.issuer.Verify(KindPasswordReset, token)
	if err != nil {
		return ErrInvalidOrExpiredToken
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repo.ConsumeResetToken(ctx, claims.UserID, Digest(token), digest, s.issuer.Now()); err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) || errors.Is(err, ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}
	return nil
}

// ChangePassword replaces the password of userID and revokes every session
// except the one whose refresh token is keepRefreshToken.
func (s *CredentialService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepRefreshToken string) (err error) {
	defer func() { s.metrics.Observe("change_password", err) }()

	if currentPassword == "" {
		return invalid("Current password is required")
	}
	if err := validatePassword(newPassword, MinPasswordLength); err != nil {
		return err
	}

	identity, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load user by id: %w", err)
	}
	if !s.hasher.Verify(currentPassword, identity.PasswordHash) {
		return ErrInvalidCredentials
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	var keep string
	if keepRefreshToken = strings.TrimSpace(keepRefreshToken); keepRefreshToken != "" {
		keep = Digest(keepRefreshToken)
	}
	if err := s.repo.ReplacePassword(ctx, identity.ID, digest, keep, s.issuer.Now()); err != nil {
		return fmt.Errorf("replace password: %w", err)
	}
	return nil
}

func (s *CredentialService) notify(kind, userID string, send func() error) {
	if s.notifier == nil {
		return
	}
	if err := send(); err != nil {
		s.logger.Error("notification_failed", map[string]any{
			"kind":    kind,
			"user_id": userID,
			"error":   err.Error(),
		})
		sentry.CaptureException(err)
	}
}

func validateSignUp(input SignUpInput) error {
	if utf8.RuneCountInString(input.Name) < minNameLength {
		return invalid("Name must be at least 3 characters long")
	}
	if input.Username == "" {
		return invalid("Username is required")
	}
	if !validEmail(input.Email) {
		return invalid("A valid email is required")
	}
	if err := validatePassword(input.Password, MinSignUpPasswordLength); err != nil {
		return err
	}
	if input.Password != input.ConfirmPassword {
		return invalid("Passwords don't match")
	}
	return nil
}

func validatePassword(password string, minLength int) error {
	if len(password) < minLength {
		return invalid(fmt.Sprintf("Password must be at least %d characters long", minLength))
	}
	if len(password) > MaxPasswordLength {
		return invalid(fmt.Sprintf("Password must be at most %d bytes long", MaxPasswordLength))
	}
	return nil
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
