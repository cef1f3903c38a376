package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// TokenKind selects the signing key and lifetime of a token.
type TokenKind string

const (
	KindAccess            TokenKind = "access"
	KindRefresh           TokenKind = "refresh"
	KindEmailVerification TokenKind = "email_verification"
	KindPasswordReset     TokenKind = "password_reset"
)

const (
	DefaultAccessTTL            = 15 * time.Minute
	DefaultRefreshTTL           = 7 * 24 * time.Hour
	DefaultEmailVerificationTTL = 24 * time.Hour
	DefaultPasswordResetTTL     = time.Hour

	DefaultTokenIssuer   = "finora"
	DefaultTokenAudience = "finora-users"

	minSecretLength = 16
)

// TokenSettings is the key material and lifetime of one token kind.
type TokenSettings struct {
	Secret string
	TTL    time.Duration
}

// TokenConfig enumerates the four token kinds. Access and refresh tokens are
// additionally bound to Issuer and Audience.
type TokenConfig struct {
	Access            TokenSettings
	Refresh           TokenSettings
	EmailVerification TokenSettings
	PasswordReset     TokenSettings
	Issuer            string
	Audience          string
}

// Claims is the payload shared by every token kind.
type Claims struct {
	UserID string
	Email  string
}

type tokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

type tokenKey struct {
	secret []byte
	ttl    time.Duration
	scoped bool
}

// Issuer signs and verifies the four token kinds, each with its own secret.
type Issuer struct {
	keys     map[TokenKind]tokenKey
	issuer   string
	audience string
	now      func() time.Time
}

func NewIssuer(cfg TokenConfig) (*Issuer, error) {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultTokenIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultTokenAudience
	}

	settings := map[TokenKind]TokenSettings{
		KindAccess:            withDefaultTTL(cfg.Access, DefaultAccessTTL),
		KindRefresh:           withDefaultTTL(cfg.Refresh, DefaultRefreshTTL),
		KindEmailVerification: withDefaultTTL(cfg.EmailVerification, DefaultEmailVerificationTTL),
		KindPasswordReset:     withDefaultTTL(cfg.PasswordReset, DefaultPasswordResetTTL),
	}

	seen := make(map[string]TokenKind, len(settings))
	keys := make(map[TokenKind]tokenKey, len(settings))
	for kind, s := range settings {
		if len(s.Secret) < minSecretLength {
			return nil, fmt.Errorf("%s token secret must be at least %d characters", kind, minSecretLength)
		}
		if other, ok := seen[s.Secret]; ok {
			return nil, fmt.Errorf("%s and %s tokens must not share a secret", kind, other)
		}
		seen[s.Secret] = kind
		keys[kind] = tokenKey{
			secret: []byte(s.Secret),
			ttl:    s.TTL,
			scoped: kind == KindAccess || kind == KindRefresh,
		}
	}

	return &Issuer{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

func withDefaultTTL(s TokenSettings, fallback time.Duration) TokenSettings {
	if s.TTL <= 0 {
		s.TTL = fallback
	}
	return s
}

// WithClock replaces the time source used for issuing and verifying.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Now is the issuer's current time; stored expiries use the same clock.
func (i *Issuer) Now() time.Time {
	return i.now().UTC()
}

// TTL returns the lifetime of kind.
func (i *Issuer) TTL(kind TokenKind) time.Duration {
	return i.keys[kind].ttl
}

// Issue signs claims as a token of kind and returns it with its expiry instant.
func (i *Issuer) Issue(kind TokenKind, claims Claims) (string, time.Time, error) {
	key, ok := i.keys[kind]
	if !ok {
		return "", time.Time{}, oops.Code("AUTH_TOKEN_KIND").Errorf("unknown token kind %q", kind)
	}

	now := i.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(key.ttl))

	registered := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.UserID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	if key.scoped {
		registered.Issuer = i.issuer
		registered.Audience = jwt.ClaimStrings{i.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID:           claims.UserID,
		Email:            claims.Email,
		Type:             string(kind),
		RegisteredClaims: registered,
	})
	signed, err := token.SignedString(key.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").With("kind", string(kind)).Wrap(err)
	}

	return signed, expiresAt.Time, nil
}

// Verify checks signature, expiry and kind of token and returns its claims.
// Every failure matches ErrInvalidOrExpiredToken; an expired token also
// matches ErrTokenExpired.
func (i *Issuer) Verify(kind TokenKind, token string) (Claims, error) {
	key, ok := i.keys[kind]
	if !ok || token == "" {
		return Claims{}, ErrInvalidOrExpiredToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	}
	if key.scoped {
		opts = append(opts, jwt.WithIssuer(i.issuer), jwt.WithAudience(i.audience))
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, ErrTokenExpired)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidOrExpiredToken, err)
	}
	if !parsed.Valid || claims.Type != string(kind) || claims.UserID == "" {
		return Claims{}, ErrInvalidOrExpiredToken
	}

	return Claims{UserID: claims.UserID, Email: claims.Email}, nil
}

// Digest is the form in which issued tokens are stored and compared.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
