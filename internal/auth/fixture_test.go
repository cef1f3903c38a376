package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testEpoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testTokenConfig() TokenConfig {
	return TokenConfig{
		Access:            TokenSettings{Secret: "access-secret-0123456789abcdef"},
		Refresh:           TokenSettings{Secret: "refresh-secret-0123456789abcdef"},
		EmailVerification: TokenSettings{Secret: "verify-secret-0123456789abcdef"},
		PasswordReset:     TokenSettings{Secret: "reset-secret-0123456789abcdef"},
	}
}

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(testTokenConfig())
	require.NoError(t, err)
	return issuer.WithClock(clock.Now)
}

type sentMail struct {
	Email string
	Name  string
	Token string
}

type recordingNotifier struct {
	mu            sync.Mutex
	err           error
	verifications []sentMail
	resets        []sentMail
	welcomes      []sentMail
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, email, name, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, sentMail{Email: email, Name: name, Token: token})
	return n.err
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, email, name, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, sentMail{Email: email, Name: name, Token: token})
	return n.err
}

func (n *recordingNotifier) SendWelcomeEmail(_ context.Context, email, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcomes = append(n.welcomes, sentMail{Email: email, Name: name})
	return n.err
}

func (n *recordingNotifier) lastVerification(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.verifications, "no verification email sent")
	return n.verifications[len(n.verifications)-1]
}

func (n *recordingNotifier) lastReset(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.resets, "no reset email sent")
	return n.resets[len(n.resets)-1]
}

type fixture struct {
	clock       *fakeClock
	repo        *MemoryRepository
	issuer      *Issuer
	hasher      *BcryptHasher
	notifier    *recordingNotifier
	sessions    *SessionService
	credentials *CredentialService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newFakeClock()
	repo := NewMemoryRepository()
	issuer := newTestIssuer(t, clock)
	hasher := NewBcryptHasher(bcrypt.MinCost)
	notifier := &recordingNotifier{}

	return &fixture{
		clock:       clock,
		repo:        repo,
		issuer:      issuer,
		hasher:      hasher,
		notifier:    notifier,
		sessions:    NewSessionService(repo, hasher, issuer),
		credentials: NewCredentialService(repo, hasher, issuer, notifier, nil),
	}
}

const testPassword = "Secret123!"

func (f *fixture) signUp(t *testing.T, email string) (Profile, string) {
	t.Helper()
	profile, err := f.credentials.SignUp(context.Background(), SignUpInput{
		Name:            "Ana Lee",
		Username:        "analee",
		Email:           email,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	require.NoError(t, err)
	return profile, f.notifier.lastVerification(t).Token
}

// verifiedUser registers email and confirms it.
func (f *fixture) verifiedUser(t *testing.T, email string) Profile {
	t.Helper()
	_, token := f.signUp(t, email)
	profile, err := f.credentials.VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	return profile
}

func (f *fixture) login(t *testing.T, email, password string) LoginResult {
	t.Helper()
	result, err := f.sessions.Login(context.Background(), email, password)
	require.NoError(t, err)
	return result
}

var errBoom = errors.New("boom")
