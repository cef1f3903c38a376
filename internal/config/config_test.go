package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedEnv = []string{
	"APP_ENV", "PORT", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "MONGO_URI", "MONGO_DATABASE",
	"DB_MAX_OPEN_CONNS", "RUN_MIGRATIONS_ON_STARTUP", "BCRYPT_COST", "REQUIRE_VERIFIED_LOGIN",
	"SERVER_URL", "CLIENT_URL", "EMAIL_HOST", "EMAIL_PORT", "EMAIL_USER", "EMAIL_PASS", "EMAIL_FROM",
	"REDIS_URL", "AUTH_RATE_LIMIT_MAX", "AUTH_RATE_LIMIT_WINDOW_MINUTES",
	"ACCESS_TOKEN_TTL_MINUTES", "REFRESH_TOKEN_TTL_HOURS", "EMAIL_VERIFICATION_TTL_HOURS", "PASSWORD_RESET_TTL_MINUTES",
	"JWT_ISSUER", "JWT_AUDIENCE", "CLOUDINARY_URL", "SENTRY_DSN", "CRON_SECRET", "TRUSTED_PROXIES",
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	for _, name := range managedEnv {
		t.Setenv(name, "")
	}
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "access-secret-0123456789")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret-0123456789")
	t.Setenv("EMAIL_VERIFICATION_SECRET", "verify-secret-0123456789")
	t.Setenv("PASSWORD_RESET_SECRET", "reset-secret-0123456789")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.False(t, cfg.Production())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, "http://localhost:5173", cfg.ClientURL)
	assert.Equal(t, 587, cfg.Mail.Port)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.False(t, cfg.RequireVerifiedLogin)
	assert.False(t, cfg.RunMigrations)
	assert.Empty(t, cfg.TrustedProxies)

	assert.Equal(t, 15*time.Minute, cfg.Tokens.Access.TTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Tokens.Refresh.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Tokens.EmailVerification.TTL)
	assert.Equal(t, time.Hour, cfg.Tokens.PasswordReset.TTL)
	assert.Equal(t, "access-secret-0123456789", cfg.Tokens.Access.Secret)
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("SERVER_URL", "https://api.finora.test/")
	t.Setenv("EMAIL_USER", "mailer@finora.test")
	t.Setenv("AUTH_RATE_LIMIT_MAX", "25")
	t.Setenv("DB_MAX_OPEN_CONNS", "-3")
	t.Setenv("REQUIRE_VERIFIED_LOGIN", "yes")
	t.Setenv("RUN_MIGRATIONS_ON_STARTUP", "maybe")

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.Equal(t, "https://api.finora.test", cfg.ServerURL)
	assert.Equal(t, "mailer@finora.test", cfg.Mail.From, "sender falls back to the smtp user")
	assert.Equal(t, 25, cfg.RateLimitMax)
	assert.Equal(t, 10, cfg.DBMaxOpenConns, "non-positive numbers fall back")
	assert.True(t, cfg.RequireVerifiedLogin)
	assert.False(t, cfg.RunMigrations, "unrecognised booleans fall back")
}

func TestLoadRequiresSecrets(t *testing.T) {
	for _, name := range []string{"JWT_SECRET", "JWT_REFRESH_SECRET", "EMAIL_VERIFICATION_SECRET", "PASSWORD_RESET_SECRET"} {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(name, "  ")

			_, err := Load(false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestLoadValidatesStoreDriver(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "mongo needs uri", env: map[string]string{"STORE_DRIVER": "mongo"}, wantErr: "MONGO_URI"},
		{name: "postgres needs url", env: map[string]string{"STORE_DRIVER": "Postgres"}, wantErr: "DATABASE_URL"},
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "sqlite"}, wantErr: `unsupported STORE_DRIVER "sqlite"`},
		{name: "postgres configured", env: map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": "postgres://localhost/finora"}},
		{name: "mongo configured", env: map[string]string{"STORE_DRIVER": "mongo", "MONGO_URI": "mongodb://localhost:27017"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(false)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadTrustedProxies(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,192.0.2.10 ")

	cfg, err := Load(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,load-balancer")
	_, err = Load(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTED_PROXIES")
}

func TestEnvBoolOrDefault(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"", true, true},
		{"TRUE", false, true},
		{"on", false, true},
		{"0", true, false},
		{"off", true, false},
		{"sometimes", true, true},
	}

	for _, tt := range tests {
		t.Setenv("FINORA_TEST_FLAG", tt.value)
		assert.Equal(t, tt.want, EnvBoolOrDefault("FINORA_TEST_FLAG", tt.fallback), "value %q", tt.value)
	}
}
