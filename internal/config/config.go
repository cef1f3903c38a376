package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"finora/internal/auth"
	"finora/internal/observability"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	AppEnv   string
	Port     string
	LogLevel string

	StoreDriver   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	RunMigrations     bool

	Tokens               auth.TokenConfig
	BcryptCost           int
	RequireVerifiedLogin bool

	ServerURL string
	ClientURL string

	Mail MailConfig

	RedisURL        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	// TrustedProxies are addresses or CIDR ranges allowed to set
	// X-Forwarded-For. Empty means the socket peer is the client.
	TrustedProxies []string

	CloudinaryURL string
	SentryDSN     string
	CronSecret    string
}

type MailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	Workers   int
	QueueSize int
}

// Production reports whether cookies must be Secure and cross-site.
func (c Config) Production() bool {
	return c.AppEnv == "production"
}

// Load reads the process environment, first merging a .env file when
// loadDotEnv is set.
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	cfg := Config{
		AppEnv:   envOrDefault("APP_ENV", "development"),
		Port:     envOrDefault("PORT", "8080"),
		LogLevel: envOrDefault("LOG_LEVEL", "info"),

		StoreDriver:   strings.ToLower(envOrDefault("STORE_DRIVER", DriverMongo)),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MongoURI:      strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDatabase: envOrDefault("MONGO_DATABASE", "finora"),

		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		RunMigrations:     EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),

		BcryptCost:           envIntOrDefault("BCRYPT_COST", 10),
		RequireVerifiedLogin: EnvBoolOrDefault("REQUIRE_VERIFIED_LOGIN", false),

		ServerURL: strings.TrimRight(envOrDefault("SERVER_URL", "http://localhost:8080"), "/"),
		ClientURL: strings.TrimRight(envOrDefault("CLIENT_URL", "http://localhost:5173"), "/"),

		Mail: MailConfig{
			Host:      strings.TrimSpace(os.Getenv("EMAIL_HOST")),
			Port:      envIntOrDefault("EMAIL_PORT", 587),
			Username:  strings.TrimSpace(os.Getenv("EMAIL_USER")),
			Password:  os.Getenv("EMAIL_PASS"),
			From:      strings.TrimSpace(os.Getenv("EMAIL_FROM")),
			Workers:   envIntOrDefault("MAIL_WORKERS", 2),
			QueueSize: envIntOrDefault("MAIL_QUEUE_SIZE", 100),
		},

		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		RateLimitMax:    envIntOrDefault("AUTH_RATE_LIMIT_MAX", auth.DefaultRateLimitMax),
		RateLimitWindow: envMinutesOrDefault("AUTH_RATE_LIMIT_WINDOW_MINUTES", 15),
		TrustedProxies:  envList("TRUSTED_PROXIES"),

		CloudinaryURL: strings.TrimSpace(os.Getenv("CLOUDINARY_URL")),
		SentryDSN:     strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		CronSecret:    strings.TrimSpace(os.Getenv("CRON_SECRET")),
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.Username
	}

	var err error
	if cfg.Tokens, err = loadTokenConfig(); err != nil {
		return Config{}, err
	}

	if _, err := observability.NewProxyTrust(cfg.TrustedProxies); err != nil {
		return Config{}, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	switch cfg.StoreDriver {
	case DriverMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("missing required env: MONGO_URI")
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("missing required env: DATABASE_URL")
		}
	case DriverMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func loadTokenConfig() (auth.TokenConfig, error) {
	secrets := make(map[string]string, 4)
	for _, name := range []string{"JWT_SECRET", "JWT_REFRESH_SECRET", "EMAIL_VERIFICATION_SECRET", "PASSWORD_RESET_SECRET"} {
		value, err := mustEnv(name)
		if err != nil {
			return auth.TokenConfig{}, err
		}
		secrets[name] = value
	}

	return auth.TokenConfig{
		Access: auth.TokenSettings{
			Secret: secrets["JWT_SECRET"],
			TTL:    envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		},
		Refresh: auth.TokenSettings{
			Secret: secrets["JWT_REFRESH_SECRET"],
			TTL:    envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
		},
		EmailVerification: auth.TokenSettings{
			Secret: secrets["EMAIL_VERIFICATION_SECRET"],
			TTL:    envHoursOrDefault("EMAIL_VERIFICATION_TTL_HOURS", 24),
		},
		PasswordReset: auth.TokenSettings{
			Secret: secrets["PASSWORD_RESET_SECRET"],
			TTL:    envMinutesOrDefault("PASSWORD_RESET_TTL_MINUTES", 60),
		},
		Issuer:   envOrDefault("JWT_ISSUER", auth.DefaultTokenIssuer),
		Audience: envOrDefault("JWT_AUDIENCE", auth.DefaultTokenAudience),
	}, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envList(name string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
