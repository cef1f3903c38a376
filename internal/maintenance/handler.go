package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"finora/internal/auth"
	"finora/internal/observability"
)

// Purger drops expired refresh entries and stale one-time tokens.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (auth.CleanupResult, error)
}

type CleanupHandler struct {
	purger     Purger
	logger     *observability.Logger
	cronSecret string
	now        func() time.Time
}

// NewCleanupHandler guards the purge behind a bearer cron secret. With an
// empty secret the endpoint answers 404.
func NewCleanupHandler(purger Purger, logger *observability.Logger, cronSecret string) *CleanupHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CleanupHandler{
		purger:     purger,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		now:        time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "unauthorized"})
		return
	}

	result, err := Run(r.Context(), h.purger, h.logger, h.now())
	if err != nil {
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	given := strings.TrimSpace(parts[1])
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.cronSecret)) == 1
}

// Run performs one purge pass and logs its outcome.
func Run(ctx context.Context, purger Purger, logger *observability.Logger, now time.Time) (auth.CleanupResult, error) {
	result, err := purger.PurgeExpired(ctx, now)
	if err != nil {
		logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		return auth.CleanupResult{}, err
	}

	logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_refresh_tokens":      result.DeletedRefreshTokens,
		"cleared_verification_tokens": result.ClearedVerificationToken,
		"cleared_reset_tokens":        result.ClearedResetTokens,
	})
	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
