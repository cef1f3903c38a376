package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/getsentry/sentry-go"

	"finora/internal/app"
	"finora/internal/config"
	"finora/internal/observability"
)

// instance holds the runtime shared by warm invocations. A failed build is
// not cached: the next request tries again.
var instance struct {
	mu      sync.Mutex
	runtime *app.Runtime
}

var build = func() (*app.Runtime, error) {
	return app.Build(app.Options{
		LoadDotEnv:    false,
		RunMigrations: config.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
	})
}

// Handler is the serverless entrypoint.
func Handler(w http.ResponseWriter, r *http.Request) {
	rt, err := currentRuntime()
	if err != nil {
		sentry.CaptureException(err)
		observability.FlushSentry()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"code":    "INTERNAL_FAILURE",
			"message": "application bootstrap failed",
		})
		return
	}

	rt.Handler.ServeHTTP(w, r)
}

func currentRuntime() (*app.Runtime, error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	if instance.runtime != nil {
		return instance.runtime, nil
	}
	rt, err := build()
	if err != nil {
		return nil, err
	}
	instance.runtime = rt
	return rt, nil
}
