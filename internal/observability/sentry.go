package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// scrubbedHeaders carry bearer tokens or session cookies.
var scrubbedHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubCredentials(event)
		},
	})
}

// scrubCredentials drops auth headers, cookies and the query string, which
// may hold verification or reset tokens.
func scrubCredentials(event *sentry.Event) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}

	for _, name := range scrubbedHeaders {
		delete(event.Request.Headers, name)
		delete(event.Request.Headers, http.CanonicalHeaderKey(name))
	}
	event.Request.Cookies = ""
	event.Request.QueryString = ""
	return event
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
