package errors

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards unexpected errors to an external tracker.
type Reporter interface {
	Report(err error)
	Flush(timeout time.Duration)
}

// NopReporter drops every error. Used when Sentry is not configured and in tests.
type NopReporter struct{}

func (NopReporter) Report(error)        {}
func (NopReporter) Flush(time.Duration) {}

// SentryReporter sends errors to Sentry, tagging them with the enhanced
// error component and category.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter initialises a dedicated Sentry client for the given DSN.
func NewSentryReporter(dsn, environment, release string) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report captures err with its component, category and context.
func (r *SentryReporter) Report(err error) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("category", string(CategoryOf(err)))
		if component := ComponentOf(err); component != "" {
			scope.SetTag("component", component)
		}
		var ee *EnhancedError
		if As(err, &ee) && len(ee.context) > 0 {
			scope.SetContext("details", sentry.Context(ee.Context()))
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func (r *SentryReporter) Flush(timeout time.Duration) {
	r.hub.Flush(timeout)
}
