// Package sentry wires error reporting and scrubs Spotify tokens, OAuth codes
// and widget session tokens from events before they leave the process.
package sentry

import (
	"fmt"
	"net/url"
	"time"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

// sensitiveHeaders are HTTP headers that should be redacted from Sentry events.
var sensitiveHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"Set-Cookie":    true,
}

// sensitiveKeys are field and query parameter names that may carry credentials.
var sensitiveKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"token":         true,
	"code":          true,
	"state":         true,
	"secret":        true,
	"client_secret": true,
	"jwt":           true,
	"authorization": true,
	"cookie":        true,
}

// Init configures the global Sentry client. An empty dsn leaves reporting
// disabled. The returned func flushes buffered events and should be deferred.
func Init(dsn, environment string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:                   dsn,
		Environment:           environment,
		BeforeSend:            ScrubEvent,
		BeforeSendTransaction: ScrubTransaction,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// ScrubEvent removes sensitive data from a Sentry event before it is sent.
// It redacts sensitive headers and query parameters, strips request bodies,
// and scrubs tags and breadcrumb data.
func ScrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		for header := range event.Request.Headers {
			if sensitiveHeaders[header] {
				event.Request.Headers[header] = filtered
			}
		}
		event.Request.QueryString = scrubQuery(event.Request.QueryString)
		event.Request.Cookies = ""
		event.Request.Data = ""
	}

	scrubStrings(event.Tags)
	for key := range event.Extra {
		if sensitiveKeys[key] {
			event.Extra[key] = filtered
		}
	}

	for i := range event.Breadcrumbs {
		for key := range event.Breadcrumbs[i].Data {
			if sensitiveKeys[key] {
				event.Breadcrumbs[i].Data[key] = filtered
			}
		}
	}

	return event
}

// ScrubTransaction applies the same scrubbing logic to transaction events.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}

func scrubStrings(m map[string]string) {
	for key := range m {
		if sensitiveKeys[key] {
			m[key] = filtered
		}
	}
}

// scrubQuery filters sensitive parameters. Unparseable query strings are
// dropped whole.
func scrubQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	for key := range values {
		if sensitiveKeys[key] {
			values[key] = []string{filtered}
		}
	}
	return values.Encode()
}
