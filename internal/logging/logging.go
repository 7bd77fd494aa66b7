// Package logging configures the process-wide slog logger and provides helpers
// for request-scoped fields and security events.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdobak/go-xerrors"
)

// SecurityEvent names the kind of request a security log entry is about.
type SecurityEvent string

const (
	SecurityEventMissingAuth     SecurityEvent = "missing_auth"
	SecurityEventInvalidAuthFmt  SecurityEvent = "invalid_auth_format"
	SecurityEventInvalidJWT      SecurityEvent = "invalid_jwt"
	SecurityEventSessionMismatch SecurityEvent = "session_mismatch"
	SecurityEventRateLimited     SecurityEvent = "rate_limited"
	SecurityEventBadOAuthState   SecurityEvent = "bad_oauth_state"
)

// RequestAttrs is the request context attached to log entries. It never
// carries tokens.
type RequestAttrs struct {
	Method    string
	Path      string
	IP        string
	SessionID string
}

type contextKey string

const requestAttrsKey contextKey = "requestAttrs"

type frame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// Initialize installs a JSON slog handler on stdout as the default logger.
// The level comes from LOGGING_LEVEL: debug, info, warn or error (default info).
func Initialize() {
	slog.SetDefault(New(os.Stdout, parseLevel(os.Getenv("LOGGING_LEVEL"))))
}

// New builds a logger writing JSON to w that renders error attributes with
// their stack traces.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: renderErrors,
	}))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func renderErrors(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if err, ok := a.Value.Any().(error); ok {
		a.Value = errorValue(err)
	}
	return a
}

// errorValue renders err as a group of msg and, when the error carries one,
// trace.
func errorValue(err error) slog.Value {
	attrs := []slog.Attr{slog.String("msg", err.Error())}
	if frames := traceOf(err); len(frames) > 0 {
		attrs = append(attrs, slog.Any("trace", frames))
	}
	return slog.GroupValue(attrs...)
}

func traceOf(err error) []frame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}
	var frames []frame
	for _, f := range trace.Frames() {
		frames = append(frames, frame{
			Func:   filepath.Base(f.Function),
			Source: filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)),
			Line:   f.Line,
		})
	}
	return frames
}

// WrapError prefixes err with msg and records the caller's stack.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return xerrors.Newf("%s: %v", msg, xerrors.WithStackTrace(err, 1))
}

// WithRequestAttrs stores attrs in ctx for RequestFields and the security log.
func WithRequestAttrs(ctx context.Context, attrs *RequestAttrs) context.Context {
	return context.WithValue(ctx, requestAttrsKey, attrs)
}

func requestAttrsFrom(ctx context.Context) *RequestAttrs {
	attrs, _ := ctx.Value(requestAttrsKey).(*RequestAttrs)
	return attrs
}

// WithSessionID returns a context whose request attributes carry the
// authenticated session. The attributes already in ctx are copied, not mutated.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	var attrs RequestAttrs
	if existing := requestAttrsFrom(ctx); existing != nil {
		attrs = *existing
	}
	attrs.SessionID = sessionID
	return WithRequestAttrs(ctx, &attrs)
}

// RequestFields returns the request attributes in ctx as slog arguments, or
// nil outside a request.
func RequestFields(ctx context.Context) []any {
	attrs := requestAttrsFrom(ctx)
	if attrs == nil {
		return nil
	}
	fields := []any{
		slog.String("method", attrs.Method),
		slog.String("path", attrs.Path),
		slog.String("ip", attrs.IP),
	}
	if attrs.SessionID != "" {
		fields = append(fields, slog.String("session_id", attrs.SessionID))
	}
	return fields
}

// ExtractClientIP returns the client address resolved by the real-IP
// middleware, falling back to the connection's peer address. Forwarding
// headers are not consulted here; only trusted proxies may set them.
func ExtractClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// LogSecurityEvent records a rejected or suspicious request at WARN.
func LogSecurityEvent(ctx context.Context, event SecurityEvent, msg string) {
	slog.WarnContext(ctx, msg, append(RequestFields(ctx), slog.String("security_event", string(event)))...)
}

// LogErrorWithStatus records a failed request at ERROR with the status it was
// answered with.
func LogErrorWithStatus(ctx context.Context, status int, msg string, err error) {
	args := append(RequestFields(ctx), slog.Int("status", status))
	if err != nil {
		args = append(args, slog.Any("error", err))
	}
	slog.ErrorContext(ctx, msg, args...)
}
