package audit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/gaspipe/docvault/pkg/contextkeys"
)

// Logger persists audit entries
type Logger interface {
	// Log inserts the entry and sets its ID
	Log(ctx context.Context, entry *Entry) error

	// Close flushes and releases resources
	Close() error
}

// ClientInfo carries connection details copied onto every entry of a request
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// ClientInfoFromContext returns the connection details stored by ClientInfoMiddleware
func ClientInfoFromContext(ctx context.Context) ClientInfo {
	if info, ok := ctx.Value(contextkeys.ClientInfoKey).(ClientInfo); ok {
		return info
	}
	return ClientInfo{}
}

// ClientInfoFromRequest extracts the caller IP and user agent.
// The first X-Forwarded-For hop wins, then X-Real-IP, then the socket address.
func ClientInfoFromRequest(r *http.Request) ClientInfo {
	return ClientInfo{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientInfoMiddleware stores the caller's IP and user agent on the request context
func ClientInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := contextkeys.WithClientInfo(r.Context(), ClientInfoFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewNoOpLogger returns a logger that discards entries
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, entry *Entry) error { return nil }

func (noOpLogger) Close() error { return nil }
