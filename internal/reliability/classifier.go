package reliability

import (
	"net/http"
	"strings"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsTransientRealtimeError classifies error codes reported by the realtime
// model connection. Transient errors are logged; others usually mean the
// session configuration is wrong.
func IsTransientRealtimeError(code string) bool {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "rate_limit_exceeded", "server_error", "session_expired", "conversation_already_has_active_response":
		return true
	default:
		return false
	}
}

// ErrorCodeLabel bounds metric label cardinality for upstream error codes.
func ErrorCodeLabel(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "unknown"
	}
	if len(code) > 48 {
		return "other"
	}
	return code
}
