package httpapi

import (
	"net/http"
	"strings"
)

// Request headers consumed by the endpoint.
const (
	headerVisitorID     = "X-Visitor-Id"
	headerUserTier      = "X-User-Tier"
	headerForwardedFor  = "X-Forwarded-For"
	headerRealIP        = "X-Real-Ip"
	headerMetricsSecret = "X-Metrics-Secret"
)

// ClientKey derives the best-effort caller identity: explicit visitor
// token, else the first forwarded address, else a literal fallback. Never
// empty. This is an abuse deterrent, not a security boundary.
func ClientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(headerVisitorID)); id != "" {
		return id
	}
	if fwd := r.Header.Get(headerForwardedFor); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if ip := r.Header.Get(headerRealIP); ip != "" {
		return ip
	}
	return "anonymous"
}
