package httpx

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// SetAllowedOrigins adds browser origins, besides loopback ones, that may
// call the devtools endpoints. Entries are scheme://host[:port].
func (r *Router) SetAllowedOrigins(origins []string) {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/"); o != "" {
			allowed[o] = struct{}{}
		}
	}
	r.allowedOrigins = allowed
}

// originAllowed accepts requests without an Origin header (non-browser
// clients), loopback origins and configured origins.
func (r *Router) originAllowed(req *http.Request) bool {
	origin := strings.TrimSpace(req.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if _, ok := r.allowedOrigins[strings.TrimRight(strings.ToLower(origin), "/")]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// localOnly rejects browser requests coming from a foreign origin.
func (r *Router) localOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.originAllowed(req) {
			r.logger.Warn("devtools request from foreign origin rejected",
				"origin", req.Header.Get("Origin"), "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		next(w, req)
	}
}

// isJSONRequest reports whether the body is declared as JSON. Browsers must
// preflight such requests when they are cross-origin.
func isJSONRequest(req *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
