package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/splax/routedev/internal/instrument"
)

// Handler serves a route table over HTTP. GET and HEAD requests run the
// matched module's loader; every other method runs its action.
type Handler struct {
	routes []route
	logger *slog.Logger
}

type route struct {
	module   instrument.Module
	segments []string
	static   int
}

// NewHandler compiles table into a handler. Modules without a path are
// layout-only and never matched directly.
func NewHandler(table instrument.Table, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger.With("component", "app")}
	for _, id := range table.IDs() {
		mod := table[id]
		if mod.Path == "" {
			continue
		}
		segments := split(mod.Path)
		static := 0
		for _, s := range segments {
			if !strings.HasPrefix(s, ":") && s != "*" {
				static++
			}
		}
		h.routes = append(h.routes, route{module: mod, segments: segments, static: static})
	}
	sort.SliceStable(h.routes, func(i, j int) bool {
		if h.routes[i].static != h.routes[j].static {
			return h.routes[i].static > h.routes[j].static
		}
		return len(h.routes[i].segments) > len(h.routes[j].segments)
	})
	return h
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// match returns the route for path and its parameters.
func (h *Handler) match(path string) (route, map[string]string, bool) {
	parts := split(path)
	for _, r := range h.routes {
		params, ok := matchSegments(r.segments, parts)
		if ok {
			return r, params, true
		}
	}
	return route{}, nil, false
}

func matchSegments(pattern, parts []string) (map[string]string, bool) {
	params := map[string]string{}
	for i, seg := range pattern {
		if seg == "*" {
			params["*"] = strings.Join(parts[min(i, len(parts)):], "/")
			return params, true
		}
		if i >= len(parts) {
			return nil, false
		}
		switch {
		case strings.HasPrefix(seg, ":"):
			params[seg[1:]] = parts[i]
		case seg != parts[i]:
			return nil, false
		}
	}
	if len(parts) != len(pattern) {
		return nil, false
	}
	return params, true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r, params, ok := h.match(req.URL.Path)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route matches " + req.URL.Path})
		return
	}
	handler := r.module.Loader
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		handler = r.module.Action
	}
	if handler.IsZero() {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "route " + r.module.ID + " does not handle " + req.Method})
		return
	}

	v, err := handler.Call(req.Context(), instrument.Args{Request: req, Params: params})
	if err != nil {
		var thrown *instrument.ResponseError
		if errors.As(err, &thrown) && thrown.Response != nil {
			writeResponse(w, thrown.Response)
			return
		}
		h.logger.Error("route handler failed", "route_id", r.module.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	switch res := v.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case *instrument.Response:
		writeResponse(w, res)
	case *http.Response:
		defer res.Body.Close()
		for k, vals := range res.Header {
			for _, val := range vals {
				w.Header().Add(k, val)
			}
		}
		w.WriteHeader(res.StatusCode)
		_, _ = io.Copy(w, res.Body)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func writeResponse(w http.ResponseWriter, res *instrument.Response) {
	for k, vals := range res.Header {
		for _, val := range vals {
			w.Header().Add(k, val)
		}
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(res.Body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
