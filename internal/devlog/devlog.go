// Package devlog prints human-oriented development log lines for captured
// loader and action events, one category at a time.
package devlog

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/splax/routedev/internal/cachecontrol"
	"github.com/splax/routedev/internal/domain"
	"github.com/splax/routedev/pkg/config"
)

// Categories of log lines that can be toggled independently.
const (
	CategoryLoaders   = "loaders"
	CategoryActions   = "actions"
	CategoryCache     = "cache"
	CategoryCookies   = "cookies"
	CategorySiteClear = "siteClear"
	CategoryDefer     = "defer"
)

// Logger writes category lines for events.
type Logger struct {
	cfg    config.DevtoolsConfig
	logger *slog.Logger
}

// New constructs a Logger honouring the silent flag and category toggles of
// cfg.
func New(cfg config.DevtoolsConfig, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{cfg: cfg, logger: logger.With("component", "devlog")}
}

// Log prints every enabled line that applies to ev.
func (l *Logger) Log(ev domain.Event) {
	if l == nil || l.cfg.Silent {
		return
	}
	base := []any{"route_id", ev.RouteID, "duration_ms", ev.ExecutionTimeMS}

	switch ev.Kind {
	case domain.KindLoader:
		l.handlerLine(CategoryLoaders, "loader", ev, base)
	case domain.KindAction:
		l.handlerLine(CategoryActions, "action", ev, base)
	}

	if ev.Deferred && l.cfg.LogEnabled(CategoryDefer) {
		l.logger.Info("deferred "+string(ev.Kind)+" settled", base...)
	}
	if raw := header(ev.ResponseHeaders, "Cache-Control"); raw != "" && l.cfg.LogEnabled(CategoryCache) {
		cc := cachecontrol.Parse(raw)
		l.logger.Info("cache headers returned", "route_id", ev.RouteID, "cache_control", raw, "ttl", cc.TTL().String())
	}
	if raw := header(ev.ResponseHeaders, "Set-Cookie"); raw != "" && l.cfg.LogEnabled(CategoryCookies) {
		l.logger.Info("cookies set", "route_id", ev.RouteID, "cookies", cookieNames(raw))
	}
	if raw := header(ev.ResponseHeaders, "Clear-Site-Data"); raw != "" && l.cfg.LogEnabled(CategorySiteClear) {
		l.logger.Info("site data cleared", "route_id", ev.RouteID, "directives", raw)
	}
}

func (l *Logger) handlerLine(category, label string, ev domain.Event, base []any) {
	if !l.cfg.LogEnabled(category) {
		return
	}
	fields := base
	if ev.Status != 0 {
		fields = append(fields, "status", ev.Status)
	}
	if loc := header(ev.ResponseHeaders, "Location"); loc != "" {
		fields = append(fields, "redirect", loc)
	}
	if ev.Failed {
		l.logger.Warn(label+" failed", append(fields, "error", ev.Error)...)
		return
	}
	l.logger.Info(label+" triggered", fields...)
}

func header(h map[string]string, name string) string {
	if v, ok := h[http.CanonicalHeaderKey(name)]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// cookieNames extracts cookie names from a flattened Set-Cookie value.
func cookieNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		name, _, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, "; ") {
			continue
		}
		if strings.EqualFold(name, "expires") || strings.EqualFold(name, "max-age") {
			continue
		}
		names = append(names, name)
	}
	return names
}
