// Package cachecontrol decomposes Cache-Control response headers so the
// devtools can show a countdown until a loader response expires.
package cachecontrol

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// CacheControl is a parsed Cache-Control header. Ages are kept in their
// header form; an empty string means the directive was absent.
type CacheControl struct {
	MaxAge               string `json:"maxAge,omitempty"`
	SMaxage              string `json:"sMaxage,omitempty"`
	StaleWhileRevalidate string `json:"staleWhileRevalidate,omitempty"`
	StaleIfError         string `json:"staleIfError,omitempty"`
	Private              bool   `json:"private,omitempty"`
	Public               bool   `json:"public,omitempty"`
	NoCache              bool   `json:"noCache,omitempty"`
	NoStore              bool   `json:"noStore,omitempty"`
	MustRevalidate       bool   `json:"mustRevalidate,omitempty"`
	ProxyRevalidate      bool   `json:"proxyRevalidate,omitempty"`
	Immutable            bool   `json:"immutable,omitempty"`
	NoTransform          bool   `json:"noTransform,omitempty"`
}

// Parse decomposes a Cache-Control header value. Unknown directives are
// ignored and an empty header yields the zero value.
func Parse(header string) CacheControl {
	var cc CacheControl
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch name {
		case "max-age":
			cc.MaxAge = value
		case "s-maxage":
			cc.SMaxage = value
		case "stale-while-revalidate":
			cc.StaleWhileRevalidate = value
		case "stale-if-error":
			cc.StaleIfError = value
		case "private":
			cc.Private = true
		case "public":
			cc.Public = true
		case "no-cache":
			cc.NoCache = true
		case "no-store":
			cc.NoStore = true
		case "must-revalidate":
			cc.MustRevalidate = true
		case "proxy-revalidate":
			cc.ProxyRevalidate = true
		case "immutable":
			cc.Immutable = true
		case "no-transform":
			cc.NoTransform = true
		}
	}
	return cc
}

// IsZero reports whether no directive was recognised.
func (cc CacheControl) IsZero() bool {
	return cc == CacheControl{}
}

// maxDeltaSeconds caps delta-seconds values that overflow, as RFC 9111
// section 1.2.2 prescribes.
const maxDeltaSeconds = 1 << 31

// TTL returns how long the response may be reused by the browser. max-age
// wins over s-maxage; no-store and no-cache always yield zero.
func (cc CacheControl) TTL() time.Duration {
	if cc.NoStore || cc.NoCache {
		return 0
	}
	for _, raw := range []string{cc.MaxAge, cc.SMaxage} {
		if raw == "" {
			continue
		}
		secs, err := strconv.ParseInt(raw, 10, 64)
		if errors.Is(err, strconv.ErrRange) && secs > 0 {
			secs = maxDeltaSeconds
		} else if err != nil || secs <= 0 {
			return 0
		}
		return time.Duration(min(secs, maxDeltaSeconds)) * time.Second
	}
	return 0
}

// Expiry returns the instant a response received at receivedAt goes stale
// and whether the response is cacheable at all.
func (cc CacheControl) Expiry(receivedAt time.Time) (time.Time, bool) {
	ttl := cc.TTL()
	if ttl <= 0 {
		return time.Time{}, false
	}
	return receivedAt.Add(ttl), true
}

// Remaining returns the countdown until expiry relative to now, clamped at
// zero.
func (cc CacheControl) Remaining(receivedAt, now time.Time) time.Duration {
	expiry, ok := cc.Expiry(receivedAt)
	if !ok || !expiry.After(now) {
		return 0
	}
	return expiry.Sub(now)
}
