package cachecontrol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	got := Parse("max-age=3600, s-maxage=600, private")
	want := CacheControl{MaxAge: "3600", SMaxage: "600", Private: true}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	encoded, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `{"maxAge":"3600","sMaxage":"600","private":true}` {
		t.Fatalf("unexpected encoding %s", encoded)
	}
}

func TestParseEmpty(t *testing.T) {
	got := Parse("")
	if !got.IsZero() {
		t.Fatalf("expected zero value, got %+v", got)
	}
	encoded, _ := json.Marshal(got)
	if string(encoded) != "{}" {
		t.Fatalf("expected {}, got %s", encoded)
	}
}

func TestParseIgnoresCaseAndUnknown(t *testing.T) {
	got := Parse(`Public, MAX-AGE="120", x-custom=1, no-transform`)
	if !got.Public || got.MaxAge != "120" || !got.NoTransform {
		t.Fatalf("unexpected parse %+v", got)
	}
}

func TestRemaining(t *testing.T) {
	received := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	cc := Parse("s-maxage=60")
	if cc.TTL() != time.Minute {
		t.Fatalf("expected s-maxage fallback, got %s", cc.TTL())
	}
	if left := cc.Remaining(received, received.Add(45*time.Second)); left != 15*time.Second {
		t.Fatalf("expected 15s left, got %s", left)
	}
	if left := cc.Remaining(received, received.Add(2*time.Minute)); left != 0 {
		t.Fatalf("expected expired countdown, got %s", left)
	}
	if _, ok := Parse("max-age=60, no-store").Expiry(received); ok {
		t.Fatalf("expected no-store to disable expiry")
	}
}

func TestTTLClampsHugeMaxAge(t *testing.T) {
	received := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	want := time.Duration(maxDeltaSeconds) * time.Second
	for _, header := range []string{
		"max-age=9223372036854775807",
		"max-age=99999999999999999999999",
		"max-age=10000000000",
	} {
		cc := Parse(header)
		if got := cc.TTL(); got != want {
			t.Fatalf("%s: expected %s, got %s", header, want, got)
		}
		expiry, ok := cc.Expiry(received)
		if !ok || !expiry.After(received) {
			t.Fatalf("%s: expected expiry after receipt, got %s %v", header, expiry, ok)
		}
		if left := cc.Remaining(received, received.Add(time.Hour)); left != want-time.Hour {
			t.Fatalf("%s: unexpected countdown %s", header, left)
		}
	}
	if ttl := Parse("max-age=-99999999999999999999999").TTL(); ttl != 0 {
		t.Fatalf("expected negative overflow to be uncacheable, got %s", ttl)
	}
}
