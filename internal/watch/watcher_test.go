package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRouteID(t *testing.T) {
	app := filepath.Join("/srv", "app")
	cases := map[string]string{
		filepath.Join(app, "root.tsx"):                    "root",
		filepath.Join(app, "routes", "_index.tsx"):        "routes/_index",
		filepath.Join(app, "routes", "blog", "route.tsx"): "routes/blog",
		filepath.Join("/srv", "other", "file.tsx"):        "",
	}
	for path, want := range cases {
		if got := RouteID(app, path); got != want {
			t.Fatalf("RouteID(%s) = %q, want %q", path, got, want)
		}
	}
}

func TestWatcherReportsDebouncedWrite(t *testing.T) {
	dir := t.TempDir()
	routes := filepath.Join(dir, "routes")
	if err := os.MkdirAll(routes, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	w, err := NewWatcher(dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	changes := make(chan Change, 8)
	w.OnChange = func(c Change) { changes <- c }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	file := filepath.Join(routes, "about.tsx")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(file, []byte("v"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	select {
	case c := <-changes:
		if c.RouteID != "routes/about" {
			t.Fatalf("unexpected route id %q", c.RouteID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}
