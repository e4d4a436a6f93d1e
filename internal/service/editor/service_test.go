package editor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("export default function Route() {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestResolveRouteID(t *testing.T) {
	root := t.TempDir()
	app := filepath.Join(root, "app")
	writeFile(t, filepath.Join(app, "root.tsx"))
	writeFile(t, filepath.Join(app, "routes", "_index.tsx"))
	writeFile(t, filepath.Join(app, "routes", "dashboard", "route.jsx"))

	svc := New(root, "app", "", nil)

	cases := map[string]string{
		"root":              filepath.Join(app, "root.tsx"),
		"routes/_index":     filepath.Join(app, "routes", "_index.tsx"),
		"routes/dashboard":  filepath.Join(app, "routes", "dashboard", "route.jsx"),
		"/routes/_index/  ": filepath.Join(app, "routes", "_index.tsx"),
	}
	for routeID, want := range cases {
		got, err := svc.Resolve("", routeID, 0, 0)
		if err != nil {
			t.Fatalf("resolve %q: %v", routeID, err)
		}
		if got.File != want {
			t.Fatalf("resolve %q: expected %s, got %s", routeID, want, got.File)
		}
		if got.Line != 1 || got.Column != 1 {
			t.Fatalf("expected default position, got %d:%d", got.Line, got.Column)
		}
	}

	if _, err := svc.Resolve("", "routes/missing", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveExplicitSourceWins(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app", "routes", "about.tsx"))
	svc := New(root, "app", "", nil)

	got, err := svc.Resolve("app/routes/about.tsx", "routes/other", 42, 3)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.File != filepath.Join(root, "app", "routes", "about.tsx") || got.Line != 42 || got.Column != 3 {
		t.Fatalf("unexpected target %+v", got)
	}
	if _, err := svc.Resolve("../etc/passwd", "", 0, 0); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
}

func TestOpenExpandsCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app", "root.tsx"))
	svc := New(root, "app", "myeditor --goto {file}:{line}:{column}", nil)

	var gotName string
	var gotArgs []string
	svc.run = func(ctx context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		return nil
	}
	if _, err := svc.Open(context.Background(), "", "root", 7, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	if gotName != "myeditor" {
		t.Fatalf("unexpected command %s", gotName)
	}
	want := filepath.Join(root, "app", "root.tsx") + ":7:1"
	if len(gotArgs) != 2 || gotArgs[0] != "--goto" || gotArgs[1] != want {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}

func TestOpenReportsRunnerFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app", "root.tsx"))
	svc := New(root, "app", "", nil)
	svc.run = func(ctx context.Context, name string, args ...string) error {
		return errors.New("executable file not found")
	}
	if _, err := svc.Open(context.Background(), "", "root", 0, 0); err == nil {
		t.Fatal("expected runner error")
	}
}

func TestFileCommands(t *testing.T) {
	root := t.TempDir()
	svc := New(root, "app", "", nil)

	if err := svc.WriteFile("app/routes/new.tsx", "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, err := svc.ReadFile("app/routes/new.tsx")
	if err != nil || content != "hello" {
		t.Fatalf("read: %q %v", content, err)
	}
	if err := svc.DeleteFile("app/routes/new.tsx"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.ReadFile("app/routes/new.tsx"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.WriteFile("../outside.txt", "x"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
}
