package scaffold

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

var (
	// ErrExists indicates the route file is already present.
	ErrExists = errors.New("scaffold: route already exists")
	// ErrInvalidPath indicates a route path that cannot be written.
	ErrInvalidPath = errors.New("scaffold: invalid route path")
)

// Options selects the exports generated for a new route.
type Options struct {
	Loader        bool
	Action        bool
	ErrorBoundary bool
	Meta          bool
	Links         bool
	Headers       bool
}

// DefaultExtension is used when the requested path has none.
const DefaultExtension = ".tsx"

var templates = map[string]*template.Template{
	".tsx": template.Must(template.New("tsx").Parse(tsxTemplate)),
	".jsx": template.Must(template.New("jsx").Parse(tsxTemplate)),
	".go":  template.Must(template.New("go").Parse(goTemplate)),
}

// Service writes new route modules under the routes directory.
type Service struct {
	routesDir string
}

// New builds a scaffolder writing into routesDir.
func New(routesDir string) *Service {
	return &Service{routesDir: filepath.Clean(routesDir)}
}

// AddRoute creates the route file for path and returns its location.
func (s *Service) AddRoute(path string, opts Options) (string, error) {
	rel := strings.Trim(strings.TrimSpace(filepath.ToSlash(path)), "/")
	if rel == "" || strings.Contains(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	ext := filepath.Ext(rel)
	if ext == "" {
		ext = DefaultExtension
		rel += ext
	}
	tmpl, ok := templates[ext]
	if !ok {
		return "", fmt.Errorf("%w: unsupported extension %s", ErrInvalidPath, ext)
	}
	target := filepath.Join(s.routesDir, filepath.FromSlash(rel))
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, target)
	}

	var buf bytes.Buffer
	data := struct {
		Options
		Package string
	}{Options: opts, Package: packageName(filepath.Dir(target))}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render route: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create route dir: %w", err)
	}
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write route: %w", err)
	}
	return target, nil
}

func packageName(dir string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, filepath.Base(dir))
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		return "routes"
	}
	return name
}

const tsxTemplate = `{{if .Headers}}export const headers = () => ({});
{{end}}{{if .Links}}export const links = () => [];
{{end}}{{if .Meta}}export const meta = () => [];
{{end}}{{if .Loader}}export const loader = async () => {
  return null;
};
{{end}}{{if .Action}}export const action = async () => {
  return null;
};
{{end}}
export default function RouteComponent() {
  return <div />;
}
{{if .ErrorBoundary}}
export function ErrorBoundary() {
  return <div />;
}
{{end}}`

const goTemplate = `package {{.Package}}
{{if or .Loader .Action}}
import "context"
{{end}}{{if .Loader}}
func Loader(ctx context.Context, args map[string]string) (any, error) {
	return nil, nil
}
{{end}}{{if .Action}}
func Action(ctx context.Context, args map[string]string) (any, error) {
	return nil, nil
}
{{end}}`
