package editor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultCommand opens a file at a position in VS Code.
const DefaultCommand = "code -g {file}:{line}:{column}"

// Extensions are tried in order when resolving a route id to a file.
var Extensions = []string{".tsx", ".ts", ".jsx", ".js", ".mdx", ".md", ".go"}

var (
	// ErrNotFound indicates no file matched the request.
	ErrNotFound = errors.New("editor: source file not found")
	// ErrOutsideRoot indicates a path escaping the project root.
	ErrOutsideRoot = errors.New("editor: path outside project root")
	// ErrNoCommand indicates the editor command template is empty.
	ErrNoCommand = errors.New("editor: no editor command configured")
)

// Target is a resolved location to open.
type Target struct {
	File   string
	Line   int
	Column int
}

// Runner starts an external command.
type Runner func(ctx context.Context, name string, args ...string) error

// Service resolves source locations and performs file commands within a
// project root.
type Service struct {
	root    string
	appDir  string
	command string
	run     Runner
	logger  *slog.Logger
}

// New constructs an editor service. appDir may be relative to root.
func New(root, appDir, command string, logger *slog.Logger) *Service {
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if appDir == "" {
		appDir = "app"
	}
	if !filepath.IsAbs(appDir) {
		appDir = filepath.Join(root, appDir)
	}
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		root:    filepath.Clean(root),
		appDir:  filepath.Clean(appDir),
		command: command,
		run:     startDetached,
		logger:  logger.With("component", "editor"),
	}
}

// AppDir is the directory route ids are resolved against.
func (s *Service) AppDir() string {
	return s.appDir
}

// Resolve turns an explicit source path or a route id into a file on
// disk. An explicit source wins over the route id.
func (s *Service) Resolve(source, routeID string, line, column int) (Target, error) {
	if line <= 0 {
		line = 1
	}
	if column <= 0 {
		column = 1
	}
	if src := strings.TrimSpace(source); src != "" {
		path, err := s.contain(src)
		if err != nil {
			return Target{}, err
		}
		if !isFile(path) {
			return Target{}, fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return Target{File: path, Line: line, Column: column}, nil
	}
	routeID = strings.Trim(strings.TrimSpace(routeID), "/")
	if routeID == "" {
		return Target{}, fmt.Errorf("%w: empty route id", ErrNotFound)
	}
	for _, candidate := range s.candidates(routeID) {
		if isFile(candidate) {
			return Target{File: candidate, Line: line, Column: column}, nil
		}
	}
	return Target{}, fmt.Errorf("%w: route %s", ErrNotFound, routeID)
}

// candidates lists the files a route id may live in, in lookup order.
func (s *Service) candidates(routeID string) []string {
	base := filepath.Join(s.appDir, filepath.FromSlash(routeID))
	out := make([]string, 0, len(Extensions)*3)
	for _, ext := range Extensions {
		out = append(out, base+ext)
	}
	if routeID == "root" {
		for _, ext := range Extensions {
			out = append(out, filepath.Join(s.appDir, "root"+ext))
		}
	}
	for _, ext := range Extensions {
		out = append(out, filepath.Join(base, "route"+ext))
	}
	return out
}

// Open resolves the location and launches the editor command.
func (s *Service) Open(ctx context.Context, source, routeID string, line, column int) (Target, error) {
	target, err := s.Resolve(source, routeID, line, column)
	if err != nil {
		return Target{}, err
	}
	name, args, err := s.commandFor(target)
	if err != nil {
		return target, err
	}
	if err := s.run(ctx, name, args...); err != nil {
		return target, fmt.Errorf("run editor %s: %w", name, err)
	}
	s.logger.Info("opened source", "file", target.File, "line", target.Line)
	return target, nil
}

// commandFor expands the command template for target. Placeholders are
// substituted per argument so paths containing spaces stay intact.
func (s *Service) commandFor(t Target) (string, []string, error) {
	fields := strings.Fields(s.command)
	if len(fields) == 0 {
		return "", nil, ErrNoCommand
	}
	replacer := strings.NewReplacer(
		"{file}", t.File,
		"{line}", strconv.Itoa(t.Line),
		"{column}", strconv.Itoa(t.Column),
	)
	args := make([]string, 0, len(fields)-1)
	for _, f := range fields[1:] {
		args = append(args, replacer.Replace(f))
	}
	return fields[0], args, nil
}

// ReadFile returns the content of a file inside the project root.
func (s *Service) ReadFile(path string) (string, error) {
	abs, err := s.contain(path)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), nil
}

// WriteFile replaces the content of a file inside the project root,
// creating parent directories as needed.
func (s *Service) WriteFile(path, content string) error {
	abs, err := s.contain(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes a file inside the project root.
func (s *Service) DeleteFile(path string) error {
	abs, err := s.contain(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// contain resolves path against the root and rejects anything outside it.
func (s *Service) contain(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, filepath.FromSlash(path))
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// startDetached starts the editor without waiting for it; some editor CLIs
// block until the window is closed.
func startDetached(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
