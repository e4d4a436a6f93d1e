package terminal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingListener struct {
	mu     sync.Mutex
	output strings.Builder
	exits  chan Exit
}

func newRecordingListener() *recordingListener {
	return &recordingListener{exits: make(chan Exit, 1)}
}

func (l *recordingListener) Output(o Output) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.WriteString(o.Data)
}

func (l *recordingListener) Exit(e Exit) {
	l.exits <- e
}

func (l *recordingListener) text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.output.String()
}

func TestRunStreamsOutputAndExit(t *testing.T) {
	m := NewManager("", t.TempDir(), nil)
	defer m.Close()
	l := newRecordingListener()

	pid, err := m.Run(context.Background(), 1, "echo hello; exit 3", l)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case exit := <-l.exits:
		if exit.ProcessID != pid || exit.TerminalID != 1 {
			t.Fatalf("unexpected exit ids %+v", exit)
		}
		if exit.ExitCode != 3 {
			t.Fatalf("expected exit code 3, got %d", exit.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
	if got := l.text(); !strings.Contains(got, "hello") {
		t.Fatalf("expected output to contain hello, got %q", got)
	}
	if m.Running() != 0 {
		t.Fatalf("expected no running processes")
	}
}

func TestKillTerminatesProcess(t *testing.T) {
	m := NewManager("", t.TempDir(), nil)
	defer m.Close()
	l := newRecordingListener()

	pid, err := m.Run(context.Background(), 2, "exec sleep 30", l)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := m.Kill(2, pid); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case exit := <-l.exits:
		if exit.ExitCode == 0 {
			t.Fatalf("expected non-zero exit after kill")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for killed process")
	}
}

func TestKillUnknownProcess(t *testing.T) {
	m := NewManager("", "", nil)
	if err := m.Kill(1, 999999); !errors.Is(err, ErrUnknownProcess) {
		t.Fatalf("expected ErrUnknownProcess, got %v", err)
	}
	if _, err := m.Run(context.Background(), 1, "   ", nil); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}
