package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	outputChunk = 4096
	// waitDelay bounds how long output is drained after the process exits
	// when grandchildren still hold the pipe.
	waitDelay = 2 * time.Second
)

var (
	// ErrUnknownProcess indicates no running process matches the request.
	ErrUnknownProcess = errors.New("terminal: unknown process")
	// ErrEmptyCommand indicates a run request without a command.
	ErrEmptyCommand = errors.New("terminal: empty command")
)

// Output is a chunk of combined stdout/stderr.
type Output struct {
	TerminalID int
	ProcessID  int
	Data       string
}

// Exit describes how a process ended.
type Exit struct {
	TerminalID int
	ProcessID  int
	ExitCode   int
	Err        error
}

// Listener receives output and exit notifications. Calls happen on
// background goroutines.
type Listener interface {
	Output(Output)
	Exit(Exit)
}

type processKey struct {
	terminalID int
	processID  int
}

// Manager spawns shell commands on behalf of devtools terminals and kills
// them on request.
type Manager struct {
	mu        sync.Mutex
	shell     string
	dir       string
	processes map[processKey]*exec.Cmd
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewManager builds a manager running commands through shell -c in dir.
func NewManager(shell, dir string, logger *slog.Logger) *Manager {
	if strings.TrimSpace(shell) == "" {
		shell = "/bin/sh"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		shell:     shell,
		dir:       dir,
		processes: make(map[processKey]*exec.Cmd),
		logger:    logger.With("component", "terminal"),
	}
}

// Run starts command for terminalID and returns its process id. Output and
// exit are reported to l.
func (m *Manager) Run(ctx context.Context, terminalID int, command string, l Listener) (int, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return 0, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, m.shell, "-c", command)
	cmd.Dir = m.dir
	cmd.WaitDelay = waitDelay
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return 0, fmt.Errorf("start %q: %w", command, err)
	}
	pid := cmd.Process.Pid
	key := processKey{terminalID: terminalID, processID: pid}

	m.mu.Lock()
	m.processes[key] = cmd
	m.mu.Unlock()
	m.logger.Info("terminal process started", "terminal_id", terminalID, "process_id", pid, "command", command)

	readDone := make(chan struct{})
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		defer close(readDone)
		buf := make([]byte, outputChunk)
		for {
			n, err := pr.Read(buf)
			if n > 0 && l != nil {
				l.Output(Output{TerminalID: terminalID, ProcessID: pid, Data: string(buf[:n])})
			}
			if err != nil {
				return
			}
		}
	}()
	go func() {
		defer m.wg.Done()
		err := cmd.Wait()
		_ = pw.Close()
		<-readDone

		m.mu.Lock()
		delete(m.processes, key)
		m.mu.Unlock()

		exit := Exit{TerminalID: terminalID, ProcessID: pid, ExitCode: cmd.ProcessState.ExitCode()}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			exit.Err = err
		}
		m.logger.Info("terminal process exited", "terminal_id", terminalID, "process_id", pid, "exit_code", exit.ExitCode)
		if l != nil {
			l.Exit(exit)
		}
	}()
	return pid, nil
}

// Kill terminates the process processID started for terminalID.
func (m *Manager) Kill(terminalID, processID int) error {
	m.mu.Lock()
	cmd, ok := m.processes[processKey{terminalID: terminalID, processID: processID}]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: terminal %d process %d", ErrUnknownProcess, terminalID, processID)
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill process %d: %w", processID, err)
	}
	return nil
}

// Running reports the number of live processes.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processes)
}

// Close kills every live process and waits for their reporters to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, cmd := range m.processes {
		_ = cmd.Process.Kill()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
