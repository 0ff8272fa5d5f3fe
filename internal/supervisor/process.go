package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
)

// ConsumerIDEnv carries the slot index into the consumer process.
const ConsumerIDEnv = "ASYNCBG_CONSUMER_ID"

// Process is a running consumer.
type Process interface {
	// PID returns the operating system process id.
	PID() int

	// Exited reports the exit code once the process has ended.
	Exited() (code int, exited bool)

	// Interrupt asks the process to stop.
	Interrupt() error

	// Kill stops the process immediately.
	Kill() error
}

// Launcher starts a consumer process for a slot.
type Launcher interface {
	Launch(ctx context.Context, slot int) (Process, error)
}

// ExecLauncher runs the consumer binary as a child process with the parent's
// environment plus the slot index.
type ExecLauncher struct {
	Path   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Launch implements Launcher. The child is not bound to ctx: shutdown is
// handled by the supervisor so that children get a grace period.
func (l *ExecLauncher) Launch(_ context.Context, slot int) (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Env = append(os.Environ(), ConsumerIDEnv+"="+strconv.Itoa(slot))
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start consumer %s: %w", l.Path, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait(l.Logger)
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	code int
}

func (p *execProcess) wait(logger *slog.Logger) {
	err := p.cmd.Wait()
	p.code = p.cmd.ProcessState.ExitCode()
	if err != nil && logger != nil {
		logger.Debug("consumer process ended", "pid", p.cmd.Process.Pid, "error", err)
	}
	close(p.done)
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() (int, bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

func (p *execProcess) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
