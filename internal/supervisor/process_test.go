package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test. It is re-executed as a child by the
// ExecLauncher tests and behaves according to HELPER_MODE.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("HELPER_MODE") {
	case "exit":
		code, _ := strconv.Atoi(os.Getenv(ConsumerIDEnv))
		os.Exit(code)
	case "wait":
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		select {
		case <-sig:
			os.Exit(0)
		case <-time.After(30 * time.Second):
			os.Exit(2)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown helper mode")
		os.Exit(99)
	}
}

func helperLauncher(t *testing.T, mode string) *ExecLauncher {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("HELPER_MODE", mode)

	return &ExecLauncher{
		Path:   os.Args[0],
		Args:   []string{"-test.run=^TestHelperProcess$"},
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
}

func waitExit(t *testing.T, p Process) int {
	t.Helper()
	var code int
	require.Eventually(t, func() bool {
		var exited bool
		code, exited = p.Exited()
		return exited
	}, 10*time.Second, 10*time.Millisecond)
	return code
}

func TestExecLauncher_PassesSlotAndExitCode(t *testing.T) {
	launcher := helperLauncher(t, "exit")

	p, err := launcher.Launch(context.Background(), 7)
	require.NoError(t, err)
	assert.Positive(t, p.PID())

	assert.Equal(t, 7, waitExit(t, p))
}

func TestExecLauncher_Interrupt(t *testing.T) {
	launcher := helperLauncher(t, "wait")

	p, err := launcher.Launch(context.Background(), 1)
	require.NoError(t, err)

	_, exited := p.Exited()
	assert.False(t, exited)

	// Give the child time to install its signal handler
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, p.Interrupt())
	assert.Equal(t, 0, waitExit(t, p))
}

func TestExecLauncher_Kill(t *testing.T) {
	launcher := helperLauncher(t, "wait")

	p, err := launcher.Launch(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	assert.Equal(t, -1, waitExit(t, p))
}

func TestExecLauncher_MissingBinary(t *testing.T) {
	t.Parallel()
	launcher := &ExecLauncher{Path: "/nonexistent/consumer"}

	_, err := launcher.Launch(context.Background(), 1)
	assert.Error(t, err)
}
