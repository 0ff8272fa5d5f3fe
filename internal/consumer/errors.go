package consumer

import "fmt"

// Process exit codes
const (
	ExitCodeOK    = 0
	ExitCodeFatal = 1
)

// FatalError ends the consumer process. Anything other than a broker
// connectivity problem is fatal; retrying is left to the supervisor.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("consumer stopped on fatal error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// ExitCode maps the result of Runtime.Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeOK
	}
	return ExitCodeFatal
}
