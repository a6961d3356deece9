package exiftool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// DefaultPath is the command used when no explicit exiftool location is configured.
const DefaultPath = "exiftool"

var (
	// ErrTimeout is returned when an invocation outlives its deadline.
	ErrTimeout = errors.New("exiftool invocation timed out")
	// ErrNotFound is returned when the exiftool executable can not be started.
	ErrNotFound = errors.New("exiftool executable not found")
)

// Runner executes a command line and returns its standard output.
// argv[0] is the executable.
type Runner interface {
	Run(ctx context.Context, argv []string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, argv []string) (string, error)

// Run calls f(ctx, argv).
func (f RunnerFunc) Run(ctx context.Context, argv []string) (string, error) {
	return f(ctx, argv)
}

// CommandRunner runs exiftool as a child process.
// A non-zero exit status is not an error: exiftool reports problems on
// stdout and callers inspect the text.
type CommandRunner struct{}

// NewCommandRunner returns a CommandRunner.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

// Run executes argv and waits for it to finish or for ctx to expire.
func (r *CommandRunner) Run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command line")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stdin = strings.NewReader("")

	err := cmd.Run()
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return stdout.String(), fmt.Errorf("%w: %s", ErrTimeout, argv[0])
	} else if ctxErr != nil {
		return stdout.String(), ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%w: %s: %v", ErrNotFound, argv[0], err)
		}
		return stdout.String(), fmt.Errorf("failed to run %s: %w", argv[0], err)
	}

	return stdout.String(), nil
}

// Version returns the version string printed by "exiftool -ver".
func Version(ctx context.Context, r Runner, path string) (string, error) {
	out, err := r.Run(ctx, []string{path, "-ver"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Detected reports whether exiftool answers at path.
func Detected(ctx context.Context, r Runner, path string) bool {
	version, err := Version(ctx, r, path)
	return err == nil && version != ""
}
