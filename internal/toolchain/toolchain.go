package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Tool names of the external programs this tool drives.
const (
	GCC     = "avr-gcc"
	GXX     = "avr-g++"
	AR      = "avr-ar"
	Objcopy = "avr-objcopy"
	Size    = "avr-size"
	Avrdude = "avrdude"
)

// Toolchain locates the external build tools. A non-empty dir is
// searched first (its bin/ subdirectory, then the dir itself); after
// that the regular PATH lookup applies.
type Toolchain struct {
	dir   string
	cache map[string]string
}

// New returns a Toolchain rooted at dir, which may be empty to use
// PATH only.
func New(dir string) *Toolchain {
	return &Toolchain{dir: dir, cache: make(map[string]string)}
}

// Find returns the absolute path of a tool, or an error naming it.
func (t *Toolchain) Find(name string) (string, error) {
	if path, ok := t.cache[name]; ok {
		return path, nil
	}
	if t.dir != "" {
		for _, candidate := range []string{
			filepath.Join(t.dir, "bin", name),
			filepath.Join(t.dir, name),
		} {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				t.cache[name] = candidate
				return candidate, nil
			}
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found (install the AVR toolchain or set AVR_TOOLS_DIR): %w", name, err)
	}
	t.cache[name] = path
	return path, nil
}

// Runner executes external tool invocations, streaming their output
// through and stopping the caller's sequence at the first failure.
type Runner struct {
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewRunner returns a Runner writing to the process's stdout/stderr.
func NewRunner(verbose bool) *Runner {
	return &Runner{Verbose: verbose, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run executes one tool invocation. The returned error wraps the
// tool's exit status so that ExitCode can recover it.
func (r *Runner) Run(ctx context.Context, path string, args ...string) error {
	if r.Verbose {
		fmt.Fprintf(r.Stderr, "%s %s\n", path, strings.Join(args, " "))
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", filepath.Base(path), err)
	}
	return nil
}

// Output executes a tool invocation and captures its stdout.
func (r *Runner) Output(ctx context.Context, path string, args ...string) ([]byte, error) {
	if r.Verbose {
		fmt.Fprintf(r.Stderr, "%s %s\n", path, strings.Join(args, " "))
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = r.Stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", filepath.Base(path), err)
	}
	return out, nil
}

// ExitCode extracts the exit code of a failed tool invocation, so the
// caller can propagate it as its own. Returns 1 for errors that did
// not come from a tool exit (lookup failures, signals, config errors)
// and 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() > 0 {
		return ee.ExitCode()
	}
	return 1
}
