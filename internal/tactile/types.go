// Package tactile is the lowest-level execution layer that physically
// interacts with the outside world. It runs external processes from an
// argument vector under a wall-clock timeout with size-capped output
// capture, and reports every failure mode through a uniform ProcessResult
// instead of errors or panics.
package tactile

import (
	"time"
)

// Command represents a process to be executed.
// Argv semantics only; there is no shell-string form.
type Command struct {
	// Argv is the full argument vector: Argv[0] is the binary.
	Argv []string `json:"argv"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (in KEY=VALUE format).
	// These are merged with the executor's allowed environment.
	Environment []string `json:"environment,omitempty"`

	// Stdin provides input to the command's standard input.
	Stdin string `json:"stdin,omitempty"`

	// Timeout caps wall-clock execution time.
	// Zero means use the executor's default timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxOutputBytes limits captured stdout/stderr size (per stream).
	// Zero means use the executor's default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	result := ""
	for i, arg := range c.Argv {
		if i > 0 {
			result += " "
		}
		result += arg
	}
	return result
}

// ProcessResult is the uniform output of process execution. Every failure
// mode (launch error, timeout, non-zero exit) is expressed here; Run never
// returns a Go error and never panics.
type ProcessResult struct {
	// OK is true iff the process ran to completion with exit code 0.
	OK bool `json:"ok"`

	// ExitCode is the process exit code, or -1 when the process never
	// produced one (launch failure, timeout, signal kill).
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`

	// Error is a human-readable failure description. Empty iff OK.
	Error string `json:"error,omitempty"`

	// Duration is how long the command ran.
	Duration time.Duration `json:"duration"`

	// Truncated indicates output was cut at the size cap.
	Truncated bool `json:"truncated,omitempty"`

	// TruncatedBytes is how many bytes were discarded.
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`
}

// Output returns stdout and stderr joined for display.
func (r *ProcessResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Config is the configuration for creating executors.
type Config struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string `json:"default_working_dir"`

	// DefaultTimeout is used when no timeout is specified.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// MaxTimeout caps all timeout values.
	MaxTimeout time.Duration `json:"max_timeout"`

	// MaxOutputBytes caps output capture per stream (default 10MB).
	MaxOutputBytes int64 `json:"max_output_bytes"`

	// AllowedEnvironment lists environment variables to pass through.
	AllowedEnvironment []string `json:"allowed_environment"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWorkingDir:  ".",
		DefaultTimeout:     30 * time.Second,
		MaxTimeout:         10 * time.Minute,
		MaxOutputBytes:     10 * 1024 * 1024, // 10MB
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "DISPLAY"},
	}
}

// merge applies config defaults and the max-timeout cap to a command. The
// cap clamps explicit timeouts and the substituted default alike.
func (c Config) merge(cmd Command) Command {
	result := cmd

	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}
	if result.Timeout <= 0 {
		result.Timeout = c.DefaultTimeout
	}
	if c.MaxTimeout > 0 && result.Timeout > c.MaxTimeout {
		result.Timeout = c.MaxTimeout
	}
	if result.MaxOutputBytes <= 0 {
		result.MaxOutputBytes = c.MaxOutputBytes
	}

	return result
}
