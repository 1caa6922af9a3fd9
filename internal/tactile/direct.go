package tactile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"aide/internal/logging"
)

// Executor runs commands directly on the host using os/exec, bounded by
// the configured timeout and output caps.
type Executor struct {
	config Config
}

// NewExecutor creates an executor with default config.
func NewExecutor() *Executor {
	return NewExecutorWithConfig(DefaultConfig())
}

// NewExecutorWithConfig creates an executor with custom config.
func NewExecutorWithConfig(config Config) *Executor {
	logging.SandboxDebug("Creating Executor with config: timeout=%s, maxOutput=%d bytes",
		config.DefaultTimeout, config.MaxOutputBytes)
	return &Executor{config: config}
}

// Run executes an argument vector with the given timeout. A zero timeout
// uses the configured default. It is a convenience wrapper over Execute.
func (e *Executor) Run(ctx context.Context, argv []string, timeout time.Duration) *ProcessResult {
	return e.Execute(ctx, Command{Argv: argv, Timeout: timeout})
}

// Execute runs a command on the host. It never returns a Go error: launch
// failures, timeouts and non-zero exits all come back inside ProcessResult.
func (e *Executor) Execute(ctx context.Context, cmd Command) *ProcessResult {
	timer := logging.StartTimer(logging.CategorySandbox, "Command execution")
	defer timer.Stop()

	if len(cmd.Argv) == 0 || cmd.Argv[0] == "" {
		return &ProcessResult{OK: false, ExitCode: -1, Error: "no command given"}
	}

	cmd = e.config.merge(cmd)
	logging.Sandbox("Executing command: %s (dir=%s, timeout=%s)",
		cmd.CommandString(), cmd.WorkingDirectory, cmd.Timeout)

	result := &ProcessResult{ExitCode: -1}

	execCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Argv[0], cmd.Argv[1:]...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = e.buildEnvironment(cmd.Environment)

	if cmd.Stdin != "" {
		logging.SandboxDebug("Providing stdin input (%d bytes)", len(cmd.Stdin))
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: cmd.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: cmd.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	start := time.Now()
	err := execCmd.Run()
	result.Duration = time.Since(start)

	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.SandboxWarn("Command output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	switch {
	case err == nil:
		result.OK = true
		result.ExitCode = 0
		logging.SandboxDebug("Command succeeded with exit code 0")

	case execCtx.Err() == context.DeadlineExceeded:
		result.Error = "Command timed out"
		logging.SandboxWarn("Command killed (timeout): %s after %s", cmd.Argv[0], cmd.Timeout)

	case execCtx.Err() == context.Canceled:
		result.Error = "Command canceled"
		logging.SandboxDebug("Command canceled: %s", cmd.Argv[0])

	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Error = fmt.Sprintf("Command exited with code %d", result.ExitCode)
			logging.SandboxDebug("Command exited non-zero: %s -> %d", cmd.Argv[0], result.ExitCode)
		} else {
			// Launch failure (binary not found, permission, bad dir).
			result.Error = err.Error()
			logging.SandboxError("Command failed to launch: %s - %v", cmd.Argv[0], err)
		}
	}

	logging.Sandbox("Command completed: %s -> exit=%d, duration=%s, stdout=%d bytes",
		cmd.Argv[0], result.ExitCode, result.Duration, len(result.Stdout))

	return result
}

// buildEnvironment creates the environment variable list from the
// passthrough allowlist plus command-specific additions.
func (e *Executor) buildEnvironment(cmdEnv []string) []string {
	env := make([]string, 0, len(e.config.AllowedEnvironment)+len(cmdEnv))

	for _, key := range e.config.AllowedEnvironment {
		if val := os.Getenv(key); val != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, val))
		}
	}

	env = append(env, cmdEnv...)
	return env
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		// Partial write
		lw.truncated = true
		toWrite := p[:remaining]
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(toWrite)
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
