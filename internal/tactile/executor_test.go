package tactile

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunSuccess(t *testing.T) {
	e := NewExecutor()

	res := e.Run(context.Background(), []string{"echo", "hello"}, 0)
	if !res.OK {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello")
	}
}

func TestRunTimeout(t *testing.T) {
	e := NewExecutor()

	start := time.Now()
	res := e.Run(context.Background(), []string{"sleep", "10"}, 200*time.Millisecond)
	elapsed := time.Since(start)

	if res.OK {
		t.Fatal("expected failure on timeout")
	}
	if res.Error != "Command timed out" {
		t.Errorf("error = %q, want %q", res.Error, "Command timed out")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
	if elapsed > 3*time.Second {
		t.Errorf("timeout took %v, should return promptly", elapsed)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	e := NewExecutor()

	res := e.Run(context.Background(), []string{"definitely-not-a-binary-xyz"}, 0)
	if res.OK {
		t.Fatal("expected failure for missing binary")
	}
	if res.Error == "" {
		t.Error("launch failure must carry an error message")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	e := NewExecutor()

	res := e.Run(context.Background(), []string{"false"}, 0)
	if res.OK {
		t.Fatal("expected failure for non-zero exit")
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.ExitCode)
	}
	if res.Error == "" {
		t.Error("non-zero exit must carry an error message")
	}
}

func TestRunEmptyArgv(t *testing.T) {
	e := NewExecutor()

	res := e.Run(context.Background(), nil, 0)
	if res.OK {
		t.Fatal("expected failure for empty argv")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
}

func TestOutputTruncation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOutputBytes = 8
	e := NewExecutorWithConfig(cfg)

	res := e.Execute(context.Background(), Command{
		Argv: []string{"echo", "0123456789abcdef"},
	})
	if !res.OK {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if !res.Truncated {
		t.Error("expected truncation flag")
	}
	if len(res.Stdout) > 8 {
		t.Errorf("stdout length = %d, want <= 8", len(res.Stdout))
	}
	if res.TruncatedBytes == 0 {
		t.Error("expected discarded byte count")
	}
}

func TestStdinPassthrough(t *testing.T) {
	e := NewExecutor()

	res := e.Execute(context.Background(), Command{
		Argv:  []string{"cat"},
		Stdin: "piped input",
	})
	if !res.OK {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.Stdout != "piped input" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "piped input")
	}
}

func TestMergeCapsTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTimeout = time.Second

	merged := cfg.merge(Command{Argv: []string{"x"}, Timeout: time.Hour})
	if merged.Timeout != time.Second {
		t.Errorf("timeout = %v, want capped to %v", merged.Timeout, time.Second)
	}

	// The cap clamps the substituted default too.
	merged = cfg.merge(Command{Argv: []string{"x"}})
	if merged.Timeout != time.Second {
		t.Errorf("timeout = %v, want default clamped to %v", merged.Timeout, time.Second)
	}

	// A default below the cap passes through unchanged.
	cfg.MaxTimeout = time.Minute
	merged = cfg.merge(Command{Argv: []string{"x"}})
	if merged.Timeout != cfg.DefaultTimeout {
		t.Errorf("timeout = %v, want default %v", merged.Timeout, cfg.DefaultTimeout)
	}
}

func TestLimitedWriter(t *testing.T) {
	var sb strings.Builder
	lw := &limitedWriter{w: &sb, max: 5}

	n, err := lw.Write([]byte("0123456789"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("Write returned %d, want original length 10", n)
	}
	if sb.String() != "01234" {
		t.Errorf("captured %q, want %q", sb.String(), "01234")
	}
	if !lw.truncated || lw.discarded != 5 {
		t.Errorf("truncated=%v discarded=%d, want true/5", lw.truncated, lw.discarded)
	}
}
