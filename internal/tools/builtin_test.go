package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"aide/internal/sandbox"
	"aide/internal/tactile"
)

func newTestRegistry(t *testing.T, roots ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	b := NewBuiltins(sandbox.New(roots...), tactile.NewExecutor())
	require.NoError(t, b.RegisterAll(reg))
	return reg
}

func TestRegisterAllNames(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	want := []string{
		"open_app", "run_command", "read_file", "write_file", "list_dir",
		"move_to_trash", "hash_file", "search_files", "diff_files",
	}
	require.Equal(t, want, reg.Names())
}

func TestOpenAppEmptyName(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	outcome := reg.Execute(context.Background(), "open_app", map[string]any{"app_name": ""})
	require.False(t, outcome.OK)
	require.NotEmpty(t, outcome.Error)
	// No process was launched, so no exit code either.
	require.Nil(t, outcome.ExitCode)
}

func TestLaunchCandidates(t *testing.T) {
	require.Equal(t,
		[][]string{{"open", "-a", "Notes"}},
		launchCandidates("darwin", "Notes"))

	require.Equal(t,
		[][]string{{"gtk-launch", "files"}, {"xdg-open", "files"}},
		launchCandidates("linux", "files"))
}

func TestReadWriteFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	reg := newTestRegistry(t, root)
	ctx := context.Background()

	path := filepath.Join(root, "sub", "note.txt")
	outcome := reg.Execute(ctx, "write_file", map[string]any{
		"path": path, "content": "hello aide",
	})
	require.True(t, outcome.OK, outcome.Error)

	outcome = reg.Execute(ctx, "read_file", map[string]any{"path": path})
	require.True(t, outcome.OK, outcome.Error)
	data := outcome.Data.(map[string]any)
	require.Equal(t, "hello aide", data["content"])
	require.Equal(t, false, data["truncated"])
}

func TestFilesystemToolsDenyOutsideRoots(t *testing.T) {
	root := t.TempDir()
	elsewhere := t.TempDir()
	reg := newTestRegistry(t, root)
	ctx := context.Background()

	denied := filepath.Join(elsewhere, "x.txt")
	for _, tc := range []struct {
		tool string
		args map[string]any
	}{
		{"read_file", map[string]any{"path": denied}},
		{"write_file", map[string]any{"path": denied, "content": "x"}},
		{"list_dir", map[string]any{"path": elsewhere}},
		{"move_to_trash", map[string]any{"path": denied}},
		{"hash_file", map[string]any{"path": denied}},
		{"search_files", map[string]any{"path": elsewhere, "pattern": "*"}},
	} {
		outcome := reg.Execute(ctx, tc.tool, tc.args)
		require.False(t, outcome.OK, "%s should be denied", tc.tool)
		require.NotContains(t, outcome.Error, root, "%s denial must not reveal roots", tc.tool)
	}
}

func TestListDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aa"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0755))

	reg := newTestRegistry(t, root)
	outcome := reg.Execute(context.Background(), "list_dir", map[string]any{"path": root})
	require.True(t, outcome.OK, outcome.Error)

	data := outcome.Data.(map[string]any)
	entries := data["entries"]
	require.Len(t, entries, 2)
}

func TestHashFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "payload.bin")
	content := []byte("deterministic content")
	require.NoError(t, os.WriteFile(path, content, 0644))

	sum := sha256.Sum256(content)
	want := hex.EncodeToString(sum[:])

	reg := newTestRegistry(t, root)
	outcome := reg.Execute(context.Background(), "hash_file", map[string]any{"path": path})
	require.True(t, outcome.OK, outcome.Error)

	data := outcome.Data.(map[string]any)
	require.Equal(t, want, data["sha256"])
}

func TestSearchFilesGlob(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0755))
	for _, name := range []string{"report-01.txt", "report-02.txt", "image.png", "nested/report-03.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0644))
	}

	reg := newTestRegistry(t, root)
	outcome := reg.Execute(context.Background(), "search_files", map[string]any{
		"path": root, "pattern": "report-??.txt",
	})
	require.True(t, outcome.OK, outcome.Error)

	data := outcome.Data.(map[string]any)
	require.Equal(t, 3, data["count"])
}

func TestSearchFilesBadPattern(t *testing.T) {
	root := t.TempDir()
	reg := newTestRegistry(t, root)

	outcome := reg.Execute(context.Background(), "search_files", map[string]any{
		"path": root, "pattern": "[",
	})
	require.False(t, outcome.OK)
}

func TestRunCommandCapturesOutput(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	outcome := reg.Execute(context.Background(), "run_command", map[string]any{
		"command": []any{"echo", "from tool"},
	})
	require.True(t, outcome.OK, outcome.Error)
	require.NotNil(t, outcome.ExitCode)
	require.Equal(t, 0, *outcome.ExitCode)

	data := outcome.Data.(map[string]any)
	require.Equal(t, "from tool\n", data["stdout"])
}

func TestRunCommandDeniedWorkingDir(t *testing.T) {
	reg := newTestRegistry(t, t.TempDir())

	outcome := reg.Execute(context.Background(), "run_command", map[string]any{
		"command":     []any{"echo", "x"},
		"working_dir": "/etc",
	})
	require.False(t, outcome.OK)
}

func TestDiffFiles(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.txt")
	b := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("one\ntwo\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("one\nthree\n"), 0644))

	reg := newTestRegistry(t, root)
	ctx := context.Background()

	// Differing files: exit 1 is a result, not a failure.
	outcome := reg.Execute(ctx, "diff_files", map[string]any{"path_a": a, "path_b": b})
	require.True(t, outcome.OK, outcome.Error)
	data := outcome.Data.(map[string]any)
	require.Equal(t, false, data["identical"])
	require.Contains(t, data["diff"], "-two")

	// Identical files.
	outcome = reg.Execute(ctx, "diff_files", map[string]any{"path_a": a, "path_b": a})
	require.True(t, outcome.OK, outcome.Error)
	data = outcome.Data.(map[string]any)
	require.Equal(t, true, data["identical"])
}

func TestStringSliceArg(t *testing.T) {
	args := map[string]any{
		"json_form":   []any{"a", "b"},
		"native_form": []string{"c"},
		"mixed":       []any{"d", 42},
	}

	require.Equal(t, []string{"a", "b"}, StringSliceArg(args, "json_form"))
	require.Equal(t, []string{"c"}, StringSliceArg(args, "native_form"))
	require.Equal(t, []string{"d"}, StringSliceArg(args, "mixed"))
	require.Nil(t, StringSliceArg(args, "absent"))
}
