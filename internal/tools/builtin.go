package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gobwas/glob"

	"aide/internal/sandbox"
	"aide/internal/tactile"
)

// Limits for builtin tool behavior.
const (
	// maxReadBytes caps read_file payloads handed back to the model.
	maxReadBytes = 256 * 1024

	// maxSearchResults caps search_files hits.
	maxSearchResults = 500

	// maxSearchVisited caps how many directory entries a search walks.
	maxSearchVisited = 100000
)

// Builtins wires the standard tool set to its collaborators: every
// filesystem-touching tool checks the allowlist before any effect, and
// every process launch goes through the executor.
type Builtins struct {
	allow *sandbox.Allowlist
	exec  *tactile.Executor
}

// NewBuiltins creates the builtin tool set.
func NewBuiltins(allow *sandbox.Allowlist, exec *tactile.Executor) *Builtins {
	return &Builtins{allow: allow, exec: exec}
}

// RegisterAll adds every builtin tool to the registry. Fails fast on the
// first registration error (duplicate name or invalid definition).
func (b *Builtins) RegisterAll(r *Registry) error {
	all := []*Tool{
		b.openApp(),
		b.runCommand(),
		b.readFile(),
		b.writeFile(),
		b.listDir(),
		b.moveToTrash(),
		b.hashFile(),
		b.searchFiles(),
		b.diffFiles(),
	}
	for _, tool := range all {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PROCESS TOOLS
// =============================================================================

func (b *Builtins) openApp() *Tool {
	return &Tool{
		Name:        "open_app",
		Description: "Launch a desktop application by name.",
		Schema: Schema{
			Required: []string{"app_name"},
			Properties: map[string]Property{
				"app_name": {Type: "string", Description: "Name of the application to launch"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			name := StringArg(args, "app_name")
			if name == "" {
				return Fail("app_name must not be empty")
			}

			var res *tactile.ProcessResult
			for _, argv := range launchCandidates(runtime.GOOS, name) {
				res = b.exec.Run(ctx, argv, 15*time.Second)
				if res.OK {
					out := Ok(fmt.Sprintf("launched %s", name))
					out.ExitCode = &res.ExitCode
					return out
				}
			}
			out := Fail(fmt.Sprintf("failed to launch %q: %s", name, res.Error))
			out.ExitCode = &res.ExitCode
			return out
		},
	}
}

func (b *Builtins) runCommand() *Tool {
	return &Tool{
		Name:        "run_command",
		Description: "Run an external command from an argument vector. No shell interpretation.",
		Schema: Schema{
			Required: []string{"command"},
			Properties: map[string]Property{
				"command": {
					Type:        "array",
					Description: "Argument vector; first element is the binary",
					Items:       &PropertyItems{Type: "string"},
				},
				"timeout_seconds": {Type: "number", Description: "Wall-clock timeout in seconds (default 30)"},
				"working_dir":     {Type: "string", Description: "Working directory (must be inside the allowed roots)"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			argv := StringSliceArg(args, "command")
			if len(argv) == 0 {
				return Fail("command must be a non-empty array of strings")
			}

			var timeout time.Duration
			if secs, ok := NumberArg(args, "timeout_seconds"); ok && secs > 0 {
				timeout = time.Duration(secs * float64(time.Second))
			}

			cmd := tactile.Command{Argv: argv, Timeout: timeout}
			if wd := StringArg(args, "working_dir"); wd != "" {
				canonical, err := b.allow.EnsureAllowed(wd)
				if err != nil {
					return Failf(err)
				}
				cmd.WorkingDirectory = canonical
			}

			res := b.exec.Execute(ctx, cmd)
			out := Outcome{
				OK:       res.OK,
				ExitCode: &res.ExitCode,
				Data: map[string]any{
					"stdout":    res.Stdout,
					"stderr":    res.Stderr,
					"truncated": res.Truncated,
				},
			}
			if !res.OK {
				out.Error = res.Error
			}
			return out
		},
	}
}

func (b *Builtins) diffFiles() *Tool {
	return &Tool{
		Name:        "diff_files",
		Description: "Compare two files and return a unified diff. Empty diff means the files are identical.",
		Schema: Schema{
			Required: []string{"path_a", "path_b"},
			Properties: map[string]Property{
				"path_a": {Type: "string", Description: "First file"},
				"path_b": {Type: "string", Description: "Second file"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			pathA, err := b.allow.EnsureAllowed(StringArg(args, "path_a"))
			if err != nil {
				return Failf(err)
			}
			pathB, err := b.allow.EnsureAllowed(StringArg(args, "path_b"))
			if err != nil {
				return Failf(err)
			}

			res := b.exec.Run(ctx, []string{"diff", "-u", pathA, pathB}, 30*time.Second)

			// diff exits 1 when the files differ; that is a result, not
			// a failure. Exit 2 and up means trouble.
			switch res.ExitCode {
			case 0:
				out := Ok(map[string]any{"identical": true, "diff": ""})
				out.ExitCode = &res.ExitCode
				return out
			case 1:
				out := Ok(map[string]any{"identical": false, "diff": res.Stdout})
				out.ExitCode = &res.ExitCode
				return out
			default:
				out := Fail(fmt.Sprintf("diff failed: %s", firstNonEmpty(res.Stderr, res.Error)))
				out.ExitCode = &res.ExitCode
				return out
			}
		},
	}
}

// =============================================================================
// FILESYSTEM TOOLS
// =============================================================================

func (b *Builtins) readFile() *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read a text file and return its contents.",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "File to read"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			path, err := b.allow.EnsureAllowed(StringArg(args, "path"))
			if err != nil {
				return Failf(err)
			}

			f, err := os.Open(path)
			if err != nil {
				return Fail(fmt.Sprintf("cannot open file: %v", err))
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
			if err != nil {
				return Fail(fmt.Sprintf("cannot read file: %v", err))
			}

			truncated := false
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
				truncated = true
			}

			return Ok(map[string]any{
				"content":   string(data),
				"truncated": truncated,
			})
		},
	}
}

func (b *Builtins) writeFile() *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		Schema: Schema{
			Required: []string{"path", "content"},
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "File to write"},
				"content": {Type: "string", Description: "Content to write"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			path, err := b.allow.EnsureAllowed(StringArg(args, "path"))
			if err != nil {
				return Failf(err)
			}
			content := StringArg(args, "content")

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return Fail(fmt.Sprintf("cannot create parent directory: %v", err))
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return Fail(fmt.Sprintf("cannot write file: %v", err))
			}

			return Ok(map[string]any{"path": path, "bytes_written": len(content)})
		},
	}
}

func (b *Builtins) listDir() *Tool {
	return &Tool{
		Name:        "list_dir",
		Description: "List the entries of a directory.",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Directory to list"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			path, err := b.allow.EnsureAllowed(StringArg(args, "path"))
			if err != nil {
				return Failf(err)
			}

			entries, err := os.ReadDir(path)
			if err != nil {
				return Fail(fmt.Sprintf("cannot list directory: %v", err))
			}

			type entry struct {
				Name  string `json:"name"`
				IsDir bool   `json:"is_dir"`
				Size  int64  `json:"size"`
			}
			out := make([]entry, 0, len(entries))
			for _, e := range entries {
				item := entry{Name: e.Name(), IsDir: e.IsDir()}
				if info, err := e.Info(); err == nil && !e.IsDir() {
					item.Size = info.Size()
				}
				out = append(out, item)
			}

			return Ok(map[string]any{"path": path, "entries": out})
		},
	}
}

func (b *Builtins) moveToTrash() *Tool {
	return &Tool{
		Name:        "move_to_trash",
		Description: "Move a file or directory to the user's trash. Nothing is ever deleted in place.",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "File or directory to trash"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			path, err := b.allow.EnsureAllowed(StringArg(args, "path"))
			if err != nil {
				return Failf(err)
			}
			if _, err := os.Stat(path); err != nil {
				return Fail(fmt.Sprintf("cannot trash: %v", err))
			}

			trashDir, err := trashDirectory()
			if err != nil {
				return Failf(err)
			}
			if err := os.MkdirAll(trashDir, 0700); err != nil {
				return Fail(fmt.Sprintf("cannot prepare trash directory: %v", err))
			}

			dest := filepath.Join(trashDir, filepath.Base(path))
			if _, err := os.Stat(dest); err == nil {
				// Name collision in trash; disambiguate with a timestamp.
				dest = filepath.Join(trashDir,
					fmt.Sprintf("%s.%d", filepath.Base(path), time.Now().UnixNano()))
			}

			if err := os.Rename(path, dest); err != nil {
				return Fail(fmt.Sprintf("cannot move to trash: %v", err))
			}

			return Ok(map[string]any{"trashed": path, "location": dest})
		},
	}
}

func (b *Builtins) hashFile() *Tool {
	return &Tool{
		Name:        "hash_file",
		Description: "Compute the SHA-256 digest of a file.",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "File to hash"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			path, err := b.allow.EnsureAllowed(StringArg(args, "path"))
			if err != nil {
				return Failf(err)
			}

			f, err := os.Open(path)
			if err != nil {
				return Fail(fmt.Sprintf("cannot open file: %v", err))
			}
			defer f.Close()

			h := sha256.New()
			if _, err := io.Copy(h, f); err != nil {
				return Fail(fmt.Sprintf("cannot read file: %v", err))
			}

			return Ok(map[string]any{
				"path":   path,
				"sha256": hex.EncodeToString(h.Sum(nil)),
			})
		},
	}
}

func (b *Builtins) searchFiles() *Tool {
	return &Tool{
		Name:        "search_files",
		Description: "Find files under a directory whose names match a glob pattern (e.g. *.pdf, report-??.txt).",
		Schema: Schema{
			Required: []string{"path", "pattern"},
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "Directory to search under"},
				"pattern": {Type: "string", Description: "Glob pattern matched against file names"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) Outcome {
			root, err := b.allow.EnsureAllowed(StringArg(args, "path"))
			if err != nil {
				return Failf(err)
			}

			pattern := StringArg(args, "pattern")
			matcher, err := glob.Compile(pattern)
			if err != nil {
				return Fail(fmt.Sprintf("invalid pattern %q: %v", pattern, err))
			}

			var matches []string
			visited := 0
			walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					// Unreadable subtrees are skipped, not fatal.
					if d != nil && d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				visited++
				if visited > maxSearchVisited || len(matches) >= maxSearchResults {
					return filepath.SkipAll
				}
				if !d.IsDir() && matcher.Match(d.Name()) {
					matches = append(matches, p)
				}
				return nil
			})
			if walkErr != nil && walkErr != filepath.SkipAll {
				return Fail(fmt.Sprintf("search aborted: %v", walkErr))
			}

			return Ok(map[string]any{
				"pattern": pattern,
				"matches": matches,
				"count":   len(matches),
			})
		},
	}
}

// launchCandidates returns the launcher argvs to try, in order. Linux
// desktops vary: gtk-launch resolves .desktop entries, xdg-open is the
// broader fallback.
func launchCandidates(goos, name string) [][]string {
	if goos == "darwin" {
		return [][]string{{"open", "-a", name}}
	}
	return [][]string{
		{"gtk-launch", name},
		{"xdg-open", name},
	}
}

// trashDirectory returns the platform trash location.
func trashDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate home directory: %w", err)
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, ".Trash"), nil
	}
	return filepath.Join(home, ".local", "share", "Trash", "files"), nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
