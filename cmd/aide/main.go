package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"aide/internal/config"
	"aide/internal/logging"
	"aide/internal/memory"
	"aide/internal/orchestrator"
	"aide/internal/perception"
	"aide/internal/sandbox"
	"aide/internal/tactile"
	"aide/internal/tools"
)

var (
	// Global flags
	verbose    bool
	configPath string
	userID     string
	sessionID  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "aide",
	Short: "aide - a local tool-calling agent",
	Long: `aide is a local agent runtime. A hosted language model proposes tool
invocations; aide executes only pre-registered, schema-validated tools
inside an enforced filesystem and process sandbox, feeding results back
until the model produces a final answer.

Run without arguments to start the interactive chat.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// askCmd runs a single request through the loop.
var askCmd = &cobra.Command{
	Use:   "ask [input]",
	Short: "Process one request and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

// chatCmd starts the interactive REPL.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChat,
}

// toolsCmd lists the registered tools.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tools and their schemas",
	RunE:  runTools,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .aide/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "default", "user identity for memory attribution")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session identifier (generated when empty)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(toolsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles everything a command needs.
type runtime struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	reg     *tools.Registry
	store   *memory.Store
	client  perception.ChatClient
	builder *memory.ContextBuilder
}

func (r *runtime) close() {
	if r.store != nil {
		r.store.Close()
	}
}

// applyConfig swaps in a freshly reloaded config. The loop settings take
// effect on the next run; model, sandbox and executor settings need a
// restart.
func (r *runtime) applyConfig(cfg *config.Config) {
	r.cfg = cfg
	r.orch = orchestrator.New(r.client, r.reg, r.builder, orchestrator.Config{
		SystemPrompt: cfg.Orchestrator.SystemPrompt,
		MaxTurns:     cfg.Orchestrator.MaxTurns,
		ToolTimeout:  cfg.GetToolTimeout(),
	})
}

// buildRuntime wires the config into the full stack: sandbox, executor,
// tools, model client, memory, orchestrator.
func buildRuntime() (*runtime, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("cannot determine working directory: %w", err)
	}
	if err := logging.Initialize(cwd); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Boot("Config loaded from %s (provider=%s model=%s)", path, cfg.Model.Provider, cfg.Model.Model)

	var allow *sandbox.Allowlist
	if cfg.Sandbox.AllowFullFilesystem {
		logger.Warn("sandbox disabled: full filesystem access configured")
		allow = sandbox.Permissive()
	} else {
		allow = sandbox.Default().WithRoots(cfg.Sandbox.AllowedPaths...)
	}

	execCfg := tactile.DefaultConfig()
	execCfg.DefaultTimeout = cfg.GetExecutionTimeout()
	execCfg.MaxTimeout = cfg.GetMaxExecutionTimeout()
	if cfg.Execution.MaxOutputBytes > 0 {
		execCfg.MaxOutputBytes = cfg.Execution.MaxOutputBytes
	}
	if cfg.Execution.WorkingDirectory != "" {
		execCfg.DefaultWorkingDir = cfg.Execution.WorkingDirectory
	}
	if len(cfg.Execution.AllowedEnvVars) > 0 {
		execCfg.AllowedEnvironment = cfg.Execution.AllowedEnvVars
	}
	executor := tactile.NewExecutorWithConfig(execCfg)

	registry := tools.NewRegistry()
	if err := tools.NewBuiltins(allow, executor).RegisterAll(registry); err != nil {
		return nil, fmt.Errorf("tool registration failed: %w", err)
	}

	client, err := perception.New(perception.Options{
		Provider:    cfg.Model.Provider,
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		Model:       cfg.Model.Model,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.GetModelTimeout(),
	})
	if err != nil {
		return nil, err
	}

	var builder *memory.ContextBuilder
	var store *memory.Store
	if cfg.Memory.Enabled {
		store, err = memory.NewStore(cfg.Memory.DatabasePath)
		if err != nil {
			logger.Warn("memory store unavailable, continuing without memory", zap.Error(err))
		} else {
			builder = memory.NewContextBuilder(store, store, store, memory.BuilderConfig{
				Budget:       cfg.Memory.ContextBudget,
				RecentTurns:  cfg.Memory.RecentTurns,
				EpisodeLimit: cfg.Memory.EpisodeLimit,
				FactLimit:    cfg.Memory.FactLimit,
			})
		}
	}

	orch := orchestrator.New(client, registry, builder, orchestrator.Config{
		SystemPrompt: cfg.Orchestrator.SystemPrompt,
		MaxTurns:     cfg.Orchestrator.MaxTurns,
		ToolTimeout:  cfg.GetToolTimeout(),
	})

	return &runtime{
		cfg:     cfg,
		orch:    orch,
		reg:     registry,
		store:   store,
		client:  client,
		builder: builder,
	}, nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runAsk(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	input := strings.Join(args, " ")
	session := sessionOrNew()
	result, err := rt.orch.Run(ctx, orchestrator.Request{
		UserID:    userID,
		SessionID: session,
		Input:     input,
	})
	if err != nil {
		return err
	}

	rt.persistTurns(ctx, session, input, result.Text)
	logger.Debug("run finished",
		zap.String("state", string(result.State)),
		zap.Int("model_calls", result.ModelCalls),
		zap.Int("tool_calls", result.ToolCalls))

	fmt.Println(result.Text)
	if result.State == orchestrator.StateBudgetExhausted {
		fmt.Fprintln(os.Stderr, "(turn budget exhausted)")
	}
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signalContext()
	defer stop()

	// Reload config at runtime when the file changes. The watcher delivers
	// the fresh config on its own goroutine; it is applied between turns.
	watchPath := configPath
	if watchPath == "" {
		watchPath = config.DefaultPath()
	}
	reloads := make(chan *config.Config, 1)
	if watcher, err := config.NewWatcher(watchPath, func(fresh *config.Config) {
		select {
		case reloads <- fresh:
		default:
		}
	}); err == nil {
		go watcher.Run(ctx)
	}

	session := sessionOrNew()
	fmt.Printf("aide %s (%s/%s) session %s\n", rt.cfg.Version, rt.cfg.Model.Provider, rt.cfg.Model.Model, session)
	fmt.Println(`Type a request, or "exit" to quit.`)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if ctx.Err() != nil {
			break
		}

		select {
		case fresh := <-reloads:
			rt.applyConfig(fresh)
			logger.Info("config reloaded", zap.String("path", watchPath))
		default:
		}

		result, err := rt.orch.Run(ctx, orchestrator.Request{
			UserID:    userID,
			SessionID: session,
			Input:     input,
		})
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted")
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		rt.persistTurns(ctx, session, input, result.Text)
		fmt.Println(result.Text)
		if result.State == orchestrator.StateBudgetExhausted {
			fmt.Println("(turn budget exhausted)")
		}
	}

	return scanner.Err()
}

func runTools(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	for _, decl := range rt.reg.Declarations() {
		fmt.Printf("%s\n  %s\n", decl.Name, decl.Description)
		if len(decl.Schema.Required) > 0 {
			fmt.Printf("  required: %s\n", strings.Join(decl.Schema.Required, ", "))
		}
		for name, prop := range decl.Schema.Properties {
			fmt.Printf("  - %s (%s): %s\n", name, prop.Type, prop.Description)
		}
		fmt.Println()
	}
	return nil
}

// persistTurns records the exchange in the dialogue store, when memory is on.
func (r *runtime) persistTurns(ctx context.Context, session, input, answer string) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendTurn(ctx, session, "user", input); err != nil {
		logging.MemoryWarn("Failed to persist user turn: %v", err)
	}
	if answer != "" {
		if err := r.store.AppendTurn(ctx, session, "assistant", answer); err != nil {
			logging.MemoryWarn("Failed to persist assistant turn: %v", err)
		}
	}
}

func sessionOrNew() string {
	if sessionID != "" {
		return sessionID
	}
	sessionID = uuid.NewString()
	return sessionID
}
