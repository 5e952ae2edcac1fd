// Package cmd wires configuration, logging and the agent session together
// and picks the front end.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/martinemde/gemcode/agentloop"
	"github.com/martinemde/gemcode/cli"
	"github.com/martinemde/gemcode/config"
	"github.com/martinemde/gemcode/skills"
	"github.com/martinemde/gemcode/tui"
	"github.com/martinemde/gemcode/unifiedllm"
)

const version = "0.1.0"

var (
	cliMode bool
	tuiMode bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gemcode [prompt]",
	Short: "Gem Code - AI CLI Agent",
	Long: `Gem Code is a lightweight coding agent for the terminal.

It talks to any OpenAI-compatible chat endpoint, streams replies, and lets
the model run shell commands, read and edit files inside the working
directory, and fetch web pages.

Examples:
  gemcode                    # Launch TUI mode
  gemcode --cli              # Launch CLI mode
  gemcode "your question"    # CLI mode with an initial prompt
  gemcode --tui "question"   # TUI mode with an initial prompt

Configuration is read from the environment:
  OPENAI_API_KEY, OPENAI_BASE_URL (required)
  OPENAI_MODEL, WORKDIR, SKILLS_DIR, GEMCODE_* (optional)`,
	Args:          cobra.MaximumNArgs(1),
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&cliMode, "cli", false, "Use CLI mode instead of TUI")
	rootCmd.Flags().BoolVar(&tuiMode, "tui", false, "Use TUI mode (default without a prompt)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.SetVersionTemplate("Gem Code v{{.Version}}\n")
}

// useTUI reports whether the full-screen UI should run: by default, unless
// --cli is given or a prompt is passed without --tui.
func useTUI(cliFlag, tuiFlag bool, prompt string) bool {
	if cliFlag {
		return false
	}
	return prompt == "" || tuiFlag
}

func run(cmd *cobra.Command, args []string) error {
	var prompt string
	if len(args) > 0 {
		prompt = strings.TrimSpace(args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	full := useTUI(cliMode, tuiMode, prompt)
	closeLog, err := setupLogging(cfg.LogFile, full, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	session, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	slog.Info("session started", "session", session.ID(), "model", cfg.Model, "workdir", cfg.Workdir, "tui", full)

	if !full {
		return cli.NewREPL(session, cmd.InOrStdin(), cmd.OutOrStdout()).Run(cmd.Context(), prompt)
	}

	m := tui.New(session, cfg.Workdir, prompt)
	defer m.Close()
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	if fm, ok := final.(tui.Model); ok && fm.Err() != nil {
		return fm.Err()
	}
	return nil
}

// setupLogging installs the default slog handler. The TUI owns the
// terminal, so without a log file its logs are discarded.
func setupLogging(logFile string, full, verbose bool) (func(), error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	switch {
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	case full:
		w = io.Discard
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}

var errGollmKeyFormat = errors.New(`gollm backend requires an OPENAI_API_KEY that starts with "sk-" and is longer than 20 characters`)

func newAdapter(cfg *config.Config) (unifiedllm.ProviderAdapter, error) {
	switch cfg.Backend {
	case config.BackendGollm:
		opts := []unifiedllm.GollmAdapterOption{unifiedllm.WithModel(cfg.Model)}
		if cfg.MaxTokens > 0 {
			opts = append(opts, unifiedllm.WithMaxTokens(cfg.MaxTokens))
		}
		// gollm validates openai keys by shape before any request is made.
		if !strings.HasPrefix(cfg.APIKey, "sk-") || len(cfg.APIKey) <= 20 {
			return nil, errGollmKeyFormat
		}
		slog.Warn("gollm backend is text-only; tools will not be called")
		adapter, err := unifiedllm.NewGollmAdapter("openai", cfg.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("gollm backend: %w", err)
		}
		return adapter, nil
	case config.BackendOpenAI, "":
		return unifiedllm.NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// newSession builds the client, tools, sandbox and system prompt for cfg.
func newSession(cfg *config.Config) (*agentloop.Session, error) {
	adapter, err := newAdapter(cfg)
	if err != nil {
		return nil, err
	}
	client := unifiedllm.NewClient(adapter,
		unifiedllm.WithStreamMiddleware(unifiedllm.LoggingStreamMiddleware(slog.Default())),
	)

	sandbox, err := agentloop.NewSandbox(cfg.Workdir)
	if err != nil {
		return nil, err
	}
	env := agentloop.NewLocalExecutionEnvironment(sandbox, cfg.CommandTimeout)

	registry := agentloop.NewToolRegistry()
	if err := agentloop.RegisterBuiltinTools(registry, agentloop.NewFetcher(cfg.FetchTimeout)); err != nil {
		return nil, err
	}

	loaded, err := skills.Load(cfg.SkillsDir)
	if err != nil {
		slog.Warn("skills not loaded", "dir", cfg.SkillsDir, "error", err)
	}

	scfg := agentloop.DefaultSessionConfig()
	scfg.Model = cfg.Model
	scfg.MaxTokens = cfg.MaxTokens
	scfg.MaxToolRoundsPerInput = cfg.MaxToolRounds
	scfg.SystemPrompt = agentloop.BuildSystemPrompt(env, cfg.Model, skills.FormatForPrompt(loaded))

	return agentloop.NewSession(client, registry, env, scfg), nil
}

