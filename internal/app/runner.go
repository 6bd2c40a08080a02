package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-intent/internal/asset"
	"github.com/ggonzalez94/defi-intent/internal/cache"
	"github.com/ggonzalez94/defi-intent/internal/command"
	"github.com/ggonzalez94/defi-intent/internal/config"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/logging"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/out"
	"github.com/ggonzalez94/defi-intent/internal/policy"
	"github.com/ggonzalez94/defi-intent/internal/risk"
	"github.com/ggonzalez94/defi-intent/internal/schema"
	"github.com/ggonzalez94/defi-intent/internal/store"
	"github.com/ggonzalez94/defi-intent/internal/strategy"
	"github.com/ggonzalez94/defi-intent/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Prompter asks one clarification question and returns the chosen option id.
type Prompter func(q model.DisambiguationOptions) (string, error)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	ask    Prompter
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		ask:    surveyPrompt,
	}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	log      *zap.Logger
	root     *cobra.Command

	pipeline *command.Pipeline
	assets   *asset.Resolver
	profiler *risk.Profiler
	matcher  *strategy.Matcher
	commands *store.Store
	pending  *cache.Store

	lastCommand  string
	lastWarnings []string
	lastStore    model.StoreStatus
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zap.NewNop()}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(context.Background())
	err = normalizeRunError(err)
	defer state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err, state.lastWarnings)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Turn classified DeFi requests into executable commands",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			log, err := logging.NewWithWriter(s.runner.stderr, settings.LogLevel)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.log = log
			s.log.Debug("configuration loaded",
				zap.String("command", path),
				zap.String("output", settings.OutputMode),
				zap.Bool("store", settings.StoreEnabled))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = s.log.Sync()
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level for stderr diagnostics (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&s.flags.Protocols, "protocols", "", "Restrict the protocol registry (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStore, "no-store", false, "Do not read or write the local command and clarification stores")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.EnvFile, "env-file", "", "Path to a .env file read below process environment")

	cmd.AddCommand(s.newParseCommand())
	cmd.AddCommand(s.newResolveCommand())
	cmd.AddCommand(s.newBatchCommand())
	cmd.AddCommand(s.newCommandsCommand())
	cmd.AddCommand(s.newAmountCommand())
	cmd.AddCommand(s.newAssetsCommand())
	cmd.AddCommand(s.newProtocolsCommand())
	cmd.AddCommand(s.newRiskCommand())
	cmd.AddCommand(s.newStrategiesCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
}

func (s *runtimeState) ensurePipeline() (*command.Pipeline, error) {
	if s.pipeline != nil {
		return s.pipeline, nil
	}
	p, err := command.New(s.settings.PipelineConfig(),
		command.WithLogger(s.log.Named("pipeline")),
		command.WithClock(s.runner.now))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build command pipeline", err)
	}
	s.pipeline = p
	return p, nil
}

func (s *runtimeState) ensureAssets() (*asset.Resolver, error) {
	if s.assets != nil {
		return s.assets, nil
	}
	r, err := asset.New(s.settings.Assets, asset.WithLogger(s.log.Named("assets")))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "load asset catalog", err)
	}
	s.assets = r
	return r, nil
}

func (s *runtimeState) ensureProfiler() *risk.Profiler {
	if s.profiler == nil {
		s.profiler = risk.New(s.settings.Risk, risk.WithLogger(s.log.Named("risk")))
	}
	return s.profiler
}

func (s *runtimeState) ensureMatcher() (*strategy.Matcher, error) {
	if s.matcher != nil {
		return s.matcher, nil
	}
	m, err := strategy.New(s.settings.Strategies, strategy.WithLogger(s.log.Named("strategy")))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "load strategy catalog", err)
	}
	s.matcher = m
	return m, nil
}

// commandStore returns nil when the store is disabled.
func (s *runtimeState) commandStore() (*store.Store, error) {
	if !s.settings.StoreEnabled {
		return nil, nil
	}
	if s.commands == nil {
		st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open command store", err)
		}
		s.commands = st
	}
	return s.commands, nil
}

// pendingStore returns nil when the store is disabled.
func (s *runtimeState) pendingStore() (*cache.Store, error) {
	if !s.settings.StoreEnabled {
		return nil, nil
	}
	if s.pending == nil {
		st, err := cache.Open(s.settings.PendingPath, s.settings.PendingLockPath, cache.WithClock(s.runner.now))
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open pending store", err)
		}
		s.pending = st
	}
	return s.pending, nil
}

func (s *runtimeState) close() {
	if s.commands != nil {
		_ = s.commands.Close()
	}
	if s.pending != nil {
		_ = s.pending.Close()
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Store:     s.lastStore,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	body := &model.ErrorBody{
		Code:    clierr.ExitCode(err),
		Type:    clierr.TypeName(err),
		Message: err.Error(),
	}
	if cErr, ok := clierr.As(err); ok {
		body.Message = cErr.Message
		if cErr.Cause != nil {
			body.Message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		body.Reason = cErr.Reason
		body.Details = cErr.Details
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  false,
		Data:     []any{},
		Error:    body,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Store:     s.lastStore,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func newRequestID() string {
	return uuid.NewString()
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastStore = model.StoreStatus{Status: "bypass"}
}
