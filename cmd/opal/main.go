package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ravi-parthasarathy/opal/pkg/config"
	"github.com/ravi-parthasarathy/opal/pkg/llm"
	"github.com/ravi-parthasarathy/opal/pkg/planner"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
	"github.com/ravi-parthasarathy/opal/pkg/workflow/handlers"

	// Register all LLM providers via their init() functions.
	_ "github.com/ravi-parthasarathy/opal/pkg/llm/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the resolved configuration shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	model      string

	cfg config.Config
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "opal",
		Short: "Opal: AI workflow graph runner",
		Long: `Opal executes workflow graphs of input, process, AI and output nodes.

Workflows are read from JSON, YAML or DOT files. AI nodes reference earlier
outputs with @<node-id> or @StepN and are answered by the configured model.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "opal.yaml", "path to the YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&a.model, "model", "", "default LLM model (provider:model-id)")

	root.AddCommand(a.runCmd())
	root.AddCommand(a.resumeCmd())
	root.AddCommand(lintCmd())
	root.AddCommand(graphCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(a.planCmd())
	root.AddCommand(a.serveCmd())
	return root
}

// init loads the config file, lets explicit flags override it and installs
// the default logger.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("model") {
		cfg.Model = a.model
	}
	a.cfg = cfg
	return initLogger(cfg.Log.Level, cfg.Log.Format)
}

// initLogger installs the default slog logger on stderr.
func initLogger(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q: use debug, info, warn or error", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// ─── run ──────────────────────────────────────────────────────────────────────

func (a *app) runCmd() *cobra.Command {
	var (
		input          string
		checkpointPath string
		outputPath     string
		eventsPath     string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Execute a workflow from the beginning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadRunnable(args[0])
			if err != nil {
				return err
			}
			if checkpointPath == "" && a.cfg.CheckpointDir != "" {
				checkpointPath = checkpointPathFor(a.cfg.CheckpointDir, args[0])
			}
			return a.execute(cmd, d, input, nil, checkpointPath, outputPath, eventsPath)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "user input fed to the input node")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "path to write checkpoint JSON after each node (optional)")
	cmd.Flags().StringVar(&outputPath, "output", "", "write the run result as JSON to this path (optional)")
	cmd.Flags().StringVar(&eventsPath, "events", "", "append run log entries as JSON lines to this path (optional)")
	return cmd
}

// ─── resume ───────────────────────────────────────────────────────────────────

func (a *app) resumeCmd() *cobra.Command {
	var (
		input      string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "resume <workflow> <checkpoint.json>",
		Short: "Resume a workflow from a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wfFile, cpFile := args[0], args[1]

			state, err := workflow.LoadCheckpoint(cpFile)
			if err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			}
			if last, _, ok := state.Last(); ok {
				slog.Info("resuming", "after", last, "restored", len(state.OutputOrder()))
			}

			d, err := loadRunnable(wfFile)
			if err != nil {
				return err
			}
			return a.execute(cmd, d, input, state, cpFile, outputPath, "")
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "user input fed to the input node")
	cmd.Flags().StringVar(&outputPath, "output", "", "write the run result as JSON to this path (optional)")
	return cmd
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <workflow>",
		Short: "Validate a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			if lintErr := workflow.ValidateErr(d); lintErr != nil {
				return lintErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: workflow %q is valid (%d nodes, %d edges)\n",
				d.Name, len(d.Nodes), len(d.Edges))
			return nil
		},
	}
}

// ─── preview ──────────────────────────────────────────────────────────────────

func previewCmd() *cobra.Command {
	var (
		template string
		outputs  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "preview <workflow>",
		Short: "Resolve @references in a template against given node outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), workflow.ResolveReferences(template, outputs, d.Nodes))
			return nil
		},
	}

	cmd.Flags().StringVar(&template, "template", "", "template containing @node-id or @StepN references")
	cmd.Flags().StringToStringVar(&outputs, "outputs", nil, "node outputs as id=value pairs")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

// ─── plan ─────────────────────────────────────────────────────────────────────

func (a *app) planCmd() *cobra.Command {
	var (
		outPath string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "plan <request...>",
		Short: "Ask the model to design a workflow for a natural-language request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := a.generator()
			if err != nil {
				return err
			}
			architect := &planner.Architect{Generator: gen}
			d, err := architect.Plan(signalContext(cmd.Context()), strings.Join(args, " "))
			if err != nil {
				return err
			}
			data, err := encodePlan(d, format)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write plan: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d nodes)\n", outPath, len(d.Nodes))
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "write the workflow to this file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	return cmd
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// loadRunnable reads a workflow and rejects it if it cannot run.
func loadRunnable(path string) (*workflow.DAG, error) {
	d, err := workflow.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckRunnable(d); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	return d, nil
}

func (a *app) execute(cmd *cobra.Command, d *workflow.DAG, input string, state *workflow.RunState, checkpointPath, outputPath, eventsPath string) error {
	reg, err := a.registry()
	if err != nil {
		return err
	}

	opts := []workflow.Option{workflow.WithLogger(slog.Default())}
	if checkpointPath != "" {
		opts = append(opts, workflow.WithCheckpoint(checkpointPath))
	}
	if eventsPath != "" {
		f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open events file: %w", err)
		}
		defer f.Close()
		opts = append(opts, workflow.WithObserver(jsonLines(f)))
	}

	eng, err := workflow.NewEngine(reg, opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	ctx := signalContext(cmd.Context())
	var res *workflow.RunResult
	if state != nil {
		res = eng.Resume(ctx, d, input, state)
	} else {
		res = eng.Execute(ctx, d, input)
	}

	if err := writeResult(outputPath, res); err != nil {
		return err
	}
	if !res.Success {
		return res.Err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.FinalOutput)
	return nil
}

// generator builds the default model generator from the config.
func (a *app) generator() (llm.Generator, error) {
	return a.generatorFor(a.cfg.Model)
}

func (a *app) generatorFor(modelID string) (llm.Generator, error) {
	g, err := llm.NewGenerator(modelID, a.cfg.System, a.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	g.Temperature = a.cfg.Temperature
	return g, nil
}

// registry wires the built-in handlers; AI nodes may name their own model.
func (a *app) registry() (*handlers.Registry, error) {
	gen, err := a.generator()
	if err != nil {
		return nil, err
	}
	reg := handlers.Default(gen)
	reg.Register(workflow.NodeTypeAI, &handlers.AIHandler{
		Generator: gen,
		Models:    a.generatorFor,
	})
	return reg, nil
}

// checkpointPathFor derives a checkpoint file name for a workflow file.
func checkpointPathFor(dir, workflowFile string) string {
	base := strings.TrimSuffix(filepath.Base(workflowFile), filepath.Ext(workflowFile))
	return filepath.Join(dir, base+".checkpoint.json")
}

// writeResult serialises a run result as indented JSON to path.
// An empty path is a no-op.
func writeResult(path string, res *workflow.RunResult) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run result: %w", err)
	}
	return nil
}

// jsonLines returns an observer that writes each log entry as one JSON line.
func jsonLines(w io.Writer) workflow.Observer {
	enc := json.NewEncoder(w)
	return func(e workflow.LogEntry) {
		if err := enc.Encode(e); err != nil {
			slog.Warn("write run event", "err", err)
		}
	}
}

func encodePlan(d *workflow.DAG, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json", "":
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		return yaml.Marshal(d)
	default:
		return nil, fmt.Errorf("unknown format %q: use json or yaml", format)
	}
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[opal] interrupted, cancelling run")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
