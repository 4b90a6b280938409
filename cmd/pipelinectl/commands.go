package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/dag"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/executor"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/flags"
	stepmetrics "github.com/therealutkarshpriyadarshi/pipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage/memory"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/validation"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/versions"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// runOptions are the flags of the run command
type runOptions struct {
	logging        bool
	validationMode string
	catalogPath    string
	params         map[string]string
	concurrency    int
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Validate, plan and run pipeline files",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logger.SetOutput(cmd.ErrOrStderr())
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.WarnLevel)
		}
	}

	root.AddCommand(newValidateCmd(), newPlanCmd(), newRunCmd(logger))
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a pipeline file for structural errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := dag.NewParser().ParseFile(args[0])
			if err != nil {
				return describe(err)
			}
			d := pf.DAG()
			g, err := dag.NewValidator().Validate(&d)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes)\n", args[0], g.Len())
			return nil
		},
	}
}

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <file>",
		Short: "Print the execution plan of a pipeline file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := dag.NewParser().ParseFile(args[0])
			if err != nil {
				return describe(err)
			}
			d := pf.DAG()
			plan, _, err := dag.Compile(&d)
			if err != nil {
				return describe(err)
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
}

func newRunCmd(logger *logrus.Logger) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a pipeline file locally with in-memory storage",
		Long: `Runs every node of the file in process. Steps registered locally
(echo@1) run directly; any other step version falls back to echo.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			run, err := runFile(ctx, args[0], opts, logger)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			if run.Status != models.StatusCompleted {
				return fmt.Errorf("run %s finished %s", run.ID, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.logging, "logging", false, "Record step telemetry")
	cmd.Flags().StringVar(&opts.validationMode, "validation", string(flags.ModeOff), "IR validation mode (off, log, enforce)")
	cmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "Step catalog file for IR schemas and metric profiles")
	cmd.Flags().StringToStringVarP(&opts.params, "param", "p", nil, "Run parameter override (key=value)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", executor.DefaultConfig().MaxConcurrency, "Nodes of one wave running at the same time")
	return cmd
}

// runFile stores the file as the only version of a fresh pipeline and runs it
func runFile(ctx context.Context, path string, opts *runOptions, logger logrus.FieldLogger) (*models.PipelineRun, error) {
	mode, err := flags.ParseMode(opts.validationMode)
	if err != nil {
		return nil, err
	}

	pf, err := dag.NewParser().ParseFile(path)
	if err != nil {
		return nil, describe(err)
	}

	steps := catalog.New()
	if opts.catalogPath != "" {
		if steps, err = catalog.LoadFile(opts.catalogPath); err != nil {
			return nil, err
		}
	}

	repos := memory.New().Repositories()
	store := versions.NewStore(repos, logger)

	pipeline, err := store.CreatePipeline(ctx, versions.CreatePipelineInput{
		Name:        pf.Name,
		Description: pf.Description,
	})
	if err != nil {
		return nil, err
	}
	label := pf.Version
	if label == "" {
		label = "local"
	}
	d := pf.DAG()
	version, err := store.CreateVersion(ctx, pipeline.ID, versions.CreateVersionInput{
		Version: label,
		DAG:     &d,
		Config:  pf.Config,
	})
	if err != nil {
		return nil, describe(err)
	}

	registry := executor.NewRegistry()
	registry.Register("echo@1", executor.EchoStep)
	registry.SetFallback(executor.EchoStep)

	provider := flags.NewStaticProvider(opts.logging, mode)
	engine := executor.NewEngine(executor.Dependencies{
		Versions:  repos.Versions,
		Runs:      repos.Runs,
		Telemetry: repos.Telemetry,
		Resolver:  registry,
		Flags:     provider,
		Validator: validation.NewAdapter(provider, steps, logger),
		Metrics:   stepmetrics.NewAdapter(steps, logger),
		Logger:    logger,
	}, &executor.Config{
		MaxConcurrency:  opts.concurrency,
		ProgressTimeout: executor.DefaultConfig().ProgressTimeout,
	})

	params := make(map[string]interface{}, len(opts.params))
	for k, v := range opts.params {
		params[k] = v
	}
	return engine.Run(ctx, version.ID, executor.Options{
		Trigger: models.TriggerCLI,
		Params:  params,
	})
}

// describe expands validation errors with the offending keys or path
func describe(err error) error {
	verr, ok := dag.AsValidationError(err)
	if !ok {
		return err
	}
	if len(verr.Path) > 0 {
		return fmt.Errorf("%w (path: %v)", err, verr.Path)
	}
	if len(verr.Keys) > 0 {
		return fmt.Errorf("%w (keys: %v)", err, verr.Keys)
	}
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
