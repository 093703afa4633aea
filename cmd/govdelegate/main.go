// Package main provides the govdelegate binary: an autonomous governance
// delegate that ingests DAO proposals and community sentiment, decides how
// to vote, publishes a justification for every decision and learns from
// proposal outcomes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/govdelegate/pkg/config"
	"github.com/entrhq/govdelegate/pkg/orchestrator"
	"github.com/entrhq/govdelegate/pkg/server"
)

const (
	version = "0.1.0"
	appName = "govdelegate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbosity  string
	llm        config.LLMConfig
}

// load reads the config file and applies flag overrides.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.verbosity != "" {
		cfg.Logging.Verbosity = f.verbosity
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (f *globalFlags) open(ctx context.Context) (*app, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, f.llm)
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Autonomous DAO governance delegate",
		Long: `govdelegate watches DAO governance proposals, weighs community sentiment
against the delegate's learned preferences, decides how to vote and publishes
a content-hashed justification for every decision.

Votes are queued for approval unless autonomous voting is enabled and the
decision's confidence meets the configured threshold.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&flags.verbosity, "verbosity", "", "Log verbosity (quiet, normal, verbose, debug)")
	pf.StringVar(&flags.llm.APIKey, "api-key", "", "LLM API key for the model decision backend")
	pf.StringVar(&flags.llm.BaseURL, "base-url", "", "OpenAI-compatible API base URL")
	pf.StringVar(&flags.llm.Model, "model", "", "LLM model for the model decision backend")

	cmd.AddCommand(
		runCmd(flags),
		cycleCmd(flags),
		statusCmd(flags),
		reportCmd(flags),
		versionCmd(),
	)
	return cmd
}

func runCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scheduled cycles and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	return cmd
}

// serve registers the delegate, starts the scheduler and blocks in the
// HTTP server until ctx ends.
func serve(ctx context.Context, a *app) error {
	if err := a.registerIdentity(ctx); err != nil {
		return fmt.Errorf("failed to register delegate: %w", err)
	}

	sched, err := orchestrator.NewScheduler(a.orch, a.cfg.Schedule, a.cfg.Organizations,
		func(results []orchestrator.CycleResult, err error) {
			for _, r := range results {
				a.logger.Infof("cycle %s for %s: %s, %d decisions, %d votes, %d queued, %d errors",
					r.ID, r.Organization, r.Phase, r.Decisions, len(r.Votes), len(r.Queued), len(r.Errors))
			}
			if err != nil {
				a.logger.Warnf("scheduled cycles finished with errors: %v", err)
			}
		})
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()
	sched.RunNow()

	srv := server.New(a.cfg.Server.Addr, a.orch,
		server.WithMetrics(a.metrics),
		server.WithLogger(a.logger),
	)
	fmt.Printf("%s %s serving on %s (schedule %q, organizations %v)\n",
		appName, version, a.cfg.Server.Addr, a.cfg.Schedule, a.cfg.Organizations)
	return srv.Start(ctx)
}

func cycleCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle [organization...]",
		Short: "Run one governance cycle and print the results as JSON",
		Long: `Run one governance cycle for each organization (the configured
organizations when none are given) and print the cycle results as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			orgs := args
			if len(orgs) == 0 {
				orgs = a.cfg.Organizations
			}
			if err := a.registerIdentity(ctx); err != nil {
				return fmt.Errorf("failed to register delegate: %w", err)
			}
			results, runErr := a.orch.RunAll(ctx, orgs)
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			return runErr
		},
	}
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print memory and voting statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.orch.Status())
		},
	}
}

func reportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report <proposal-id>",
		Short: "Print the justification report for a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orch.Report(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report)
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
