package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/logger"
	"github.com/guido-cesarano/rungate/pkg/netstate"
	"github.com/guido-cesarano/rungate/pkg/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	storeType  string
	redisAddr  string
	sqlitePath string
	verbose    bool
}

// gateOptions describe one engine.
type gateOptions struct {
	id           string
	period       string
	retry        time.Duration
	connectivity string
	probe        bool
}

// commandError carries the wrapped command's exit status out of Execute.
type commandError struct {
	code int
	err  error
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ce *commandError
	if errors.As(err, &ce) && ce.code > 0 {
		return ce.code
	}
	return 1
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:          "rungate",
		Short:        "Run a command only when its constraints allow",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.verbose {
				logger.SetLevel(zerolog.DebugLevel)
			}
		},
	}

	defaults := store.DefaultConfig()
	root.PersistentFlags().StringVar(&g.storeType, "store", envOr("RUNGATE_STORE", "sqlite"), "State backend: sqlite, redis or memory")
	root.PersistentFlags().StringVar(&g.redisAddr, "redis-addr", envOr("REDIS_ADDR", defaults.Addr), "Redis address for --store redis")
	root.PersistentFlags().StringVar(&g.sqlitePath, "sqlite-path", envOr("RUNGATE_SQLITE_PATH", defaults.Path), "Database file for --store sqlite")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log gate decisions")

	root.AddCommand(newExecCmd(g), newStatusCmd(g), newResetCmd(g))
	return root
}

func (g *globalOptions) open() (store.Store, error) {
	return store.Open(store.Config{
		Type: g.storeType,
		Addr: g.redisAddr,
		Path: g.sqlitePath,
	})
}

func addGateFlags(cmd *cobra.Command, o *gateOptions) {
	cmd.Flags().StringVar(&o.id, "id", "", "Task identity (required)")
	cmd.Flags().StringVar(&o.period, "period", "any", "Minimum time between successful runs: any, twice-a-day, daily, weekly or <n>d|h|m|s")
	cmd.Flags().DurationVar(&o.retry, "retry", 0, "Minimum time between a failed run and the next attempt")
	cmd.Flags().StringVar(&o.connectivity, "connectivity", "any", "Required network: any, reachable, not-reachable, cellular or wifi")
	cmd.Flags().BoolVar(&o.probe, "probe-network", false, "Inspect host interfaces for the connectivity constraint")
	cmd.MarkFlagRequired("id")
}

func (o *gateOptions) engine(st store.Store) (*gate.Engine, error) {
	period, err := gate.ParsePeriod(o.period)
	if err != nil {
		return nil, err
	}
	conn, err := gate.ParseConnectivity(o.connectivity)
	if err != nil {
		return nil, err
	}

	opts := []gate.Option{
		gate.WithPeriod(period),
		gate.WithConnectivity(conn),
		gate.WithMaxRetryInterval(o.retry),
	}
	if o.probe {
		opts = append(opts, gate.WithConnectivityState(netstate.NewProbe()))
	}
	return gate.NewEngine(o.id, st, opts...)
}

func newExecCmd(g *globalOptions) *cobra.Command {
	o := &gateOptions{}
	var force bool

	cmd := &cobra.Command{
		Use:   "exec --id ID [flags] -- command [args...]",
		Short: "Run a command if the gate is open and record its outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.open()
			if err != nil {
				return err
			}
			defer st.Close()

			e, err := o.engine(st)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var runErr error
			run := func(ctx context.Context) bool {
				c := exec.CommandContext(ctx, args[0], args[1:]...)
				c.Stdin = cmd.InOrStdin()
				c.Stdout = cmd.OutOrStdout()
				c.Stderr = cmd.ErrOrStderr()
				runErr = c.Run()
				return runErr == nil
			}

			var executed bool
			if force {
				executed, err = e.RunIfNeededAsync(ctx, true, func(ctx context.Context, done gate.Completion) {
					done(run(ctx))
				})
			} else {
				executed, err = e.RunIfNeeded(ctx, run)
			}
			if err != nil {
				return err
			}

			if !executed {
				wait, err := e.TimeBeforeNextExecution(ctx)
				if err != nil {
					return err
				}
				if wait == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "rungate: %s skipped, waiting for %s connectivity\n", o.id, o.connectivity)
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "rungate: %s skipped, next eligible in %s\n", o.id, wait.Round(time.Second))
				}
				return nil
			}

			if runErr != nil {
				var exitErr *exec.ExitError
				if errors.As(runErr, &exitErr) {
					return &commandError{code: exitErr.ExitCode(), err: runErr}
				}
				return &commandError{err: runErr}
			}
			return nil
		},
	}

	addGateFlags(cmd, o)
	cmd.Flags().BoolVar(&force, "force", false, "Run even if the constraints are not satisfied")
	return cmd
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	o := &gateOptions{}
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status --id ID [flags]",
		Short: "Show whether a task may run now and when it next can",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.open()
			if err != nil {
				return err
			}
			defer st.Close()

			e, err := o.engine(st)
			if err != nil {
				return err
			}

			status, err := e.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			fmt.Fprintf(out, "identity:      %s\n", status.Identity)
			fmt.Fprintf(out, "should run:    %t\n", status.ShouldRun)
			fmt.Fprintf(out, "next eligible: %s\n", status.Wait.Round(time.Second))
			fmt.Fprintf(out, "last success:  %s\n", formatTime(status.LastSuccess))
			fmt.Fprintf(out, "last failure:  %s\n", formatTime(status.LastFailure))
			if status.Network != nil {
				fmt.Fprintf(out, "network:       %s\n", status.Network)
			}
			return nil
		},
	}

	addGateFlags(cmd, o)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func newResetCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove the persisted state of every task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.open()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := gate.RemoveAllPersisted(cmd.Context(), st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rungate: persisted state removed")
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
