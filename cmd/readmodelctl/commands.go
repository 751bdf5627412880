package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	framework "github.com/akriventsev/readmodel"
	"github.com/akriventsev/readmodel/framework/core"
	"github.com/akriventsev/readmodel/framework/observability"
	"github.com/akriventsev/readmodel/framework/readmodel"
	"github.com/akriventsev/readmodel/framework/store"
	"github.com/spf13/cobra"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "readmodelctl",
		Short:         "Maintenance tool for read model collections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to config file (YAML)")
	flags.StringVar(&a.uri, "uri", "", "MongoDB connection string, overrides config")
	flags.StringVar(&a.database, "database", "", "Database name, overrides config")

	root.AddCommand(
		newVersionCommand(),
		withStore(a, newPingCommand(a)),
		withStore(a, newHealthCommand(a)),
		withStore(a, newCollectionsCommand(a)),
		withStore(a, newCountCommand(a)),
		withStore(a, newRenameFieldCommand(a)),
		withStore(a, newTruncateCommand(a)),
		withStore(a, newProbeCommand(a)),
	)
	return root
}

// withStore оборачивает команду загрузкой конфигурации и освобождением ресурсов
func withStore(a *app, cmd *cobra.Command) *cobra.Command {
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			err = errors.Join(err, a.close(context.WithoutCancel(cmd.Context())))
		}()
		if err := a.setup(cmd.Context(), cmd.ErrOrStderr()); err != nil {
			return err
		}
		return run(cmd, args)
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			meta := framework.GetMetadata()
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", meta.Name, meta.Version)
			return nil
		},
	}
}

func newPingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.repo.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newHealthCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run store and process health checks, print JSON report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checks := []observability.HealthCheck{
				observability.NewStoreHealthCheck("store", a.repo),
				observability.NewMemoryHealthCheck(),
			}
			if hc, ok := a.provider.(core.HealthCheckable); ok {
				checks = append(checks, observability.NewFuncHealthCheck("provider", hc.HealthCheck))
			}

			result := observability.RunHealthChecks(cmd.Context(), timeout, checks...)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Healthy() {
				return fmt.Errorf("health status: %s", result.Status)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for all checks")
	return cmd
}

func newCollectionsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := a.repo.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newCountCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection>",
		Short: "Count documents in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.repo.CountCollection(cmd.Context(), args[0], store.All())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newRenameFieldCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-field <collection> <old> <new>",
		Short: "Rename a field in every document of a collection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.repo.RenameFieldIn(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %q to %q in %d document(s)\n", args[1], args[2], n)
			return nil
		},
	}
}

func newTruncateCommand(a *app) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "truncate <collection>",
		Short: "Remove a collection with all documents and indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to truncate %q without --yes", args[0])
			}
			if err := a.repo.TruncateCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "truncated %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm destructive operation")
	return cmd
}

// probeResult результат одного прохода probe
type probeResult struct {
	Timeout   time.Duration
	Documents int
	Elapsed   time.Duration
	Err       error
}

func newProbeCommand(a *app) *cobra.Command {
	var (
		steps int
		base  time.Duration
		step  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe <collection>",
		Short: "Scan a collection repeatedly with growing socket timeouts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			out := cmd.OutOrStdout()
			failed := 0
			for i := 0; i < steps; i++ {
				timeout := base + time.Duration(i)*step
				result := a.probe(cmd.Context(), args[0], timeout)
				if result.Err != nil {
					failed++
					fmt.Fprintf(out, "socketTimeoutMS=%d error: %v\n", result.Timeout.Milliseconds(), result.Err)
					continue
				}
				fmt.Fprintf(out, "socketTimeoutMS=%d documents=%d elapsed=%s\n",
					result.Timeout.Milliseconds(), result.Documents, result.Elapsed.Round(time.Millisecond))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d probe(s) failed", failed, steps)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 3, "Number of scans")
	cmd.Flags().DurationVar(&base, "base", time.Second, "Socket timeout of the first scan")
	cmd.Flags().DurationVar(&step, "step", 15*time.Second, "Socket timeout increment between scans")
	return cmd
}

// probe сканирует коллекцию через отдельное подключение со своим socketTimeoutMS
func (a *app) probe(ctx context.Context, collection string, timeout time.Duration) probeResult {
	result := probeResult{Timeout: timeout}

	settings, err := a.cfg.Settings().WithSocketTimeout(timeout)
	if err != nil {
		result.Err = err
		return result
	}
	providerCfg := a.cfg.ProviderConfig()
	providerCfg.URI = settings.ConnectionString()
	// таймаут задается только строкой подключения
	providerCfg.SocketTimeout = 0

	provider := a.newProvider(providerCfg)
	defer provider.Close(context.WithoutCancel(ctx))

	policy, err := a.cfg.RetryPolicy()
	if err != nil {
		result.Err = err
		return result
	}
	repo, err := readmodel.New(provider,
		readmodel.WithRetryPolicy(policy),
		readmodel.WithLogger(a.logger),
		readmodel.WithTracer(a.tracing.Tracer()),
	)
	if err != nil {
		result.Err = err
		return result
	}

	start := time.Now()
	cursor, err := repo.GetCollection(ctx, collection)
	if err != nil {
		result.Err = err
		return result
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		result.Documents++
	}
	result.Err = cursor.Err()
	result.Elapsed = time.Since(start)
	return result
}
