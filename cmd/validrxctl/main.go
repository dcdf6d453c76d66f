// Package main provides the operator CLI for the validation services.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/clinicalcheck"
	"github.com/validrx/validrx/internal/config"
	"github.com/validrx/validrx/internal/domain/catalog"
	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/infrastructure/redpanda"
	"github.com/validrx/validrx/internal/observability/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "validrxctl",
		Short:        "Operate the ValidRx clinical validation services",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(topicsCmd())
	rootCmd.AddCommand(drugsCmd())
	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env holds what every subcommand needs
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func load() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logging.Must(cfg.LogLevel, "validrxctl")}, nil
}

func (e *env) repository(ctx context.Context) (*catalog.Repository, func(), error) {
	pool, err := pgxpool.New(ctx, e.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return catalog.NewRepository(pool, e.logger), pool.Close, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(context.Background(), timeout)
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the catalog, outbox and inbox tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			repo, closeFn, err := e.repository(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := repo.EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "Command timeout")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the reference catalog into an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			repo, closeFn, err := e.repository(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			seeded, err := repo.SeedIfEmpty(ctx)
			if err != nil {
				return err
			}
			if seeded {
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d drugs and %d interactions.\n",
					len(catalog.SeedDrugs()), len(catalog.SeedInteractions()))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Catalog already has drugs; nothing seeded.")
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "Command timeout")
	return cmd
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage Redpanda topics",
	}

	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create missing topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			admin, err := redpanda.NewAdmin(e.cfg.Brokers(), e.logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			if err := admin.EnsureTopics(ctx); err != nil {
				return err
			}
			topics, err := admin.ListTopics(ctx)
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	ensureCmd.Flags().Duration("timeout", 30*time.Second, "Command timeout")
	cmd.AddCommand(ensureCmd)

	lagCmd := &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag per partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")

			e, err := load()
			if err != nil {
				return err
			}
			if group == "" {
				group = e.cfg.ConsumerGroupID
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			admin, err := redpanda.NewAdmin(e.cfg.Brokers(), e.logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			lag, err := admin.GetConsumerGroupLag(ctx, group)
			if err != nil {
				return err
			}
			return printLag(cmd.OutOrStdout(), lag)
		},
	}
	lagCmd.Flags().String("group", "", "Consumer group (defaults to CONSUMER_GROUP_ID)")
	lagCmd.Flags().Duration("timeout", 30*time.Second, "Command timeout")
	cmd.AddCommand(lagCmd)

	return cmd
}

func printLag(out io.Writer, lag map[string]map[int32]int64) error {
	topics := make([]string, 0, len(lag))
	for t := range lag {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tPARTITION\tLAG")
	for _, t := range topics {
		partitions := make([]int32, 0, len(lag[t]))
		for p := range lag[t] {
			partitions = append(partitions, p)
		}
		sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
		for _, p := range partitions {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", t, p, lag[t][p])
		}
	}
	return tw.Flush()
}

func drugsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drugs",
		Short: "List the drug catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			e, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			repo, closeFn, err := e.repository(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			drugs, err := repo.ListDrugs(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), drugs)
			}
			return printDrugs(cmd.OutOrStdout(), drugs)
		},
	}
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	cmd.Flags().Duration("timeout", 30*time.Second, "Command timeout")
	return cmd
}

func printDrugs(out io.Writer, drugs []clinical.Drug) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRINCIPLE\tCLASS\tROUTES\tPEDIATRIC")
	for _, d := range drugs {
		pediatric := "-"
		if d.Pediatric != nil {
			pediatric = string(d.Pediatric.Mode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\n",
			d.ID, d.Name, d.ActivePrinciple, d.TherapeuticClass, d.PermittedRoutes.Slice(), pediatric)
	}
	return tw.Flush()
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a clinical check against the live catalog",
		Long:  "Reads a clinical check request (JSON, same shape as POST /api/v1/clinical-check) and prints the results.",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			failOnBlock, _ := cmd.Flags().GetBool("fail-on-block")

			req, err := readRequest(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			e, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			repo, closeFn, err := e.repository(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			service := clinicalcheck.NewService(repo, e.logger)
			resp, err := service.Check(ctx, req, clinicalcheck.TransportCLI)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if failOnBlock && blocked(resp) {
				return fmt.Errorf("request %s has blocked items", resp.RequestID)
			}
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "-", "Request file, - for stdin")
	cmd.Flags().Bool("fail-on-block", false, "Exit non-zero when any item is BLOCKED")
	cmd.Flags().Duration("timeout", 30*time.Second, "Command timeout")
	return cmd
}

func readRequest(stdin io.Reader, file string) (clinicalcheck.Request, error) {
	var req clinicalcheck.Request

	in := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return req, err
		}
		defer f.Close()
		in = f
	}

	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func blocked(resp *clinicalcheck.Response) bool {
	for _, r := range resp.Results {
		if r.Status == clinical.StatusBlocked {
			return true
		}
	}
	return false
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
