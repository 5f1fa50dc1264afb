package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"churn-insight/configs"
	"churn-insight/internal/cache"
	"churn-insight/internal/database"
	"churn-insight/internal/dataset"
	"churn-insight/internal/logger"
	"churn-insight/internal/rfm"
	"churn-insight/internal/services"
)

// env holds what every batch command needs. db is opened only by commands
// that touch the table store.
type env struct {
	cfg   *configs.Config
	log   *logger.Logger
	cache *cache.CacheManager
	db    *database.DBManager
}

func load() (*env, error) {
	cfg, err := configs.LoadConfig()
	if err != nil {
		return nil, err
	}
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: lg}, nil
}

func (e *env) openStore() error {
	db, err := database.Open(e.cfg.Database(), e.log)
	if err != nil {
		return err
	}
	e.db = db
	// running servers drop their cached reads through the updates channel
	e.cache = cache.NewCacheManager(e.cfg.RedisURL, e.cfg.CacheTTL, e.log)
	return nil
}

// setup loads the configuration and opens the table store.
func setup() (*env, error) {
	e, err := load()
	if err != nil {
		return nil, err
	}
	if err := e.openStore(); err != nil {
		e.log.Sync()
		return nil, err
	}
	return e, nil
}

func (e *env) close() {
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.db != nil {
		_ = e.db.Close()
	}
	e.log.Sync()
}

// invalidator avoids handing services a typed-nil cache.
func (e *env) invalidator() services.Invalidator {
	if e.cache == nil {
		return nil
	}
	return e.cache
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Batch jobs for churn scoring and RFM segmentation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newIngestCmd(),
		newRFMCmd(),
		newScoreCmd(),
		newRunCmd(),
		newGenerateCmd(),
		newHashKeyCmd(),
	)
	return root
}

func newIngestCmd() *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Upsert the customer export into bank_customer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if csvPath == "" {
				csvPath = e.cfg.BankCSV
			}
			n, err := services.NewCustomerService(e.db, e.log).IngestCSV(cmd.Context(), csvPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d customers from %s\n", n, csvPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "customer export (default BANK_CSV)")
	return cmd
}

func newRFMCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rfm",
		Short: "Rebuild rfm_result_once from bank_customer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			counts, err := services.NewRFMService(e.db, e.invalidator(), nil, e.log).Build(cmd.Context())
			if err != nil {
				return err
			}
			printCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	}
}

type scoreFlags struct {
	source     string
	csvPath    string
	writeDB    bool
	createView bool
}

func (f *scoreFlags) bind(cmd *cobra.Command, withSource bool) {
	if withSource {
		cmd.Flags().StringVar(&f.source, "source", "csv", "customer table source: csv or db")
		cmd.Flags().StringVar(&f.csvPath, "csv", "", "customer export when --source=csv (default BANK_CSV)")
	}
	cmd.Flags().BoolVar(&f.writeDB, "write-db", false, "replace the score table (default WRITE_DB)")
	cmd.Flags().BoolVar(&f.createView, "create-view", false, "recreate the RFM + churn view (default CREATE_VIEW)")
}

// apply lets explicit flags win over the environment.
func (f *scoreFlags) apply(cmd *cobra.Command, cfg *configs.Config) {
	if cmd.Flags().Changed("write-db") {
		cfg.WriteDB = f.writeDB
	}
	if cmd.Flags().Changed("create-view") {
		cfg.CreateView = f.createView
	}
}

func newScoreCmd() *cobra.Command {
	f := &scoreFlags{}
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Select a variant by cross-validation, fit it and score every customer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.source != "csv" && f.source != "db" {
				return fmt.Errorf("--source must be csv or db, got %q", f.source)
			}
			e, err := load()
			if err != nil {
				return err
			}
			defer e.close()
			f.apply(cmd, e.cfg)
			if f.source == "db" || e.cfg.WriteDB {
				if err := e.openStore(); err != nil {
					return err
				}
			}

			svc := services.NewScoringService(e.cfg.Scoring(), e.db, e.invalidator(), nil, e.log)
			var sum *services.PipelineSummary
			if f.source == "db" {
				sum, err = svc.RunStored(cmd.Context())
			} else {
				path := f.csvPath
				if path == "" {
					path = e.cfg.BankCSV
				}
				sum, err = svc.RunCSV(cmd.Context(), path)
			}
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), sum)
		},
	}
	f.bind(cmd, true)
	return cmd
}

func newRunCmd() *cobra.Command {
	f := &scoreFlags{}
	var csvPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest the export, rebuild RFM and score the stored customers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			f.apply(cmd, e.cfg)
			if csvPath == "" {
				csvPath = e.cfg.BankCSV
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			n, err := services.NewCustomerService(e.db, e.log).IngestCSV(ctx, csvPath)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Fprintf(out, "ingested %d customers from %s\n", n, csvPath)

			counts, err := services.NewRFMService(e.db, e.invalidator(), nil, e.log).Build(ctx)
			if err != nil {
				return fmt.Errorf("rfm: %w", err)
			}
			printCounts(out, counts)

			sum, err := services.NewScoringService(e.cfg.Scoring(), e.db, e.invalidator(), nil, e.log).RunStored(ctx)
			if err != nil {
				return fmt.Errorf("score: %w", err)
			}
			return printSummary(out, sum)
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "customer export (default BANK_CSV)")
	f.bind(cmd, false)
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var (
		n    int
		rate float64
		seed int64
		out  string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic customer export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n < 1 {
				return fmt.Errorf("--n must be positive, got %d", n)
			}
			if rate < 0 || rate > 1 {
				return fmt.Errorf("--rate must be within [0,1], got %v", rate)
			}
			if err := dataset.WriteCSV(out, dataset.Synthetic(n, rate, seed)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d customers to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 10000, "number of customers")
	cmd.Flags().Float64Var(&rate, "rate", 0.2, "share of churners")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().StringVar(&out, "out", "assets/data/Customer-Churn-Records.csv", "output path")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <admin-key>",
		Short: "Print the bcrypt hash to set as ADMIN_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := services.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func printCounts(w io.Writer, counts map[rfm.Segment]int) {
	segments := make([]string, 0, len(counts))
	for s := range counts {
		segments = append(segments, string(s))
	}
	sort.Strings(segments)
	for _, s := range segments {
		fmt.Fprintf(w, "%-8s %d\n", s, counts[rfm.Segment(s)])
	}
}

func printSummary(w io.Writer, sum *services.PipelineSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
