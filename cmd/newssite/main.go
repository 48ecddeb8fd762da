package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/newssite/internal/backend"
	"github.com/TobiSchelling/newssite/internal/config"
	"github.com/TobiSchelling/newssite/internal/ingest"
	"github.com/TobiSchelling/newssite/internal/logging"
	"github.com/TobiSchelling/newssite/internal/server"
	"github.com/TobiSchelling/newssite/internal/tracking"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "newssite",
	Short:   "News aggregation site",
	Long:    "newssite serves personalized news feeds, ingests articles and tracking events into the warehouse, and rebuilds recommendations.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.New("INFO", "text")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "DEBUG"
		}
		logger = logging.New(level, cfg.Logging.Format)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backendCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(recommendCmd)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("newssite", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/newssite/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set NEWSAPI_KEY and edit it to configure tables, buckets and the broker.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warehouse status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openWarehouse()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Warehouse: %s\n\n", db.Path())
		fmt.Println("Articles:")
		fmt.Printf("  Total loaded: %d\n", stats.TotalArticles)
		fmt.Printf("  Batches: %d\n", stats.Batches)
		if stats.LatestBatch != "" {
			fmt.Printf("  Latest batch: %s (%d articles)\n", stats.LatestBatch, stats.LatestBatchSize)
		}
		fmt.Println("\nTracking:")
		fmt.Printf("  Impressions: %d\n", stats.Impressions)
		fmt.Printf("  Clicks: %d\n", stats.Clicks)
		fmt.Printf("  Visitors: %d\n", stats.Users)
		fmt.Println("\nRecommendations:")
		fmt.Printf("  Personalized rows: %d\n", stats.PersonalizedRows)
		fmt.Printf("\nLoaded objects: %d\n", stats.LoadedObjects)

		if !showObjects {
			return nil
		}
		tables := db.Tables()
		for _, table := range []string{tables.Articles, tables.Tracking} {
			objects, err := db.LoadedObjects(cmd.Context(), table)
			if err != nil {
				return fmt.Errorf("listing loaded objects: %w", err)
			}
			fmt.Printf("\n%s:\n", table)
			for _, o := range objects {
				fmt.Printf("  %s\n", o)
			}
		}
		return nil
	},
}

var showObjects bool

func init() {
	statusCmd.Flags().BoolVar(&showObjects, "objects", false, "List staged objects recorded in the load manifest")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the front-end web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		db, err := openWarehouse()
		if err != nil {
			return err
		}
		defer db.Close()

		nc, err := connectBroker(ctx)
		if err != nil {
			return err
		}
		defer nc.Close()

		sessions := openSessions(ctx)
		tracker := tracking.NewTracker(nc, cfg.Broker.Subject, cfg.Broker.PublishWait, logger)
		defer tracker.Flush()

		srv, err := server.New(db, sessions, tracker, logger)
		if err != nil {
			return err
		}
		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}
		return server.Serve(ctx, srv, fmt.Sprintf("%s:%d", cfg.Server.Host, port), logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

// --- backend command ---

var backendPort int

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Start the backend job server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		db, err := openWarehouse()
		if err != nil {
			return err
		}
		defer db.Close()

		nc, err := connectBroker(ctx)
		if err != nil {
			return err
		}
		defer nc.Close()

		newsJob, err := buildNewsJob(ctx, db, nc)
		if err != nil {
			return err
		}
		trackingJob, err := buildTrackingJob(ctx, db, nc)
		if err != nil {
			return err
		}
		srv := backend.New(newsJob, trackingJob, buildRecommender(db), logger)

		port := cfg.Server.BackendPort
		if backendPort > 0 {
			port = backendPort
		}
		return server.ListenAndServe(ctx, srv.Handler(), fmt.Sprintf("%s:%d", cfg.Server.Host, port), logger)
	},
}

func init() {
	backendCmd.Flags().IntVarP(&backendPort, "port", "p", 0, "Port to run backend on (overrides config)")
}

// --- one-shot job commands ---

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch news, stage it and load it into the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		db, err := openWarehouse()
		if err != nil {
			return err
		}
		defer db.Close()

		nc, err := connectStorageBroker(ctx)
		if err != nil {
			return err
		}
		if nc != nil {
			defer nc.Close()
		}

		job, err := buildNewsJob(ctx, db, nc)
		if err != nil {
			return err
		}
		sum, err := job.Run(ctx)
		if perr := printJSON(sum); perr != nil {
			return perr
		}
		return err
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Drain tracking events into staging and load them into the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		db, err := openWarehouse()
		if err != nil {
			return err
		}
		defer db.Close()

		nc, err := connectBroker(ctx)
		if err != nil {
			return err
		}
		defer nc.Close()

		job, err := buildTrackingJob(ctx, db, nc)
		if err != nil {
			return err
		}
		sum, err := job.Run(ctx)
		if perr := printJSON(sum); perr != nil {
			return perr
		}
		return err
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load whatever is left in the staging buckets and archive it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		db, err := openWarehouse()
		if err != nil {
			return err
		}
		defer db.Close()

		nc, err := connectStorageBroker(ctx)
		if err != nil {
			return err
		}
		if nc != nil {
			defer nc.Close()
		}

		loader := &ingest.Loader{Store: db, Logger: logger}
		policy := retryPolicy()
		tables := db.Tables()

		pairs := []struct {
			staging, archive, table string
		}{
			{cfg.Storage.NewsStagingBucket, cfg.Storage.NewsProcessedBucket, tables.Articles},
			{cfg.Storage.TrackingStagingBucket, cfg.Storage.TrackingProcessedBucket, tables.Tracking},
		}

		var summaries []ingest.LoadSummary
		for _, p := range pairs {
			src, err := openBucket(ctx, nc, p.staging)
			if err != nil {
				return err
			}
			dst, err := openBucket(ctx, nc, p.archive)
			if err != nil {
				return err
			}

			var sum ingest.LoadSummary
			out := policy.Do(ctx, "load_"+p.table, func(ctx context.Context) error {
				var err error
				sum, err = loader.LoadFromBucket(ctx, src, dst, p.table)
				return err
			})
			summaries = append(summaries, sum)
			if !out.OK() {
				printJSON(summaries)
				return &ingest.StepError{Step: "load_" + p.table, Outcome: out}
			}
		}
		return printJSON(summaries)
	},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Rebuild personalized recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		db, err := openWarehouse()
		if err != nil {
			return err
		}
		defer db.Close()

		sum, err := buildRecommender(db).Rebuild(ctx)
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}
