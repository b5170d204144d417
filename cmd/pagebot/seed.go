package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/pagebot/internal/catalog"
	"github.com/memohai/pagebot/internal/config"
	"github.com/memohai/pagebot/internal/logger"
)

var (
	seedFile  string
	seedDelay time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate image embeddings for catalog products",
	Long: `Embed the image of every catalog product that has no embedding yet and
write the vectors to the configured catalog store.

Products come from the postgres catalog (rows with a null embedding) or,
with --file, from a YAML product list.

Examples:
  # Fill missing embeddings in postgres
  pagebot seed

  # Load products from a file into qdrant
  pagebot seed --file products.yaml`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML product file to seed instead of the postgres catalog")
	seedCmd.Flags().DurationVar(&seedDelay, "delay", catalog.DefaultSeedDelay, "pause between products")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := checkSeedConfig(cfg, seedFile); err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.L

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openCatalog(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	source, err := seedSource(store, seedFile)
	if err != nil {
		return err
	}
	embedder, err := openEmbedder(ctx, log, cfg)
	if err != nil {
		return err
	}

	summary, err := catalog.NewSeeder(log, embedder, store, seedDelay).Run(ctx, source)
	printSummary(cmd.OutOrStdout(), summary)
	return err
}

// checkSeedConfig rejects combinations that have nowhere to read products
// from or write embeddings to.
func checkSeedConfig(cfg config.Config, file string) error {
	switch cfg.Catalog.Backend {
	case config.CatalogBackendPostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return fmt.Errorf("%w: postgres.dsn is required", config.ErrInvalidConfig)
		}
	case config.CatalogBackendQdrant:
		if strings.TrimSpace(file) == "" {
			return fmt.Errorf("%w: the qdrant catalog can only be seeded from --file", config.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: catalog.backend must be postgres or qdrant to seed", config.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Vertex.ProjectID) == "" {
		return fmt.Errorf("%w: vertex.project_id is required", config.ErrMissingSecret)
	}
	return nil
}

func seedSource(store catalogBackend, file string) (catalog.Source, error) {
	if strings.TrimSpace(file) != "" {
		return catalog.NewFileSource(file), nil
	}
	source, ok := store.(catalog.Source)
	if !ok {
		return nil, errors.New("catalog store cannot list pending products, use --file")
	}
	return source, nil
}

func printSummary(w io.Writer, s catalog.SeedSummary) {
	fmt.Fprintln(w, "Seeding complete")
	fmt.Fprintf(w, "  total:     %d\n", s.Total)
	fmt.Fprintf(w, "  processed: %d\n", s.Processed)
	fmt.Fprintf(w, "  failed:    %d\n", s.Failed)
}

