package catalog

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const DefaultSeedDelay = 500 * time.Millisecond

// SeedSummary counts the outcome of one seeding run. Products without an
// image count as failed.
type SeedSummary struct {
	Total     int
	Processed int
	Failed    int
}

// Seeder computes image embeddings for products and writes them to a store.
type Seeder struct {
	logger   *slog.Logger
	embedder imageEmbedder
	writer   EmbeddingWriter
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewSeeder(log *slog.Logger, embedder imageEmbedder, writer EmbeddingWriter, delay time.Duration) *Seeder {
	if log == nil {
		log = slog.Default()
	}
	if delay < 0 {
		delay = 0
	}
	return &Seeder{
		logger:   log.With(slog.String("service", "catalog_seed")),
		embedder: embedder,
		writer:   writer,
		delay:    delay,
		sleep:    sleepContext,
	}
}

// Run embeds every product from source, pausing between products. Per-product
// failures are logged and counted; only listing errors and cancellation abort
// the run.
func (s *Seeder) Run(ctx context.Context, source Source) (SeedSummary, error) {
	products, err := source.PendingProducts(ctx)
	if err != nil {
		return SeedSummary{}, err
	}
	summary := SeedSummary{Total: len(products)}
	if len(products) == 0 {
		s.logger.Info("no products without embeddings found")
		return summary, nil
	}
	s.logger.Info("seeding product embeddings", slog.Int("products", len(products)))

	for i, p := range products {
		log := s.logger.With(slog.String("product_id", p.ID), slog.String("sku", p.SKU))
		if strings.TrimSpace(p.ImageURL) == "" {
			log.Warn("skipping product without image url", slog.String("name", p.Name))
			summary.Failed++
			continue
		}
		if err := s.seedOne(ctx, p); err != nil {
			log.Error("seed product failed", slog.Any("error", err))
			summary.Failed++
		} else {
			log.Info("generated embedding", slog.String("name", p.Name))
			summary.Processed++
		}
		if i < len(products)-1 && s.delay > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

func (s *Seeder) seedOne(ctx context.Context, p Product) error {
	vector, err := s.embedder.EmbedImage(ctx, p.ImageURL)
	if err != nil {
		return err
	}
	return s.writer.SaveEmbedding(ctx, p, vector)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
