package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memohai/pagebot/internal/catalog"
	"github.com/memohai/pagebot/internal/config"
	"github.com/memohai/pagebot/internal/embeddings"
)

// catalogBackend is what both the serve and seed commands need from a store.
type catalogBackend interface {
	catalog.Store
	catalog.EmbeddingWriter
	Ping(ctx context.Context) error
}

// openCatalog connects the configured store. It returns a nil backend when the
// catalog is disabled.
func openCatalog(ctx context.Context, log *slog.Logger, cfg config.Config) (catalogBackend, func(), error) {
	switch cfg.Catalog.Backend {
	case config.CatalogBackendPostgres:
		store, err := catalog.NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Catalog.TenantID)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres catalog: %w", err)
		}
		log.Info("catalog connected", slog.String("backend", cfg.Catalog.Backend))
		return store, store.Close, nil
	case config.CatalogBackendQdrant:
		store, err := catalog.NewQdrantStore(catalog.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
			Dimension:  cfg.Vertex.Dimension,
			TenantID:   cfg.Catalog.TenantID,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureCollection(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("qdrant collection: %w", err)
		}
		log.Info("catalog connected", slog.String("backend", cfg.Catalog.Backend), slog.String("collection", cfg.Qdrant.Collection))
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func openEmbedder(ctx context.Context, log *slog.Logger, cfg config.Config) (*embeddings.VertexEmbedder, error) {
	return embeddings.NewVertexEmbedder(ctx, log, embeddings.VertexConfig{
		ProjectID: cfg.Vertex.ProjectID,
		Location:  cfg.Vertex.Location,
		Dimension: cfg.Vertex.Dimension,
		Timeout:   cfg.Vertex.Timeout,
	})
}
