// Package catalog stores product embeddings and answers image similarity
// searches against them.
package catalog

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("catalog store not configured")

// Product is a catalog item. Zero Price means unknown.
type Product struct {
	ID          string  `yaml:"id" validate:"required"`
	Name        string  `yaml:"name" validate:"required"`
	SKU         string  `yaml:"sku"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price" validate:"gte=0"`
	Stock       int     `yaml:"stock"`
	ImageURL    string  `yaml:"image_url" validate:"omitempty,url"`
	CategoryID  string  `yaml:"category_id"`
	TenantID    string  `yaml:"tenant_id"`
}

// Match is a product with its cosine similarity to the query, in [0,1].
type Match struct {
	Product    Product
	Similarity float64
}

// Store ranks products by similarity to a query vector.
type Store interface {
	Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error)
}

// EmbeddingWriter persists the embedding computed for a product.
type EmbeddingWriter interface {
	SaveEmbedding(ctx context.Context, product Product, vector []float32) error
}

// Source lists the products that still need an embedding.
type Source interface {
	PendingProducts(ctx context.Context) ([]Product, error)
}
