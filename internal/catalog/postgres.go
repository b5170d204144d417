package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps embeddings in a pgvector column of the products table
// and searches through the search_products_by_embedding function.
type PostgresStore struct {
	pool     *pgxpool.Pool
	tenantID string
}

// NewPostgresStore connects to dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn, tenantID string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, tenantID: strings.TrimSpace(tenantID)}, nil
}

// Search returns up to limit products whose similarity is above threshold.
func (s *PostgresStore) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error) {
	query := `
		SELECT id::text, name, COALESCE(sku, ''), COALESCE(price, 0)::float8, COALESCE(stock, 0),
			COALESCE(description, ''), COALESCE(image_url, ''),
			COALESCE(category_id::text, ''), COALESCE(tenant_id::text, ''), similarity
		FROM search_products_by_embedding($1::vector, $2, $3, $4)
	`
	rows, err := s.pool.Query(ctx, query, VectorLiteral(vector), threshold, limit, s.tenantFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(
			&m.Product.ID, &m.Product.Name, &m.Product.SKU, &m.Product.Price, &m.Product.Stock,
			&m.Product.Description, &m.Product.ImageURL,
			&m.Product.CategoryID, &m.Product.TenantID, &m.Similarity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// PendingProducts lists products without an embedding, oldest first.
func (s *PostgresStore) PendingProducts(ctx context.Context) ([]Product, error) {
	query := `
		SELECT id::text, name, COALESCE(sku, ''), COALESCE(price, 0)::float8, COALESCE(stock, 0),
			COALESCE(description, ''), COALESCE(image_url, ''),
			COALESCE(category_id::text, ''), COALESCE(tenant_id::text, '')
		FROM products
		WHERE embedding IS NULL AND ($1::text IS NULL OR tenant_id::text = $1)
		ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, query, s.tenantFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		var p Product
		err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.Stock, &p.Description, &p.ImageURL, &p.CategoryID, &p.TenantID)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan products: %w", err)
	}
	return products, nil
}

// SaveEmbedding stores vector on the product row.
func (s *PostgresStore) SaveEmbedding(ctx context.Context, product Product, vector []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET embedding = $1::vector, updated_at = now() WHERE id::text = $2`,
		VectorLiteral(vector), product.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", product.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s not found", product.ID)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) tenantFilter() *string {
	if s.tenantID == "" {
		return nil
	}
	return &s.tenantID
}

// VectorLiteral renders v in pgvector text form, e.g. [0.1,0.2].
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*8 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
