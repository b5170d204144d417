package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadProductID   = "product_id"
	payloadName        = "name"
	payloadSKU         = "sku"
	payloadDescription = "description"
	payloadPrice       = "price"
	payloadStock       = "stock"
	payloadImageURL    = "image_url"
	payloadCategoryID  = "category_id"
	payloadTenantID    = "tenant_id"
)

var productNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pagebot/products"))

type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantConfig locates the collection holding product vectors.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
	TenantID   string
}

// QdrantStore keeps one point per product with the product fields as payload.
type QdrantStore struct {
	client     qdrantAPI
	collection string
	dimension  uint64
	tenantID   string
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return newQdrantStore(client, cfg), nil
}

func newQdrantStore(client qdrantAPI, cfg QdrantConfig) *QdrantStore {
	collection := strings.TrimSpace(cfg.Collection)
	if collection == "" {
		collection = "products"
	}
	return &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  uint64(cfg.Dimension),
		tenantID:   strings.TrimSpace(cfg.TenantID),
	}
}

// EnsureCollection creates the cosine collection when it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if exists {
		return nil
	}
	if s.dimension == 0 {
		return fmt.Errorf("qdrant collection %s missing and no dimension configured", s.collection)
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error) {
	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if s.tenantID != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadTenantID, s.tenantID)},
		}
	}
	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	matches := make([]Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, Match{
			Product:    productFromPayload(p.GetPayload()),
			Similarity: float64(p.GetScore()),
		})
	}
	return matches, nil
}

func (s *QdrantStore) SaveEmbedding(ctx context.Context, product Product, vector []float32) error {
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(PointID(product.ID)),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(productPayload(product)),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s: %w", product.ID, err)
	}
	return nil
}

func (s *QdrantStore) Ping(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	return err
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// PointID maps a product id to a stable point UUID. Ids that already are
// UUIDs are used as is.
func PointID(productID string) string {
	if id, err := uuid.Parse(productID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(productNamespace, []byte(productID)).String()
}

func productPayload(p Product) map[string]any {
	payload := map[string]any{
		payloadProductID:   p.ID,
		payloadName:        p.Name,
		payloadSKU:         p.SKU,
		payloadDescription: p.Description,
		payloadPrice:       p.Price,
		payloadStock:       int64(p.Stock),
		payloadImageURL:    p.ImageURL,
		payloadCategoryID:  p.CategoryID,
	}
	if p.TenantID != "" {
		payload[payloadTenantID] = p.TenantID
	}
	return payload
}

func productFromPayload(payload map[string]*qdrant.Value) Product {
	return Product{
		ID:          payload[payloadProductID].GetStringValue(),
		Name:        payload[payloadName].GetStringValue(),
		SKU:         payload[payloadSKU].GetStringValue(),
		Description: payload[payloadDescription].GetStringValue(),
		Price:       payload[payloadPrice].GetDoubleValue(),
		Stock:       int(payload[payloadStock].GetIntegerValue()),
		ImageURL:    payload[payloadImageURL].GetStringValue(),
		CategoryID:  payload[payloadCategoryID].GetStringValue(),
		TenantID:    payload[payloadTenantID].GetStringValue(),
	}
}
