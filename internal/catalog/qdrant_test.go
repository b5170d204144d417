package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQdrant struct {
	exists   bool
	created  *qdrant.CreateCollection
	upserted *qdrant.UpsertPoints
	query    *qdrant.QueryPoints
	points   []*qdrant.ScoredPoint
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserted = req
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.query = req
	return f.points, nil
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) Close() error { return nil }

func TestQdrantStoreEnsureCollection(t *testing.T) {
	t.Parallel()

	fake := &fakeQdrant{}
	s := newQdrantStore(fake, QdrantConfig{Dimension: 1408})
	require.NoError(t, s.EnsureCollection(context.Background()))
	require.NotNil(t, fake.created)
	assert.Equal(t, "products", fake.created.CollectionName)
	params := fake.created.GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(1408), params.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, params.GetDistance())

	existing := &fakeQdrant{exists: true}
	require.NoError(t, newQdrantStore(existing, QdrantConfig{}).EnsureCollection(context.Background()))
	assert.Nil(t, existing.created)

	assert.Error(t, newQdrantStore(&fakeQdrant{}, QdrantConfig{}).EnsureCollection(context.Background()))
}

func TestQdrantStoreSaveAndSearch(t *testing.T) {
	t.Parallel()

	fake := &fakeQdrant{}
	s := newQdrantStore(fake, QdrantConfig{Collection: "catalog", TenantID: "shop-1"})
	p := Product{ID: "shoe-1", Name: "Trail Runner", SKU: "TR-1", Price: 89.5, Stock: 3, TenantID: "shop-1"}

	require.NoError(t, s.SaveEmbedding(context.Background(), p, []float32{0.1, 0.2}))
	require.Len(t, fake.upserted.GetPoints(), 1)
	point := fake.upserted.GetPoints()[0]
	assert.Equal(t, PointID("shoe-1"), point.GetId().GetUuid())

	fake.points = []*qdrant.ScoredPoint{{Score: 0.82, Payload: point.GetPayload()}}
	matches, err := s.Search(context.Background(), []float32{0.1, 0.2}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, p, matches[0].Product)
	assert.InDelta(t, 0.82, matches[0].Similarity, 1e-6)

	assert.Equal(t, "catalog", fake.query.GetCollectionName())
	assert.Equal(t, uint64(5), fake.query.GetLimit())
	assert.InDelta(t, 0.5, fake.query.GetScoreThreshold(), 1e-6)
	require.Len(t, fake.query.GetFilter().GetMust(), 1)
}

func TestPointID(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	assert.Equal(t, id, PointID(id))
	assert.Equal(t, PointID("shoe-1"), PointID("shoe-1"))
	assert.NotEqual(t, PointID("shoe-1"), PointID("shoe-2"))
	_, err := uuid.Parse(PointID("shoe-1"))
	assert.NoError(t, err)
}

func TestVectorLiteral(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[]", VectorLiteral(nil))
	assert.Equal(t, "[0.1,-2,3.5]", VectorLiteral([]float32{0.1, -2, 3.5}))
}
