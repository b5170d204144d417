package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	products []Product
	err      error
}

func (s staticSource) PendingProducts(context.Context) ([]Product, error) {
	return s.products, s.err
}

type recordingWriter struct {
	saved map[string][]float32
	fail  map[string]bool
}

func (w *recordingWriter) SaveEmbedding(_ context.Context, p Product, vector []float32) error {
	if w.fail[p.ID] {
		return errors.New("write failed")
	}
	if w.saved == nil {
		w.saved = map[string][]float32{}
	}
	w.saved[p.ID] = vector
	return nil
}

func newTestSeeder(emb imageEmbedder, w EmbeddingWriter) (*Seeder, *[]time.Duration) {
	s := NewSeeder(nil, emb, w, DefaultSeedDelay)
	var sleeps []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return s, &sleeps
}

func TestSeederRun(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{fail: map[string]bool{"p3": true}}
	s, sleeps := newTestSeeder(&fakeEmbedder{vector: []float32{0.5}}, w)

	summary, err := s.Run(context.Background(), staticSource{products: []Product{
		{ID: "p1", Name: "A", ImageURL: "https://cdn.example/1.jpg"},
		{ID: "p2", Name: "B"},
		{ID: "p3", Name: "C", ImageURL: "https://cdn.example/3.jpg"},
		{ID: "p4", Name: "D", ImageURL: "https://cdn.example/4.jpg"},
	}})
	require.NoError(t, err)
	assert.Equal(t, SeedSummary{Total: 4, Processed: 2, Failed: 2}, summary)
	assert.Contains(t, w.saved, "p1")
	assert.Contains(t, w.saved, "p4")
	assert.Equal(t, []time.Duration{DefaultSeedDelay, DefaultSeedDelay}, *sleeps)
}

func TestSeederEmptySource(t *testing.T) {
	t.Parallel()

	s, _ := newTestSeeder(&fakeEmbedder{}, &recordingWriter{})
	summary, err := s.Run(context.Background(), staticSource{})
	require.NoError(t, err)
	assert.Equal(t, SeedSummary{}, summary)
}

func TestSeederSourceError(t *testing.T) {
	t.Parallel()

	s, _ := newTestSeeder(&fakeEmbedder{}, &recordingWriter{})
	_, err := s.Run(context.Background(), staticSource{err: errors.New("db down")})
	assert.EqualError(t, err, "db down")
}

func TestSeederStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, _ := newTestSeeder(&fakeEmbedder{vector: []float32{1}}, &recordingWriter{})
	s.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	summary, err := s.Run(context.Background(), staticSource{products: []Product{
		{ID: "p1", Name: "A", ImageURL: "https://cdn.example/1.jpg"},
		{ID: "p2", Name: "B", ImageURL: "https://cdn.example/2.jpg"},
	}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Processed)
}
