package embeddings

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVertex struct {
	t        *testing.T
	mu       sync.Mutex
	last     vertexRequest
	status   int
	response string
}

func (f *fakeVertex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := json.NewDecoder(r.Body).Decode(&f.last); err != nil {
		f.t.Errorf("decode predict request: %v", err)
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	_, _ = w.Write([]byte(f.response))
}

func newTestEmbedder(t *testing.T, vertex *fakeVertex) *VertexEmbedder {
	t.Helper()
	vertex.t = t
	predict := httptest.NewServer(vertex)
	t.Cleanup(predict.Close)

	e, err := NewVertexEmbedder(context.Background(), nil, VertexConfig{
		Endpoint:   predict.URL + "/predict",
		Dimension:  3,
		Timeout:    time.Second,
		HTTPClient: predict.Client(),
	})
	require.NoError(t, err)
	return e
}

func imageServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVertexEmbedImage(t *testing.T) {
	t.Parallel()

	vertex := &fakeVertex{response: `{"predictions":[{"imageEmbedding":[0.1,0.2,0.3]}]}`}
	e := newTestEmbedder(t, vertex)
	img := imageServer(t, http.StatusOK, []byte("png-bytes"))

	vec, err := e.EmbedImage(context.Background(), img.URL+"/shoe.png")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	require.Len(t, vertex.last.Instances, 1)
	require.NotNil(t, vertex.last.Instances[0].Image)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), vertex.last.Instances[0].Image.BytesBase64Encoded)
	assert.Equal(t, 3, vertex.last.Parameters.Dimension)
}

func TestVertexEmbedText(t *testing.T) {
	t.Parallel()

	vertex := &fakeVertex{response: `{"predictions":[{"textEmbedding":[1,0,0]}]}`}
	e := newTestEmbedder(t, vertex)

	result, err := Embed(context.Background(), e, Request{Type: TypeText, Input: Input{Text: "  red sneakers "}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, result.Embedding)
	assert.Equal(t, VertexModel, result.Model)
	assert.Equal(t, 3, result.Dimensions)
	assert.Equal(t, "red sneakers", vertex.last.Instances[0].Text)
	assert.Nil(t, vertex.last.Instances[0].Image)
}

func TestVertexEmbedImageFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     []byte
		response string
		contains string
	}{
		{"image not found", http.StatusNotFound, nil, `{}`, "status 404"},
		{"image too large", http.StatusOK, []byte(strings.Repeat("x", MaxImageBytes+1)), `{}`, "exceeds"},
		{"no predictions", http.StatusOK, []byte("img"), `{"predictions":[]}`, "no predictions"},
		{"missing image embedding", http.StatusOK, []byte("img"), `{"predictions":[{"textEmbedding":[1]}]}`, "no image embedding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEmbedder(t, &fakeVertex{response: tt.response})
			img := imageServer(t, tt.status, tt.body)
			_, err := e.EmbedImage(context.Background(), img.URL)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestVertexPredictErrorStatus(t *testing.T) {
	t.Parallel()

	e := newTestEmbedder(t, &fakeVertex{status: http.StatusForbidden, response: `{"error":"denied"}`})
	_, err := e.EmbedText(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestEmbedValidatesRequest(t *testing.T) {
	t.Parallel()

	e := newTestEmbedder(t, &fakeVertex{response: `{}`})
	_, err := Embed(context.Background(), e, Request{})
	assert.Error(t, err)
	_, err = Embed(context.Background(), e, Request{Type: TypeImage})
	assert.Error(t, err)
	_, err = Embed(context.Background(), e, Request{Type: "video", Input: Input{Text: "x"}})
	assert.Error(t, err)
}

func TestNewVertexEmbedderRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := NewVertexEmbedder(context.Background(), nil, VertexConfig{HTTPClient: http.DefaultClient})
	assert.Error(t, err)
}
