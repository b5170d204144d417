package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
)

const (
	VertexModel         = "multimodalembedding@001"
	DefaultDimension    = 1408
	DefaultImageTimeout = 15 * time.Second
	MaxImageBytes       = 10 << 20

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// VertexConfig configures the Vertex AI multimodal embedder.
type VertexConfig struct {
	ProjectID string
	Location  string
	Dimension int
	Timeout   time.Duration
	// Endpoint overrides the regional predict URL.
	Endpoint string
	// HTTPClient authenticates predict calls. When nil, application default
	// credentials are used.
	HTTPClient *http.Client
	// ImageClient downloads images. When nil, a plain client with the
	// image timeout is used.
	ImageClient *http.Client
}

// VertexEmbedder calls the multimodalembedding predict endpoint over REST.
type VertexEmbedder struct {
	logger      *slog.Logger
	endpoint    string
	dimension   int
	timeout     time.Duration
	client      *http.Client
	imageClient *http.Client
}

func NewVertexEmbedder(ctx context.Context, log *slog.Logger, cfg VertexConfig) (*VertexEmbedder, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultImageTimeout
	}
	if strings.TrimSpace(cfg.Location) == "" {
		cfg.Location = "us-central1"
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		if strings.TrimSpace(cfg.ProjectID) == "" {
			return nil, errors.New("vertex project id is required")
		}
		endpoint = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
			cfg.Location, cfg.ProjectID, cfg.Location, VertexModel)
	}
	client := cfg.HTTPClient
	if client == nil {
		var err error
		client, err = google.DefaultClient(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("vertex credentials: %w", err)
		}
	}
	imageClient := cfg.ImageClient
	if imageClient == nil {
		imageClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &VertexEmbedder{
		logger:      log.With(slog.String("service", "embeddings")),
		endpoint:    endpoint,
		dimension:   cfg.Dimension,
		timeout:     cfg.Timeout,
		client:      client,
		imageClient: imageClient,
	}, nil
}

func (e *VertexEmbedder) Dimensions() int {
	return e.dimension
}

func (e *VertexEmbedder) Model() string {
	return VertexModel
}

type vertexImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type vertexInstance struct {
	Text  string       `json:"text,omitempty"`
	Image *vertexImage `json:"image,omitempty"`
}

type vertexRequest struct {
	Instances  []vertexInstance `json:"instances"`
	Parameters struct {
		Dimension int `json:"dimension"`
	} `json:"parameters"`
}

type vertexResponse struct {
	Predictions []struct {
		ImageEmbedding []float32 `json:"imageEmbedding"`
		TextEmbedding  []float32 `json:"textEmbedding"`
	} `json:"predictions"`
}

// EmbedImage downloads imageURL and returns its embedding.
func (e *VertexEmbedder) EmbedImage(ctx context.Context, imageURL string) ([]float32, error) {
	data, err := e.download(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	resp, err := e.predict(ctx, vertexInstance{Image: &vertexImage{BytesBase64Encoded: base64.StdEncoding.EncodeToString(data)}})
	if err != nil {
		return nil, fmt.Errorf("failed to generate image embedding: %w", err)
	}
	if len(resp.Predictions[0].ImageEmbedding) == 0 {
		return nil, errors.New("no image embedding in response")
	}
	return resp.Predictions[0].ImageEmbedding, nil
}

// EmbedText returns the embedding of text in the same space as images.
func (e *VertexEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("text input is required")
	}
	resp, err := e.predict(ctx, vertexInstance{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to generate text embedding: %w", err)
	}
	if len(resp.Predictions[0].TextEmbedding) == 0 {
		return nil, errors.New("no text embedding in response")
	}
	return resp.Predictions[0].TextEmbedding, nil
}

func (e *VertexEmbedder) download(ctx context.Context, imageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.imageClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("image fetch status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}
	return data, nil
}

func (e *VertexEmbedder) predict(ctx context.Context, instance vertexInstance) (vertexResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var payload vertexRequest
	payload.Instances = []vertexInstance{instance}
	payload.Parameters.Dimension = e.dimension
	body, err := json.Marshal(payload)
	if err != nil {
		return vertexResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return vertexResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return vertexResponse{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return vertexResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Error("vertex predict failed", slog.Int("status", resp.StatusCode))
		return vertexResponse{}, fmt.Errorf("vertex error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed vertexResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return vertexResponse{}, fmt.Errorf("failed to parse predict response: %w", err)
	}
	if len(parsed.Predictions) == 0 {
		return vertexResponse{}, errors.New("no predictions returned from vertex ai")
	}
	return parsed, nil
}
