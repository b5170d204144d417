package embeddings

import (
	"context"
	"errors"
	"strings"
)

const (
	TypeText  = "text"
	TypeImage = "image"
)

type Request struct {
	Type  string
	Input Input
}

type Input struct {
	Text     string
	ImageURL string
}

type Result struct {
	Type       string
	Model      string
	Dimensions int
	Embedding  []float32
}

// Embedder produces vectors for text and images in one shared space.
type Embedder interface {
	EmbedImage(ctx context.Context, imageURL string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}

// Embed validates req and routes it to the matching Embedder method.
func Embed(ctx context.Context, e Embedder, req Request) (Result, error) {
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Input.Text = strings.TrimSpace(req.Input.Text)
	req.Input.ImageURL = strings.TrimSpace(req.Input.ImageURL)

	var (
		vector []float32
		err    error
	)
	switch req.Type {
	case "":
		return Result{}, errors.New("type is required")
	case TypeText:
		if req.Input.Text == "" {
			return Result{}, errors.New("text input is required")
		}
		vector, err = e.EmbedText(ctx, req.Input.Text)
	case TypeImage:
		if req.Input.ImageURL == "" {
			return Result{}, errors.New("image url is required")
		}
		vector, err = e.EmbedImage(ctx, req.Input.ImageURL)
	default:
		return Result{}, errors.New("invalid embeddings type")
	}
	if err != nil {
		return Result{}, err
	}
	return Result{
		Type:       req.Type,
		Model:      e.Model(),
		Dimensions: len(vector),
		Embedding:  vector,
	}, nil
}
