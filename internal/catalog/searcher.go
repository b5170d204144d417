package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

const (
	DefaultSearchLimit     = 5
	DefaultSearchThreshold = 0.5

	// NoMatchMessage is the reply when a search finds nothing above the threshold.
	NoMatchMessage = "I couldn't find any matching products for your image. Try uploading a different image!"
)

type imageEmbedder interface {
	EmbedImage(ctx context.Context, imageURL string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Searcher embeds a query and ranks catalog products against it.
type Searcher struct {
	logger   *slog.Logger
	embedder imageEmbedder
	store    Store
}

func NewSearcher(log *slog.Logger, embedder imageEmbedder, store Store) *Searcher {
	if log == nil {
		log = slog.Default()
	}
	return &Searcher{
		logger:   log.With(slog.String("service", "catalog_search")),
		embedder: embedder,
		store:    store,
	}
}

// SearchByImage returns products similar to the image at imageURL.
func (s *Searcher) SearchByImage(ctx context.Context, imageURL string, limit int, threshold float64) ([]Match, error) {
	if s.embedder == nil || s.store == nil {
		return nil, ErrNotConfigured
	}
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return nil, errors.New("image url is required")
	}
	vector, err := s.embedder.EmbedImage(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, vector, limit, threshold)
}

// SearchByText returns products whose images are close to text.
func (s *Searcher) SearchByText(ctx context.Context, text string, limit int, threshold float64) ([]Match, error) {
	if s.embedder == nil || s.store == nil {
		return nil, ErrNotConfigured
	}
	vector, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, vector, limit, threshold)
}

func (s *Searcher) search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold %v out of range [0,1]", threshold)
	}
	matches, err := s.store.Search(ctx, vector, limit, threshold)
	if err != nil {
		return nil, err
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	s.logger.Debug("catalog search", slog.Int("matches", len(matches)), slog.Float64("threshold", threshold))
	return matches, nil
}

// FormatResults renders matches as a numbered reply.
func FormatResults(matches []Match) string {
	if len(matches) == 0 {
		return NoMatchMessage
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d similar product(s):\n\n", len(matches))
	for i, m := range matches {
		p := m.Product
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Name)
		fmt.Fprintf(&b, "   %s\n", p.Description)
		if p.Price != 0 {
			fmt.Fprintf(&b, "   Price: $%.2f\n", p.Price)
		}
		if p.Stock > 0 {
			fmt.Fprintf(&b, "   Stock: In Stock (%d)\n", p.Stock)
		} else {
			b.WriteString("   Stock: Out of Stock\n")
		}
		if p.SKU != "" {
			fmt.Fprintf(&b, "   SKU: %s\n", p.SKU)
		}
		fmt.Fprintf(&b, "   Match confidence: %d%%\n\n", int(math.Round(m.Similarity*100)))
	}
	return strings.TrimSpace(b.String())
}
