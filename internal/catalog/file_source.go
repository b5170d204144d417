package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type productFile struct {
	Products []Product `yaml:"products" validate:"dive"`
}

// FileSource reads products from a YAML file of the form
//
//	products:
//	  - id: shoe-1
//	    name: Trail Runner
//	    image_url: https://cdn.example.com/shoe-1.jpg
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// PendingProducts returns every product in the file.
func (f *FileSource) PendingProducts(_ context.Context) ([]Product, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read product file: %w", err)
	}
	return ParseProducts(data)
}

// ParseProducts decodes and validates a YAML product list.
func ParseProducts(data []byte) ([]Product, error) {
	var file productFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode product file: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid product file: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Products))
	for _, p := range file.Products {
		if _, ok := seen[p.ID]; ok {
			return nil, fmt.Errorf("invalid product file: duplicate id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return file.Products, nil
}
