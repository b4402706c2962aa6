package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource reads the seller configuration from a YAML file:
//
//	seller_id: acme
//	shiprocket:
//	  email: ops@acme.example
//	  password: "s3cret"
type FileSource struct {
	path string
}

type sellerFile struct {
	SellerID   string       `yaml:"seller_id"`
	Shiprocket SellerConfig `yaml:"shiprocket"`
}

// NewFileSource creates a source for path. An empty path yields no config.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// SellerConfig reads and parses the file on every call so edits apply
// without a restart. A missing file is not an error.
func (f *FileSource) SellerConfig(ctx context.Context) (*SellerConfig, error) {
	if f.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read seller config: %w", err)
	}

	var parsed sellerFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse seller config: %w", err)
	}

	cfg := parsed.Shiprocket
	if cfg.SellerID == "" {
		cfg.SellerID = parsed.SellerID
	}
	return &cfg, nil
}
