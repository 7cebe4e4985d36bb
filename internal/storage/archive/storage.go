// Package archive persists finished batch results as JSON documents on a
// local directory or an S3-compatible bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Read for a missing object.
var ErrNotFound = errors.New("archive: object not found")

// Storage is a flat object store addressed by slash-separated paths.
type Storage interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	// List returns the paths under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"; empty disables archiving
	Path string   `mapstructure:"path"`
	S3   S3Config `mapstructure:"s3"`
}

// Open builds the backend named by cfg.Type. It returns nil, nil when
// archiving is disabled.
func Open(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "localfs":
		if cfg.Path == "" {
			return nil, fmt.Errorf("archive: localfs requires a path")
		}
		return NewLocalFS(cfg.Path)
	case "s3":
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("archive: unknown type %q", cfg.Type)
	}
}
