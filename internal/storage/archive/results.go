package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// Results writes JSON documents under "<kind>/<yyyy>/<mm>/<dd>/<id>.json".
type Results struct {
	store Storage
	now   func() time.Time
}

// NewResults wraps store.
func NewResults(store Storage) *Results {
	return &Results{store: store, now: time.Now}
}

// Path returns the object path for id written at t.
func Path(kind, id string, t time.Time) string {
	t = t.UTC()
	return path.Join(kind, t.Format("2006"), t.Format("01"), t.Format("02"), id+".json")
}

// Save marshals v and stores it. It returns the object path.
func (r *Results) Save(ctx context.Context, kind, id string, v any) (string, error) {
	if strings.ContainsAny(id, "/\\") || id == "" {
		return "", fmt.Errorf("archive: invalid id %q", id)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding %s/%s: %w", kind, id, err)
	}
	p := Path(kind, id, r.now())
	if err := r.store.Write(ctx, p, data); err != nil {
		return "", fmt.Errorf("writing %s: %w", p, err)
	}
	return p, nil
}

// Load decodes the document at p into v.
func (r *Results) Load(ctx context.Context, p string, v any) error {
	data, err := r.store.Read(ctx, p)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", p, err)
	}
	return nil
}

// List returns the paths of kind documents written on day.
func (r *Results) List(ctx context.Context, kind string, day time.Time) ([]string, error) {
	return r.store.List(ctx, path.Dir(Path(kind, "x", day)))
}
