package archive

import (
	"context"
	"testing"
	"time"
)

func TestResults_SaveLoadList(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	r := NewResults(fs)
	day := time.Date(2024, 3, 9, 22, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return day }
	ctx := context.Background()

	p, err := r.Save(ctx, "batch", "job-1", map[string]int{"trades": 3})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p != "batch/2024/03/09/job-1.json" {
		t.Errorf("path = %q", p)
	}

	var got map[string]int
	if err := r.Load(ctx, p, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["trades"] != 3 {
		t.Errorf("got %v", got)
	}

	paths, err := r.List(ctx, "batch", day)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 1 || paths[0] != p {
		t.Errorf("paths = %v", paths)
	}

	if _, err := r.Save(ctx, "batch", "../x", 1); err == nil {
		t.Error("expected invalid id error")
	}
}
