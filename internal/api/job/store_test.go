package job

import (
	"context"
	"testing"
	"time"

	"github.com/newthinker/arena/internal/core"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(100, time.Hour)

	job := store.Create("batch", "default", nil)
	if job.ID == "" {
		t.Error("expected job ID")
	}
	if job.Status != StatusPending {
		t.Errorf("expected pending, got %s", job.Status)
	}

	retrieved, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.ID != job.ID {
		t.Error("IDs don't match")
	}
}

func TestStore_Update(t *testing.T) {
	store := NewStore(100, time.Hour)
	job := store.Create("batch", "default", nil)

	err := store.Update(job.ID, func(j *Job) {
		j.Status = StatusRunning
		j.Current = 5
		j.Total = 10
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	retrieved, _ := store.Get(job.ID)
	if retrieved.Status != StatusRunning {
		t.Errorf("expected running, got %s", retrieved.Status)
	}
	if retrieved.Progress() != 50 {
		t.Errorf("expected 50, got %d", retrieved.Progress())
	}
}

func TestStore_MaxSize(t *testing.T) {
	store := NewStore(2, time.Hour)

	cancelled := false
	job1 := store.Create("batch", "default", func() { cancelled = true })
	store.Create("batch", "default", nil)
	store.Create("batch", "default", nil) // Should evict job1

	if _, err := store.Get(job1.ID); err == nil {
		t.Error("expected job1 to be evicted")
	}
	if !cancelled {
		t.Error("evicting a running job should cancel it")
	}
}

func TestStore_ExpiresFinishedJobs(t *testing.T) {
	store := NewStore(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	done := store.Create("batch", "default", nil)
	store.Update(done.ID, func(j *Job) { j.Status = StatusComplete })
	running := store.Create("batch", "default", nil)

	now = now.Add(2 * time.Minute)
	store.Create("batch", "default", nil)

	if _, err := store.Get(done.ID); err == nil {
		t.Error("expected finished job to expire")
	}
	if _, err := store.Get(running.ID); err != nil {
		t.Error("running job must not expire")
	}
}

func TestStore_NotFound(t *testing.T) {
	store := NewStore(100, time.Hour)

	_, err := store.Get("nonexistent")
	if core.CodeOf(err) != "JOB_NOT_FOUND" {
		t.Errorf("expected JOB_NOT_FOUND, got %v", err)
	}
}

func TestStore_Cancel(t *testing.T) {
	store := NewStore(100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	job := store.Create("batch", "default", cancel)

	got, err := store.Cancel(job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if ctx.Err() == nil {
		t.Error("expected context cancelled")
	}

	store.Update(job.ID, func(j *Job) { j.Status = StatusComplete })
	got, _ = store.Cancel(job.ID)
	if got.Status != StatusComplete {
		t.Errorf("cancelling a finished job should not change it, got %s", got.Status)
	}
}

func TestStore_List(t *testing.T) {
	store := NewStore(100, time.Hour)
	a := store.Create("batch", "default", nil)
	store.Create("batch", "default", nil)

	jobs := store.List()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != a.ID {
		t.Error("expected creation order")
	}
	if store.Running() != 2 {
		t.Errorf("expected 2 running, got %d", store.Running())
	}
}
