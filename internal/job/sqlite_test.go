package job

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loopgen/loopgen-api/internal/loop"
)

func newTestSQLiteRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repositoryContract(t, newTestSQLiteRepository(t))
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	repo := newTestSQLiteRepository(t)
	ctx := context.Background()

	job := New(loop.RequestParams{
		Mode:                  "crossfade",
		TargetDurationSeconds: 45,
		CrossfadeSeconds:      1.5,
		Resolution:            "720p",
		Speed:                 "2.0",
	})
	if err := job.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job.ApplyResolved(loop.ResolvedParams{
		Mode:       loop.ModeCrossfade,
		Resolution: loop.Tier480,
		Speed:      2.0,
		Downgraded: true,
	})
	job.UpdateProgress(60)
	job.SetOutput("/tmp/out.mp4")

	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, found.Status)
	}
	if found.Params.CrossfadeSeconds != 1.5 {
		t.Errorf("expected crossfade 1.5, got %f", found.Params.CrossfadeSeconds)
	}
	if found.Mode != loop.ModeCrossfade {
		t.Errorf("expected resolved mode crossfade, got %s", found.Mode)
	}
	if found.Resolution != loop.Tier480 {
		t.Errorf("expected resolved resolution 480p, got %s", found.Resolution)
	}
	if !found.Downgraded {
		t.Error("expected Downgraded to round-trip")
	}
	if found.Progress != 60 {
		t.Errorf("expected progress 60, got %d", found.Progress)
	}
	if found.OutputPath != "/tmp/out.mp4" {
		t.Errorf("expected output path to round-trip, got %q", found.OutputPath)
	}
	if found.StartedAt.IsZero() {
		t.Error("expected StartedAt to round-trip")
	}
	if !found.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to stay zero")
	}
}

func TestSQLiteRepository_MarksInterruptedJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	repo, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}

	running := New(loop.RequestParams{})
	if err := running.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := New(loop.RequestParams{})
	done.Status = StatusCompleted

	for _, j := range []*Job{running, done} {
		if err := repo.Save(ctx, j); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close repository: %v", err)
	}

	// Reopen, simulating a process restart mid-render.
	repo, err = NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("reopen repository: %v", err)
	}
	defer func() { _ = repo.Close() }()

	found, err := repo.FindByID(ctx, running.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.Status != StatusFailed {
		t.Errorf("expected interrupted job to be FAILED, got %s", found.Status)
	}
	if found.ErrorCode != CodeEngineFailed {
		t.Errorf("expected error code %s, got %s", CodeEngineFailed, found.ErrorCode)
	}

	kept, err := repo.FindByID(ctx, done.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kept.Status != StatusCompleted {
		t.Errorf("expected completed job untouched, got %s", kept.Status)
	}
}
