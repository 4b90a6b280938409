package dlq

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

var errDBDown = errors.New("database unavailable")

func newTestQueue(t *testing.T, max int) (*Queue, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	return NewQueue(max, logger), hook
}

func noop(context.Context) error { return nil }

func TestQueue_AddAndGet(t *testing.T) {
	q, _ := newTestQueue(t, 10)

	added := q.Add("step_run", "run-1", ReasonWriteFailed, errDBDown, noop)
	if added.ID == "" {
		t.Fatal("Expected an entry ID")
	}

	got, err := q.Get(added.ID)
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if got.RunID != "run-1" || got.Kind != "step_run" || got.Reason != ReasonWriteFailed {
		t.Errorf("Unexpected entry: %+v", got)
	}
	if got.Error != errDBDown.Error() {
		t.Errorf("Expected error %q, got %q", errDBDown, got.Error)
	}
	if got.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", got.Attempts)
	}

	if _, err := q.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestQueue_List(t *testing.T) {
	q, _ := newTestQueue(t, 10)

	first := q.Add("step_run", "run-1", ReasonWriteFailed, errDBDown, noop)
	q.Add("output_links", "run-1", ReasonQueueFull, nil, noop)
	q.Add("step_run", "run-2", ReasonWriteFailed, errDBDown, noop)

	tests := []struct {
		name    string
		filters Filters
		want    int
	}{
		{"all", Filters{}, 3},
		{"by run", Filters{RunID: "run-1"}, 2},
		{"by kind", Filters{Kind: "step_run"}, 2},
		{"by run and kind", Filters{RunID: "run-1", Kind: "output_links"}, 1},
		{"limit", Filters{Limit: 2}, 2},
		{"offset", Filters{Offset: 2}, 1},
		{"offset past end", Filters{Offset: 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.List(tt.filters); len(got) != tt.want {
				t.Errorf("Expected %d entries, got %d", tt.want, len(got))
			}
		})
	}

	if all := q.List(Filters{}); all[0].ID != first.ID {
		t.Errorf("Expected oldest entry first, got %s", all[0].ID)
	}
}

func TestQueue_EvictsOldest(t *testing.T) {
	q, hook := newTestQueue(t, 2)

	first := q.Add("step_run", "run-1", ReasonWriteFailed, nil, noop)
	q.Add("step_run", "run-2", ReasonWriteFailed, nil, noop)
	q.Add("step_run", "run-3", ReasonWriteFailed, nil, noop)

	if q.Count() != 2 {
		t.Errorf("Expected 2 entries, got %d", q.Count())
	}
	if _, err := q.Get(first.ID); !errors.Is(err, ErrNotFound) {
		t.Error("Expected the oldest entry to be evicted")
	}
	if q.Evicted() != 1 {
		t.Errorf("Expected 1 eviction, got %d", q.Evicted())
	}
	if len(hook.Entries) != 1 {
		t.Errorf("Expected one eviction warning, got %d", len(hook.Entries))
	}
}

func TestQueue_Replay(t *testing.T) {
	ctx := context.Background()

	t.Run("success removes the entry", func(t *testing.T) {
		q, _ := newTestQueue(t, 10)
		calls := 0
		e := q.Add("step_run", "run-1", ReasonWriteFailed, errDBDown, func(context.Context) error {
			calls++
			return nil
		})

		if err := q.Replay(ctx, e.ID); err != nil {
			t.Fatalf("Replay failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected the write to run once, got %d", calls)
		}
		if q.Count() != 0 {
			t.Errorf("Expected an empty queue, got %d", q.Count())
		}
	})

	t.Run("failure keeps the entry", func(t *testing.T) {
		q, _ := newTestQueue(t, 10)
		e := q.Add("step_run", "run-1", ReasonWriteFailed, errDBDown, func(context.Context) error {
			return errors.New("still down")
		})

		if err := q.Replay(ctx, e.ID); err == nil {
			t.Fatal("Expected replay to fail")
		}
		got, err := q.Get(e.ID)
		if err != nil {
			t.Fatalf("Entry should remain: %v", err)
		}
		if got.Attempts != 2 || got.Error != "still down" || got.LastReplayAt == nil {
			t.Errorf("Unexpected entry after failed replay: %+v", got)
		}
	})

	t.Run("unknown entry", func(t *testing.T) {
		q, _ := newTestQueue(t, 10)
		if err := q.Replay(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent replay is rejected", func(t *testing.T) {
		q, _ := newTestQueue(t, 10)
		started := make(chan struct{})
		release := make(chan struct{})
		e := q.Add("step_run", "run-1", ReasonWriteFailed, nil, func(context.Context) error {
			close(started)
			<-release
			return nil
		})

		done := make(chan error)
		go func() { done <- q.Replay(ctx, e.ID) }()
		<-started

		if err := q.Replay(ctx, e.ID); !errors.Is(err, ErrReplayInProgress) {
			t.Errorf("Expected ErrReplayInProgress, got %v", err)
		}
		close(release)
		if err := <-done; err != nil {
			t.Errorf("First replay failed: %v", err)
		}
	})
}

func TestQueue_ReplayAll(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	q.Add("step_run", "run-1", ReasonWriteFailed, nil, noop)
	q.Add("step_run", "run-2", ReasonWriteFailed, nil, func(context.Context) error { return errDBDown })
	q.Add("step_run", "run-3", ReasonQueueFull, nil, noop)

	replayed, err := q.ReplayAll(context.Background())
	if replayed != 2 {
		t.Errorf("Expected 2 replayed, got %d", replayed)
	}
	if !errors.Is(err, errDBDown) {
		t.Errorf("Expected the failed replay in the error, got %v", err)
	}
	if q.Count() != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", q.Count())
	}
}

func TestQueue_DeleteAndPurge(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	e := q.Add("step_run", "run-1", ReasonWriteFailed, nil, noop)
	q.Add("step_run", "run-2", ReasonWriteFailed, nil, noop)

	if err := q.Delete(e.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := q.Delete(e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	if n := q.Purge(); n != 1 {
		t.Errorf("Expected 1 purged, got %d", n)
	}
	if q.Count() != 0 {
		t.Errorf("Expected an empty queue, got %d", q.Count())
	}
}
