package sse

import (
	"testing"

	"github.com/google/uuid"

	"stockledger_backend/internal/tasks/domain"
)

func TestSubscribeReceivesPublishedSnapshots(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	taskID := uuid.New()
	ch, cancel := hub.Subscribe(taskID)
	defer cancel()

	hub.Publish(domain.Task{ID: taskID, Status: domain.StatusRunning, Step: "hashing"})
	hub.Publish(domain.Task{ID: taskID, Status: domain.StatusSucceeded})

	first := <-ch
	if first.Status != domain.StatusRunning || first.Step != "hashing" {
		t.Fatalf("expected running snapshot first, got %+v", first)
	}
	second := <-ch
	if second.Status != domain.StatusSucceeded {
		t.Fatalf("expected succeeded snapshot, got %+v", second)
	}
}

func TestPublishTargetsOnlyTheTasksWatchers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	watched := uuid.New()
	other := uuid.New()

	ch, cancel := hub.Subscribe(watched)
	defer cancel()

	hub.Publish(domain.Task{ID: other, Status: domain.StatusRunning})
	hub.Publish(domain.Task{ID: watched, Status: domain.StatusSucceeded})

	got := <-ch
	if got.ID != watched {
		t.Fatalf("expected snapshot for watched task, got %s", got.ID)
	}
	if len(ch) != 0 {
		t.Fatalf("expected no further snapshots, got %d buffered", len(ch))
	}
}

func TestSlowWatcherDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	taskID := uuid.New()
	ch, cancel := hub.Subscribe(taskID)
	defer cancel()

	for i := 0; i < clientBuffer+10; i++ {
		hub.Publish(domain.Task{ID: taskID, ProcessedFiles: i})
	}

	if len(ch) != clientBuffer {
		t.Fatalf("expected exactly %d buffered snapshots, got %d", clientBuffer, len(ch))
	}
	first := <-ch
	if first.ProcessedFiles != 0 {
		t.Fatalf("expected oldest snapshot retained, got %d", first.ProcessedFiles)
	}
}

func TestCancelRemovesWatcher(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	taskID := uuid.New()
	ch, cancel := hub.Subscribe(taskID)

	if got := hub.Watchers(taskID); got != 1 {
		t.Fatalf("expected 1 watcher, got %d", got)
	}

	cancel()
	cancel() // second call is a no-op

	if got := hub.Watchers(taskID); got != 0 {
		t.Fatalf("expected 0 watchers after cancel, got %d", got)
	}
	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}

	// Publishing to a task with no watchers must not panic.
	hub.Publish(domain.Task{ID: taskID})
}

func TestCloseReleasesEveryWatcher(t *testing.T) {
	hub := NewHub()

	taskID := uuid.New()
	ch, cancel := hub.Subscribe(taskID)

	hub.Close()
	if _, open := <-ch; open {
		t.Fatal("expected channel closed after hub close")
	}

	// Cancel after close must not double-close.
	cancel()

	late, lateCancel := hub.Subscribe(taskID)
	defer lateCancel()
	if _, open := <-late; open {
		t.Fatal("expected closed channel for subscription after hub close")
	}
	hub.Publish(domain.Task{ID: taskID})
}
