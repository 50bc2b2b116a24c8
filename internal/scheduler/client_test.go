package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

type stubWorkerConfig struct{ redisURL string }

func (c stubWorkerConfig) GetRedisURL() string              { return c.redisURL }
func (c stubWorkerConfig) GetWorkerConcurrency() int        { return 1 }
func (c stubWorkerConfig) GetStaleTaskAge() time.Duration   { return time.Minute }
func (c stubWorkerConfig) GetReaperInterval() time.Duration { return time.Minute }

func TestNewClientRequiresRedisURL(t *testing.T) {
	if _, err := NewClient(stubWorkerConfig{}); err == nil {
		t.Fatal("expected an error without a redis url")
	}
}

func TestNewClientRejectsMalformedRedisURL(t *testing.T) {
	if _, err := NewClient(stubWorkerConfig{redisURL: "not a url"}); err == nil {
		t.Fatal("expected an error for a malformed redis url")
	}
}

func TestClientEnqueuesIngestTasks(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := NewClient(stubWorkerConfig{redisURL: "redis://" + srv.Addr()})
	if err != nil {
		t.Fatalf("expected a client, got %v", err)
	}
	defer func() { _ = client.Close() }()

	taskID := uuid.New()
	tenantID := uuid.New()

	if err := client.EnqueueIngestBatch(context.Background(), taskID, tenantID); err != nil {
		t.Fatalf("enqueue batch: %v", err)
	}
	if err := client.EnqueueIngestResume(context.Background(), taskID, tenantID); err != nil {
		t.Fatalf("enqueue resume: %v", err)
	}

	pending, err := srv.List("asynq:{default}:pending")
	if err != nil {
		t.Fatalf("read pending queue: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(pending))
	}

	msg := srv.HGet("asynq:{default}:t:"+pending[0], "msg")
	if !strings.Contains(msg, taskID.String()) {
		t.Fatal("expected the stored task to carry the task id")
	}
	if !strings.Contains(msg, tenantID.String()) {
		t.Fatal("expected the stored task to carry the tenant id")
	}
}
