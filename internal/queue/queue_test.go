package queue

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

// skipIfNoRedis skips the test when no redis instance is reachable.
func skipIfNoRedis(t *testing.T) *Queue {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	q, err := New(Config{Addr: addr, DB: 15})
	if err != nil {
		t.Skipf("Skipping test, redis not available: %v", err)
		return nil
	}

	q.client.Del(context.Background(),
		GenerationJobsQueue,
		GenerationJobsProcessing,
		GenerationJobsCompleted,
		GenerationJobsFailed,
	)
	return q
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := skipIfNoRedis(t)
	if q == nil {
		return
	}
	defer q.Close()

	ctx := context.Background()
	updateID := uuid.New()

	if err := q.EnqueueGeneration(ctx, updateID); err != nil {
		t.Fatalf("EnqueueGeneration failed: %v", err)
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job, got nil")
	}
	if job.Type != JobGenerateControls {
		t.Errorf("expected generation job, got %s", job.Type)
	}
	if job.UpdateID != updateID {
		t.Errorf("expected update id %s, got %s", updateID, job.UpdateID)
	}

	if err := q.Complete(ctx, job, true); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	pending, processing, err := q.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("QueueDepth failed: %v", err)
	}
	if pending != 0 || processing != 0 {
		t.Errorf("expected drained queue, got pending=%d processing=%d", pending, processing)
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := skipIfNoRedis(t)
	if q == nil {
		return
	}
	defer q.Close()

	ctx := context.Background()

	low := &Job{Type: JobGenerateControls, UpdateID: uuid.New(), Priority: 0}
	high := &Job{Type: JobGenerateControls, UpdateID: uuid.New(), Priority: 5}

	if err := q.Enqueue(ctx, low); err != nil {
		t.Fatalf("Enqueue low failed: %v", err)
	}
	if err := q.Enqueue(ctx, high); err != nil {
		t.Fatalf("Enqueue high failed: %v", err)
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if first == nil || first.UpdateID != high.UpdateID {
		t.Error("expected high priority job first")
	}

	second, _ := q.Dequeue(ctx)
	_ = q.Complete(ctx, first, true)
	if second != nil {
		_ = q.Complete(ctx, second, true)
	}
}
