package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	GenerationJobsQueue      = "complyer:jobs:generation"
	GenerationJobsProcessing = "complyer:jobs:processing"
	GenerationJobsCompleted  = "complyer:jobs:completed"
	GenerationJobsFailed     = "complyer:jobs:failed"
	WorkerHeartbeatKey       = "complyer:workers:heartbeat"
)

const maxAttempts = 3

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Queue struct {
	client *redis.Client
}

func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

type JobType string

const (
	JobGenerateControls JobType = "generate_controls"
	JobMapControls      JobType = "map_controls"
)

// Job is one unit of asynchronous work triggered by a detected regulatory
// update.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Type      JobType   `json:"type"`
	UpdateID  uuid.UUID `json:"update_id,omitempty"`
	ControlID uuid.UUID `json:"control_id,omitempty"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	score := float64(time.Now().Unix()) - float64(job.Priority*1000)

	if err := q.client.ZAdd(ctx, GenerationJobsQueue, redis.Z{
		Score:  score,
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	return nil
}

// EnqueueGeneration implements monitor.Enqueuer.
func (q *Queue) EnqueueGeneration(ctx context.Context, updateID uuid.UUID) error {
	return q.Enqueue(ctx, &Job{
		Type:     JobGenerateControls,
		UpdateID: updateID,
		Priority: 1,
	})
}

func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	results, err := q.client.ZPopMin(ctx, GenerationJobsQueue, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeuing job: %w", err)
	}

	if len(results) == 0 {
		return nil, nil // No jobs available
	}

	var job Job
	if err := json.Unmarshal([]byte(results[0].Member.(string)), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job: %w", err)
	}

	if err := q.client.SAdd(ctx, GenerationJobsProcessing, results[0].Member.(string)).Err(); err != nil {
		q.client.ZAdd(ctx, GenerationJobsQueue, redis.Z{
			Score:  results[0].Score,
			Member: results[0].Member,
		})
		return nil, fmt.Errorf("marking job as processing: %w", err)
	}

	return &job, nil
}

func (q *Queue) Complete(ctx context.Context, job *Job, success bool) error {
	data, _ := json.Marshal(job)

	q.client.SRem(ctx, GenerationJobsProcessing, string(data))

	targetSet := GenerationJobsCompleted
	if !success {
		targetSet = GenerationJobsFailed
	}

	if err := q.client.SAdd(ctx, targetSet, string(data)).Err(); err != nil {
		return fmt.Errorf("marking job complete: %w", err)
	}

	return nil
}

// Requeue puts a failed job back with backoff, or parks it in the failed
// set after maxAttempts.
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	data, _ := json.Marshal(job)
	q.client.SRem(ctx, GenerationJobsProcessing, string(data))

	job.Attempts++
	if job.Attempts >= maxAttempts {
		return q.Complete(ctx, job, false)
	}

	newData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	backoff := time.Duration(job.Attempts*30) * time.Second
	score := float64(time.Now().Add(backoff).Unix())

	if err := q.client.ZAdd(ctx, GenerationJobsQueue, redis.Z{
		Score:  score,
		Member: string(newData),
	}).Err(); err != nil {
		return fmt.Errorf("requeueing job: %w", err)
	}
	return nil
}

func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return q.client.HSet(ctx, WorkerHeartbeatKey, workerID, time.Now().Unix()).Err()
}

func (q *Queue) ActiveWorkers(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	beats, err := q.client.HGetAll(ctx, WorkerHeartbeatKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading heartbeats: %w", err)
	}

	cutoff := time.Now().Add(-staleAfter).Unix()
	var workers []string
	for id, tsStr := range beats {
		var ts int64
		if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
			continue
		}
		if ts >= cutoff {
			workers = append(workers, id)
		}
	}
	return workers, nil
}

// QueueDepth reports pending job counts for dashboards.
func (q *Queue) QueueDepth(ctx context.Context) (pending, processing int64, err error) {
	pending, err = q.client.ZCard(ctx, GenerationJobsQueue).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.client.SCard(ctx, GenerationJobsProcessing).Result()
	return pending, processing, err
}
