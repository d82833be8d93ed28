package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/complyer/complyer/internal/generator"
)

// Worker drains the generation queue and runs the control generator against
// detected regulatory updates.
type Worker struct {
	id        string
	queue     *Queue
	generator *generator.Service
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue     *Queue
	Generator *generator.Service
	Logger    *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:        workerID,
		queue:     cfg.Queue,
		generator: cfg.Generator,
		logger:    logger.With("worker_id", workerID),
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("worker starting")

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.wg.Add(1)
	go w.processLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopping")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.WorkerHeartbeat(w.ctx, w.id); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(w.ctx)
		if err != nil {
			w.logger.Error("dequeue failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if job == nil {
			time.Sleep(2 * time.Second)
			continue
		}

		if err := w.process(w.ctx, job); err != nil {
			w.logger.Error("job failed", "job_id", job.ID, "type", job.Type, "error", err)
			if reqErr := w.queue.Requeue(w.ctx, job); reqErr != nil {
				w.logger.Error("requeue failed", "job_id", job.ID, "error", reqErr)
			}
			continue
		}

		if err := w.queue.Complete(w.ctx, job, true); err != nil {
			w.logger.Error("completing job failed", "job_id", job.ID, "error", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobGenerateControls:
		result, err := w.generator.GenerateControlsFromUpdate(ctx, job.UpdateID)
		if err != nil {
			return err
		}
		w.logger.Info("generated controls from update",
			"job_id", job.ID,
			"update_id", job.UpdateID,
			"controls", len(result.Controls),
			"status", result.Status)
		return nil
	case JobMapControls:
		mappings, err := w.generator.MapToExistingControls(ctx, job.ControlID)
		if err != nil {
			return err
		}
		w.logger.Info("mapped control to catalog",
			"job_id", job.ID,
			"control_id", job.ControlID,
			"mappings", len(mappings))
		return nil
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}
