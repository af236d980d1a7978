package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRestart is returned by a worker that wants an immediate respawn with
// freshly loaded state. It models the original process design where a child
// exiting 0 was restarted instantly to pick up new credentials, while a
// non-zero exit was restarted after a backoff.
var ErrRestart = errors.New("worker requested restart")

// WorkerFunc represents a function that can be supervised
type WorkerFunc func(ctx context.Context) error

// WorkerConfig holds configuration for individual workers
type WorkerConfig struct {
	Name           string
	MaxRetries     int // 0 = unlimited
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// WorkerStatus represents the current status of a worker
type WorkerStatus string

const (
	StatusStopped  WorkerStatus = "stopped"
	StatusRunning  WorkerStatus = "running"
	StatusRetrying WorkerStatus = "retrying"
	StatusFailed   WorkerStatus = "failed"
)

type worker struct {
	config     WorkerConfig
	workerFunc WorkerFunc
	retries    int
	lastError  error
	status     WorkerStatus
	mu         sync.RWMutex
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
}

// Supervisor manages long-running workers with restart-on-failure.
type Supervisor struct {
	workers map[string]*worker
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
}

// NewSupervisor creates a new supervisor instance
func NewSupervisor(logger *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		workers: make(map[string]*worker),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddWorker adds a new worker to be supervised
func (s *Supervisor) AddWorker(config WorkerConfig, workerFunc WorkerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot add worker while supervisor is running")
	}
	if _, exists := s.workers[config.Name]; exists {
		return fmt.Errorf("worker %s already exists", config.Name)
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = 5 * time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 60 * time.Second
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = 2.0
	}

	s.workers[config.Name] = &worker{
		config:     config,
		workerFunc: workerFunc,
		status:     StatusStopped,
	}
	s.logger.Info("Worker added", zap.String("name", config.Name))
	return nil
}

// Start starts all workers.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	s.started = true

	s.logger.Info("Starting supervisor", zap.Int("workers", len(s.workers)))
	for name, w := range s.workers {
		s.wg.Add(1)
		go s.runWorker(name, w)
	}
	return nil
}

// Stop stops all workers gracefully.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("supervisor not started")
	}
	s.mu.Unlock()

	s.logger.Info("Stopping supervisor")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All workers stopped")
	case <-time.After(30 * time.Second):
		s.logger.Warn("Timeout waiting for workers to stop")
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// Wait blocks until every worker has returned for good.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// runWorker runs a single worker with restart semantics: ErrRestart
// respawns immediately with the retry budget reset, any other error
// respawns after an exponential backoff, nil return stops the worker.
func (s *Supervisor) runWorker(name string, w *worker) {
	defer s.wg.Done()

	logger := s.logger.With(zap.String("worker", name))

	for {
		select {
		case <-s.ctx.Done():
			w.setStatus(StatusStopped)
			logger.Info("Worker stopped by supervisor")
			return
		default:
		}

		if w.config.MaxRetries > 0 && w.retries >= w.config.MaxRetries {
			w.setStatus(StatusFailed)
			logger.Error("Worker failed after max retries",
				zap.Int("retries", w.retries), zap.Error(w.lastError))
			return
		}

		w.setStatus(StatusRunning)
		err := s.execute(w, logger)

		switch {
		case err == nil:
			w.setStatus(StatusStopped)
			logger.Info("Worker completed")
			return

		case errors.Is(err, ErrRestart):
			w.retries = 0
			logger.Info("Worker requested restart, respawning immediately")
			continue

		case errors.Is(err, context.Canceled):
			w.setStatus(StatusStopped)
			logger.Info("Worker cancelled")
			return

		default:
			w.lastError = err
			w.retries++
			w.setStatus(StatusRetrying)

			backoff := s.calculateBackoff(w.retries, w.config)
			logger.Error("Worker failed, retrying after backoff",
				zap.Error(err),
				zap.Int("retries", w.retries),
				zap.Duration("backoff", backoff))

			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				w.setStatus(StatusStopped)
				return
			}
		}
	}
}

func (s *Supervisor) execute(w *worker, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker panicked", zap.Any("panic", r))
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return w.workerFunc(s.ctx)
}

func (s *Supervisor) calculateBackoff(retries int, config WorkerConfig) time.Duration {
	backoff := config.InitialBackoff
	for i := 0; i < retries-1; i++ {
		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			return config.MaxBackoff
		}
	}
	return backoff
}

// GetWorkerStatus returns the status of a specific worker
func (s *Supervisor) GetWorkerStatus(name string) (WorkerStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.workers[name]
	if !exists {
		return "", fmt.Errorf("worker %s not found", name)
	}
	w.mu.RLock()
	status := w.status
	w.mu.RUnlock()
	return status, nil
}
