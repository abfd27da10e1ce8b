// Package jobs runs periodic background maintenance, such as sweeping
// expired entries out of the query embedding cache.
package jobs

import (
	"context"
	"log"
	"time"
)

// Task defines the interface for one round of periodic maintenance
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a plain function to the Task interface
type TaskFunc func(ctx context.Context) error

// Run implements the Task interface
func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Worker represents a background maintenance worker
type Worker struct {
	name     string
	task     Task
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(name string, task Task, interval time.Duration) *Worker {
	return &Worker{
		name:     name,
		task:     task,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the worker's ticker loop
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("Worker %s started with interval: %v", w.name, w.interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %s stopped: context cancelled", w.name)
			return
		case <-w.stopChan:
			log.Printf("Worker %s stopped: stop signal received", w.name)
			return
		case <-ticker.C:
			if err := w.task.Run(ctx); err != nil {
				log.Printf("Worker %s: task failed: %v", w.name, err)
			}
		}
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Printf("Worker %s shutdown complete", w.name)
}
