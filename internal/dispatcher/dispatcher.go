// Package dispatcher manages worker fan-out over the crawl frontier.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawlrules/internal/crawler"
	"github.com/JakeFAU/crawlrules/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every one of them has stopped,
// which happens once the queue is closed and drained or the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// EnqueueAll adds items in order, stopping at the first failure.
func (d *Dispatcher) EnqueueAll(ctx context.Context, items []crawler.QueueItem) error {
	for _, item := range items {
		if err := d.Enqueue(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Close signals that no more work will be enqueued.
func (d *Dispatcher) Close() {
	d.queue.Close()
}
