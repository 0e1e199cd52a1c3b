// Package publish fans committed document versions out to external sinks
// such as the git mirror, the object archive and the search index.
package publish

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dochub/api/internal/metrics"
	"dochub/api/internal/store"
)

// Sink receives committed versions. Calls for one sink arrive one at a time
// in commit order.
type Sink interface {
	Name() string
	PublishVersion(ctx context.Context, doc store.Document, version store.DocumentVersion) error
}

type job struct {
	doc     store.Document
	version store.DocumentVersion
}

type worker struct {
	sink  Sink
	queue chan job
}

// Publisher delivers versions to every sink in the background. A failing or
// slow sink never affects the write that produced the version.
type Publisher struct {
	workers []*worker
	timeout time.Duration
	logger  *slog.Logger

	pending sync.WaitGroup
	running sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

const queueSize = 256

func New(timeout time.Duration, logger *slog.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &Publisher{timeout: timeout, logger: logger}
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		w := &worker{sink: sink, queue: make(chan job, queueSize)}
		p.workers = append(p.workers, w)
		p.running.Add(1)
		go p.run(w)
	}
	return p
}

// Sinks names the configured sinks.
func (p *Publisher) Sinks() []string {
	names := make([]string, 0, len(p.workers))
	for _, w := range p.workers {
		names = append(names, w.sink.Name())
	}
	return names
}

// Publish queues version for every sink. When a sink's queue is full the
// version is dropped for that sink and counted as a failure.
func (p *Publisher) Publish(doc store.Document, version store.DocumentVersion) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, w := range p.workers {
		p.pending.Add(1)
		select {
		case w.queue <- job{doc: doc, version: version}:
		default:
			p.pending.Done()
			p.fail(w.sink.Name(), doc, version, errQueueFull)
		}
	}
}

func (p *Publisher) run(w *worker) {
	defer p.running.Done()
	for j := range w.queue {
		p.deliver(w.sink, j)
		p.pending.Done()
	}
}

func (p *Publisher) deliver(sink Sink, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := sink.PublishVersion(ctx, j.doc, j.version); err != nil {
		p.fail(sink.Name(), j.doc, j.version, err)
		return
	}
	p.logger.Debug("version published", "sink", sink.Name(), "document_id", j.doc.ID, "version", j.version.VersionNumber)
}

func (p *Publisher) fail(sink string, doc store.Document, version store.DocumentVersion, err error) {
	metrics.PublishFailures.WithLabelValues(sink).Inc()
	p.logger.Error("publish version failed",
		"sink", sink,
		"document_id", doc.ID,
		"version", version.VersionNumber,
		"error", err,
	)
}

// Wait blocks until every queued version has been delivered or failed.
func (p *Publisher) Wait() {
	p.pending.Wait()
}

// Close stops accepting versions, drains the queues and stops the workers.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.queue)
	}
	p.mu.Unlock()
	p.running.Wait()
}

type publishError string

func (e publishError) Error() string { return string(e) }

const errQueueFull = publishError("publish queue full")
