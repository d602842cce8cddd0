package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/target/docflow/internal/core"
)

// ErrPoolClosed is returned for work submitted after Close.
var ErrPoolClosed = errors.New("extraction pool closed")

// DefaultExtractionWorkers sizes the pool when no worker count is configured.
const DefaultExtractionWorkers = 4

type extractTask struct {
	ctx  context.Context
	path string
	data []byte
	out  chan extractResult
}

type extractResult struct {
	text string
	err  error
}

// ExtractionPool runs text extraction on a fixed set of goroutines so CPU heavy parsing
// never occupies an LLM slot. It implements core.Extractor.
type ExtractionPool struct {
	extractor core.Extractor
	tasks     chan extractTask
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewExtractionPool starts workers goroutines around extractor.
func NewExtractionPool(extractor core.Extractor, workers int, logger *slog.Logger) (*ExtractionPool, error) {
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if workers <= 0 {
		workers = DefaultExtractionWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &ExtractionPool{
		extractor: extractor,
		tasks:     make(chan extractTask, workers*4),
		logger:    logger.With("component", "extraction_pool"),
	}
	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p, nil
}

func (p *ExtractionPool) work() {
	defer p.wg.Done()
	for t := range p.tasks {
		if err := t.ctx.Err(); err != nil {
			t.out <- extractResult{err: err}
			continue
		}
		t.out <- p.run(t)
	}
}

func (p *ExtractionPool) run(t extractTask) (res extractResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(t.ctx, "extractor panic", "path", t.path, "panic", r)
			res = extractResult{err: fmt.Errorf("extractor panic: %v", r)}
		}
	}()
	text, err := p.extractor.Extract(t.ctx, t.path, t.data)
	return extractResult{text: text, err: err}
}

// Extract queues the work and waits for a worker to finish it or ctx to end.
func (p *ExtractionPool) Extract(ctx context.Context, path string, data []byte) (string, error) {
	t := extractTask{ctx: ctx, path: path, data: data, out: make(chan extractResult, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return "", ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return "", ctx.Err()
	}

	select {
	case res := <-t.out:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops accepting work and waits for queued tasks to drain.
func (p *ExtractionPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

var _ core.Extractor = (*ExtractionPool)(nil)
