package virtualisp

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrNotRunning = errors.New("not running")
	ErrQueueFull  = errors.New("queue full")
)

// pump feeds pushed items to a handler on its own goroutine. Pushes never
// block; when the buffer is full the item is dropped.
type pump[T any] struct {
	name    string
	size    int
	handle  func(T)
	logger  *zap.Logger
	mu      sync.Mutex
	ch      chan T
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func newPump[T any](name string, size int, handle func(T), logger *zap.Logger) *pump[T] {
	return &pump[T]{
		name:   name,
		size:   size,
		handle: handle,
		logger: logger,
	}
}

func (p *pump[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ch = make(chan T, p.size)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.wg.Add(1)
	go p.loop(p.ctx, p.ch)
}

// Stop cancels the loop and waits for the item in flight. Queued items are
// discarded.
func (p *pump[T]) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *pump[T]) Push(v T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrNotRunning
	}
	select {
	case p.ch <- v:
		return nil
	default:
		p.logger.Warn("Dropping item, channel is full", zap.String("queue", p.name))
		return ErrQueueFull
	}
}

func (p *pump[T]) loop(ctx context.Context, ch <-chan T) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-ch:
			if ctx.Err() != nil {
				return
			}
			p.handle(v)
		}
	}
}
