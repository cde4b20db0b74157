package script

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RunnerPool keeps between min and max runners alive. Runners are expensive to
// create so idle ones are reused and only trimmed back to min periodically.
type RunnerPool[R any] struct {
	pool        chan R
	newRunner   func() R
	activeCount int
	activeMu    sync.Mutex
	maxSize     int
	minSize     int
}

func NewRunnerPool[R any](ctx context.Context, newRunner func() R, maxSize int, minSize int) (*RunnerPool[R], error) {
	if maxSize < minSize || maxSize < 1 {
		return nil, fmt.Errorf("invalid runner pool size min %d max %d", minSize, maxSize)
	}
	p := &RunnerPool[R]{
		pool:      make(chan R, maxSize),
		newRunner: newRunner,
		maxSize:   maxSize,
		minSize:   minSize,
	}
	for range minSize {
		p.pool <- newRunner()
		p.activeCount++
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.trim()
			case <-ctx.Done():
				return
			}
		}
	}()
	return p, nil
}

// trim drops idle runners above the minimal pool size.
func (p *RunnerPool[R]) trim() {
	for len(p.pool) > p.minSize {
		select {
		case <-p.pool:
			p.activeMu.Lock()
			p.activeCount--
			p.activeMu.Unlock()
		default:
			return
		}
	}
}

// Get returns an idle runner, creates a new one while below max size or waits
// for a runner to be returned.
func (p *RunnerPool[R]) Get(ctx context.Context) (R, error) {
	select {
	case r := <-p.pool:
		return r, nil
	default:
	}
	p.activeMu.Lock()
	if p.activeCount < p.maxSize {
		p.activeCount++
		p.activeMu.Unlock()
		return p.newRunner(), nil
	}
	p.activeMu.Unlock()
	select {
	case r := <-p.pool:
		return r, nil
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (p *RunnerPool[R]) Put(r R) {
	select {
	case p.pool <- r:
	default:
		p.activeMu.Lock()
		p.activeCount--
		p.activeMu.Unlock()
	}
}

// Active returns the number of runners created and not yet discarded.
func (p *RunnerPool[R]) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return p.activeCount
}
