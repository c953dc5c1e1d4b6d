package ccapi

import (
	"context"
	"sync"
	"sync/atomic"
)

// Gate serializes camera access: writes are exclusive, reads share. A read
// that arrives while a write is waiting queues behind it, so a steady stream
// of reads cannot starve a capture.
type Gate struct {
	rw      sync.RWMutex
	waiting atomic.Int32
	writing atomic.Bool
	readers atomic.Int32
}

// NewGate creates an idle gate.
func NewGate() *Gate {
	return &Gate{}
}

// Lock acquires exclusive access. It blocks until the gate is free or ctx
// is done. The returned unlock function MUST be called exactly once.
func (g *Gate) Lock(ctx context.Context) (unlock func(), err error) {
	return g.acquire(ctx, true)
}

// RLock acquires shared access with the same contract as Lock.
func (g *Gate) RLock(ctx context.Context) (unlock func(), err error) {
	return g.acquire(ctx, false)
}

func (g *Gate) acquire(ctx context.Context, exclusive bool) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock, release := g.rw.RLock, g.rw.RUnlock
	if exclusive {
		lock, release = g.rw.Lock, g.rw.Unlock
	}

	g.waiting.Add(1)
	acquired := make(chan struct{})
	go func() {
		lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		g.waiting.Add(-1)
		g.mark(exclusive, 1)
		var once sync.Once
		return func() {
			once.Do(func() {
				g.mark(exclusive, -1)
				release()
			})
		}, nil

	case <-ctx.Done():
		// The goroutine still owns a pending acquisition; hand the lock
		// straight back once it lands so nothing stays held.
		go func() {
			<-acquired
			g.waiting.Add(-1)
			release()
		}()
		return nil, ctx.Err()
	}
}

func (g *Gate) mark(exclusive bool, delta int32) {
	if exclusive {
		g.writing.Store(delta > 0)
		return
	}
	g.readers.Add(delta)
}

// GateStats is a point-in-time view of the gate.
type GateStats struct {
	Writing bool  `json:"writing"`
	Readers int32 `json:"readers"`
	Waiting int32 `json:"waiting"`
}

// Stats reports current holders and waiters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Writing: g.writing.Load(),
		Readers: g.readers.Load(),
		Waiting: g.waiting.Load(),
	}
}
