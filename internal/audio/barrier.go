package audio

import "sync"

// barrier is a reusable rendezvous point: every participant blocks in Wait
// until all n have arrived. Sized at device count + 1 so the controlling
// goroutine releases together with the capture goroutines, which is what
// aligns the per-device sampling start.
type barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	count int
	gen   int
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until n participants have called Wait.
func (b *barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
