package pipeline

import "github.com/MeKo-Tech/docstream/internal/document"

// flight is one running computation for a document hash. The leader fills
// entry or err before closing done; both stay nil when the leader gave up.
type flight struct {
	done    chan struct{}
	entry   *document.Entry
	err     error
	waiters int
}

// join returns the flight for hash and whether the caller leads it.
func (p *Pipeline) join(hash string) (*flight, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.inflight[hash]; ok {
		f.waiters++
		return f, false
	}
	f := &flight{done: make(chan struct{})}
	p.inflight[hash] = f
	return f, true
}

// leave drops a follower that stopped waiting.
func (p *Pipeline) leave(f *flight) {
	p.mu.Lock()
	f.waiters--
	p.mu.Unlock()
}

// land publishes the leader's outcome and wakes the followers.
func (p *Pipeline) land(hash string, f *flight, entry *document.Entry, err error) {
	p.mu.Lock()
	f.entry, f.err = entry, err
	delete(p.inflight, hash)
	p.mu.Unlock()
	close(f.done)
}

func (p *Pipeline) waiting(hash string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.inflight[hash]; ok {
		return f.waiters
	}
	return 0
}
