package gateway

import "sync"

// programSet assigns monotonic program ids within one faculty process.
// Ids start at 1 and never repeat for the lifetime of the gateway; the
// name→id mapping is persisted through the datastore on first use.
type programSet struct {
	mu   sync.Mutex
	ids  map[string]int
	next int
}

func newProgramSet() *programSet {
	return &programSet{ids: make(map[string]int), next: 1}
}

// id returns the program id for name, allocating the next id on first
// appearance. The second return reports whether the id is new.
func (p *programSet) id(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[name]; ok {
		return id, false
	}
	id := p.next
	p.next++
	p.ids[name] = id
	return id, true
}
