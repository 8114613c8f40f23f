package eviction

// fifoEntry stamps each queued key with the sequence of the insert that
// produced it, so a key that was removed and re-inserted is only evictable
// from its newest position.
type fifoEntry struct {
	key string
	seq uint64
}

// fifoPolicy evicts in insertion order. Removed keys leave ghost entries in
// the queue; Evict skips any entry whose sequence no longer matches the
// live one, and the queue is compacted once ghosts outnumber live keys.
type fifoPolicy struct {
	queue   []fifoEntry
	members map[string]uint64
	nextSeq uint64
}

func newFIFO() *fifoPolicy {
	return &fifoPolicy{
		members: make(map[string]uint64),
	}
}

func (p *fifoPolicy) OnGet(string) {
	// Access order is irrelevant to FIFO.
}

func (p *fifoPolicy) OnPut(key string) {
	if _, ok := p.members[key]; ok {
		// Updates keep their original queue position.
		return
	}
	p.nextSeq++
	p.members[key] = p.nextSeq
	p.queue = append(p.queue, fifoEntry{key: key, seq: p.nextSeq})
}

func (p *fifoPolicy) Remove(key string) {
	if _, ok := p.members[key]; !ok {
		return
	}
	delete(p.members, key)
	p.maybeCompact()
}

func (p *fifoPolicy) Evict() string {
	for len(p.queue) > 0 {
		e := p.queue[0]
		p.queue = p.queue[1:]
		if seq, ok := p.members[e.key]; ok && seq == e.seq {
			delete(p.members, e.key)
			return e.key
		}
	}
	return ""
}

func (p *fifoPolicy) Len() int {
	return len(p.members)
}

func (p *fifoPolicy) maybeCompact() {
	if len(p.queue) < 16 || len(p.queue) < 2*len(p.members) {
		return
	}
	compacted := p.queue[:0]
	for _, e := range p.queue {
		if seq, ok := p.members[e.key]; ok && seq == e.seq {
			compacted = append(compacted, e)
		}
	}
	p.queue = compacted
}
