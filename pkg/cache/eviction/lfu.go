package eviction

type lfuNode struct {
	key  string
	freq int
}

// lfuPolicy keeps one bucket per access frequency plus the current minimum
// frequency. Each key lives in exactly one bucket; moving a key between
// buckets is a remove-then-insert pair so a key is never referenced by two
// buckets at once.
type lfuPolicy struct {
	nodes   map[string]*lfuNode
	buckets map[int]map[string]*lfuNode
	minFreq int
}

func newLFU() *lfuPolicy {
	return &lfuPolicy{
		nodes:   make(map[string]*lfuNode),
		buckets: make(map[int]map[string]*lfuNode),
	}
}

func (p *lfuPolicy) OnGet(key string) {
	n, ok := p.nodes[key]
	if !ok {
		return
	}
	p.promote(n)
}

func (p *lfuPolicy) OnPut(key string) {
	if n, ok := p.nodes[key]; ok {
		p.promote(n)
		return
	}
	n := &lfuNode{key: key, freq: 1}
	p.nodes[key] = n
	p.bucket(1)[key] = n
	p.minFreq = 1
}

func (p *lfuPolicy) Remove(key string) {
	n, ok := p.nodes[key]
	if !ok {
		return
	}
	p.dropFromBucket(n)
	delete(p.nodes, key)
}

func (p *lfuPolicy) Evict() string {
	bucket, ok := p.buckets[p.minFreq]
	if !ok || len(bucket) == 0 {
		p.recomputeMin()
		bucket, ok = p.buckets[p.minFreq]
		if !ok || len(bucket) == 0 {
			return ""
		}
	}

	// Arbitrary key from the minimum-frequency bucket.
	var victim string
	for key := range bucket {
		victim = key
		break
	}

	delete(bucket, victim)
	if len(bucket) == 0 {
		delete(p.buckets, p.minFreq)
	}
	delete(p.nodes, victim)
	return victim
}

func (p *lfuPolicy) Len() int {
	return len(p.nodes)
}

// promote migrates a node to the next frequency bucket.
func (p *lfuPolicy) promote(n *lfuNode) {
	old := p.buckets[n.freq]
	delete(old, n.key)
	if len(old) == 0 {
		delete(p.buckets, n.freq)
		if p.minFreq == n.freq {
			p.minFreq++
		}
	}
	n.freq++
	p.bucket(n.freq)[n.key] = n
}

func (p *lfuPolicy) dropFromBucket(n *lfuNode) {
	bucket := p.buckets[n.freq]
	delete(bucket, n.key)
	if len(bucket) == 0 {
		delete(p.buckets, n.freq)
	}
}

func (p *lfuPolicy) bucket(freq int) map[string]*lfuNode {
	b, ok := p.buckets[freq]
	if !ok {
		b = make(map[string]*lfuNode)
		p.buckets[freq] = b
	}
	return b
}

// recomputeMin rescans bucket indexes after the minimum bucket vanished
// without a replacement insert.
func (p *lfuPolicy) recomputeMin() {
	p.minFreq = 0
	for freq := range p.buckets {
		if p.minFreq == 0 || freq < p.minFreq {
			p.minFreq = freq
		}
	}
}
