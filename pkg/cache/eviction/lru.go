package eviction

// lruNode is a doubly-linked list node. The list runs most-recent first
// between two sentinel nodes.
type lruNode struct {
	key  string
	prev *lruNode
	next *lruNode
}

type lruPolicy struct {
	nodes map[string]*lruNode
	head  *lruNode // head.next is the most recently used
	tail  *lruNode // tail.prev is the least recently used
}

func newLRU() *lruPolicy {
	head := &lruNode{}
	tail := &lruNode{}
	head.next = tail
	tail.prev = head
	return &lruPolicy{
		nodes: make(map[string]*lruNode),
		head:  head,
		tail:  tail,
	}
}

func (p *lruPolicy) OnGet(key string) {
	n, ok := p.nodes[key]
	if !ok {
		return
	}
	p.unlink(n)
	p.pushFront(n)
}

func (p *lruPolicy) OnPut(key string) {
	if n, ok := p.nodes[key]; ok {
		p.unlink(n)
		p.pushFront(n)
		return
	}
	n := &lruNode{key: key}
	p.nodes[key] = n
	p.pushFront(n)
}

func (p *lruPolicy) Remove(key string) {
	n, ok := p.nodes[key]
	if !ok {
		return
	}
	p.unlink(n)
	delete(p.nodes, key)
}

func (p *lruPolicy) Evict() string {
	victim := p.tail.prev
	if victim == p.head {
		return ""
	}
	p.unlink(victim)
	delete(p.nodes, victim.key)
	return victim.key
}

func (p *lruPolicy) Len() int {
	return len(p.nodes)
}

func (p *lruPolicy) unlink(n *lruNode) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

func (p *lruPolicy) pushFront(n *lruNode) {
	n.next = p.head.next
	n.prev = p.head
	p.head.next.prev = n
	p.head.next = n
}
