package scene

import (
	"sort"
	"sync/atomic"
)

// NodeID identifies a node within one process. EmptyID means "no node".
type NodeID uint32

const (
	EmptyID NodeID = 0
	// RootID is the first id every tree allocates, so producer and consumer
	// roots share an id without a record.
	RootID NodeID = 1
)

// IDAllocator issues strictly increasing node ids. Ids are never recycled;
// on wraparound the allocator skips EmptyID.
type IDAllocator struct {
	last atomic.Uint32
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

func (a *IDAllocator) Next() NodeID {
	for {
		id := NodeID(a.last.Add(1))
		if id != EmptyID {
			return id
		}
	}
}

// Last returns the most recently issued id, or EmptyID.
func (a *IDAllocator) Last() NodeID {
	return NodeID(a.last.Load())
}

// Index maps ids to live nodes. Every process keeps one per tree so records
// can resolve "my parent is node 42".
type Index struct {
	nodes map[NodeID]*Node
}

func NewIndex() *Index {
	return &Index{nodes: make(map[NodeID]*Node)}
}

// Insert registers n under its id. Re-inserting the same node is a no-op.
func (x *Index) Insert(n *Node) error {
	if n == nil || n.id == EmptyID {
		return ErrEmptyID
	}
	if prev, ok := x.nodes[n.id]; ok && prev != n {
		return ErrDuplicateID
	}
	x.nodes[n.id] = n
	return nil
}

// Remove drops id. Removing an unknown id is a no-op.
func (x *Index) Remove(id NodeID) {
	delete(x.nodes, id)
}

func (x *Index) Get(id NodeID) (*Node, bool) {
	if id == EmptyID {
		return nil, false
	}
	n, ok := x.nodes[id]
	return n, ok
}

func (x *Index) Len() int { return len(x.nodes) }

// IDs returns every indexed id in ascending order.
func (x *Index) IDs() []NodeID {
	out := make([]NodeID, 0, len(x.nodes))
	for id := range x.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
