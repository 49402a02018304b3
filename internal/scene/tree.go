package scene

import "fmt"

// Tree is one process's copy of the scene: the root, the id index and the
// allocator that numbers locally created nodes.
type Tree struct {
	role     Role
	registry *Registry
	index    *Index
	ids      *IDAllocator
	root     *Node

	// pendingOrders holds nodes that received a child order during the
	// current ReadStream call.
	pendingOrders map[NodeID]*Node
}

// NewTree builds a tree for role with a basic root at RootID. The registry
// must already hold the basic type for role.
func NewTree(role Role, reg *Registry) (*Tree, error) {
	if !role.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrInvalidType)
	}
	tag, ok := reg.Lookup(role, BasicTypeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q not registered for %s", ErrUnknownType, BasicTypeName, role)
	}

	t := &Tree{
		role:          role,
		registry:      reg,
		index:         NewIndex(),
		ids:           NewIDAllocator(),
		pendingOrders: make(map[NodeID]*Node),
	}
	root, err := t.newLocal(tag)
	if err != nil {
		return nil, err
	}
	if root.id != RootID {
		return nil, fmt.Errorf("%w: got %d", ErrRootUnexpected, root.id)
	}
	if role == RoleConsumer {
		root.dirty.Clear()
	}
	t.root = root
	return t, nil
}

func (t *Tree) Role() Role          { return t.role }
func (t *Tree) Registry() *Registry { return t.registry }
func (t *Tree) Root() *Node         { return t.root }
func (t *Tree) Len() int            { return t.index.Len() }

// Find resolves id through the index.
func (t *Tree) Find(id NodeID) (*Node, bool) { return t.index.Get(id) }

// IDs lists every indexed node id in ascending order.
func (t *Tree) IDs() []NodeID { return t.index.IDs() }

// construct builds a detached node and binds its extension. It does not
// assign an id.
func (t *Tree) construct(tag TypeTag, factory ExtensionFactory) *Node {
	n := newNode(t, tag)
	if factory != nil {
		n.ext = factory()
		if n.ext != nil {
			n.ext.Attach(n)
		}
	}
	return n
}

// newLocal builds, numbers and indexes a node, marking every bit dirty.
func (t *Tree) newLocal(tag TypeTag) (*Node, error) {
	e, ok := t.registry.entry(t.role, tag)
	if !ok {
		return nil, fmt.Errorf("%w: %d (%s)", ErrUnknownType, tag, t.role)
	}
	n := t.construct(tag, e.factory)
	n.id = t.ids.Next()
	if err := t.index.Insert(n); err != nil {
		return nil, err
	}
	n.dirty = AllDirty()
	return n, nil
}

// NewNode creates a node of type tag and attaches it under parent. A nil
// parent leaves it detached; it will not be replicated until attached
// somewhere under the root.
func (t *Tree) NewNode(tag TypeTag, parent *Node) (*Node, error) {
	if t.role != RoleProducer {
		return nil, fmt.Errorf("%w: %s trees only create nodes from the wire", ErrInvalidRole, t.role)
	}
	n, err := t.newLocal(tag)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		if err := parent.AddChild(n); err != nil {
			t.index.Remove(n.id)
			return nil, err
		}
	}
	return n, nil
}

// NewNodeOf is NewNode by registered type name.
func (t *Tree) NewNodeOf(name string, parent *Node) (*Node, error) {
	tag, ok := t.registry.Lookup(t.role, name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnknownType, name, t.role)
	}
	return t.NewNode(tag, parent)
}

// Release detaches n and drops it and its subtree from the index. Peers are
// not told; they keep their copies.
func (t *Tree) Release(n *Node) error {
	if n == nil || n.tree != t {
		return ErrForeignNode
	}
	if n == t.root {
		return fmt.Errorf("%w: cannot release root", ErrInvalidChild)
	}
	n.Remove()
	n.Walk(func(x *Node) bool {
		t.index.Remove(x.id)
		delete(t.pendingOrders, x.id)
		x.released = true
		return true
	})
	return nil
}

// MarkTreeDirty marks every node dirty so the next diff resends the whole
// tree.
func (t *Tree) MarkTreeDirty() {
	t.root.markSubtreeDirty(AllDirty())
}

// HasPendingChanges reports whether the next diff would carry anything.
func (t *Tree) HasPendingChanges() bool {
	return !t.root.dirty.IsEmpty()
}

// Orphans lists indexed nodes that are neither the root nor attached under
// it, in ascending id order.
func (t *Tree) Orphans() []NodeID {
	out := make([]NodeID, 0)
	for _, id := range t.index.IDs() {
		n, _ := t.index.Get(id)
		if n == t.root {
			continue
		}
		top := n
		for top.parent != nil {
			top = top.parent
		}
		if top != t.root {
			out = append(out, id)
		}
	}
	return out
}
