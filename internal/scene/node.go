package scene

import (
	"fmt"

	"github.com/danmuck/scenecast/internal/protocol/wire"
)

// Extension is the type-specific half of a node variant. It extends the core
// attribute codec without modifying it.
type Extension interface {
	// Attach binds the extension to its node. Called once, at construction.
	Attach(n *Node)
	// WriteAttributes appends the type-specific attributes whose dirty bits
	// are set in mask, in a fixed order.
	WriteAttributes(mask DirtyState, buf *wire.Buffer) error
	// ReadAttribute decodes one attribute the core does not know. It returns
	// handled=false for tags it does not know either.
	ReadAttribute(tag AttrTag, buf *wire.Buffer) (handled bool, err error)
}

// SentTracker is implemented by extensions that keep a copy of their
// attributes as last written to a diff. MarkSent is called after each diff
// record for the node is appended. Setters compare against that copy and
// call Node.Touch so a change reverted before the next diff is not sent.
type SentTracker interface {
	MarkSent()
}

// Node is one entity in the replicated tree.
//
// parent is a back-reference only; children is the ownership edge and its
// order is replicated state.
type Node struct {
	tree     *Tree
	id       NodeID
	typeTag  TypeTag
	parent   *Node
	children []*Node
	ext      Extension
	dirty    DirtyState
	released bool

	attributes
	// sent is the core attribute state as of the last diff that carried
	// this node. A setter that returns a group to its sent value withdraws
	// the group's dirty bit unless the bit is pinned.
	sent   attributes
	pinned DirtyState

	// order is the last child order received in the current stream,
	// reapplied when a child attaches later in the same stream.
	order []NodeID
}

// attributes is the core attribute set. Each group maps to one dirty bit.
type attributes struct {
	width    float32
	height   float32
	depth    float32
	flags    Flags
	position Vec3
	center   Vec3
	rotation Vec3
	scale    Vec3
	color    Color
	opacity  float32
	blend    BlendMode
	clip     Rect
}

func defaultAttributes() attributes {
	return attributes{
		flags:   FlagVisible | FlagTransparent,
		depth:   1,
		scale:   Vec3{X: 1, Y: 1, Z: 1},
		color:   Color{R: 1, G: 1, B: 1},
		opacity: 1,
		blend:   BlendNormal,
	}
}

func newNode(tree *Tree, tag TypeTag) *Node {
	return &Node{
		tree:       tree,
		typeTag:    tag,
		attributes: defaultAttributes(),
		sent:       defaultAttributes(),
	}
}

func (n *Node) ID() NodeID           { return n.id }
func (n *Node) TypeTag() TypeTag     { return n.typeTag }
func (n *Node) Tree() *Tree          { return n.tree }
func (n *Node) Parent() *Node        { return n.parent }
func (n *Node) Extension() Extension { return n.ext }
func (n *Node) Dirty() DirtyState    { return n.dirty }
func (n *Node) Released() bool       { return n.released }
func (n *Node) ChildCount() int      { return len(n.children) }
func (n *Node) ParentID() NodeID     { return idOf(n.parent) }

func (n *Node) IsRoot() bool { return n.tree != nil && n.tree.root == n }

// IsReplicated reports whether n is allowed on the wire. Ancestors are not
// consulted.
func (n *Node) IsReplicated() bool { return n.flags&FlagNoReplication == 0 }

// TypeName resolves n's tag through its tree's registry.
func (n *Node) TypeName() string {
	name, _ := n.tree.registry.Name(n.tree.role, n.typeTag)
	return name
}

// Children returns a copy of the child list in draw order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildIDs returns the child ids in draw order.
func (n *Node) ChildIDs() []NodeID {
	out := make([]NodeID, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c.id)
	}
	return out
}

func idOf(n *Node) NodeID {
	if n == nil {
		return EmptyID
	}
	return n.id
}

// MarkDirty sets bits on n and the child bit on every ancestor.
func (n *Node) MarkDirty(bits ...DirtyBit) {
	n.markDirty(Bits(bits...))
}

func (n *Node) markDirty(d DirtyState) {
	n.dirty = n.dirty.Merge(d)
	n.markAncestors()
}

// markAncestors sets the child bit up the parent chain, stopping at the
// first ancestor that already carries it.
func (n *Node) markAncestors() {
	for p := n.parent; p != nil; p = p.parent {
		if p.dirty.Has(ChildDirty) {
			break
		}
		p.dirty.Mark(ChildDirty)
	}
}

// markSubtreeDirty sets and pins d on n and every descendant.
func (n *Node) markSubtreeDirty(d DirtyState) {
	n.markDirty(d)
	n.pinned = n.pinned.Merge(d)
	for _, c := range n.children {
		c.markSubtreeDirty(d)
	}
}

// IsAncestorOf reports whether n is a strict ancestor of other.
func (n *Node) IsAncestorOf(other *Node) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// AddChild appends c to n's children, detaching it from its old parent.
func (n *Node) AddChild(c *Node) error {
	if err := n.checkChild(c); err != nil {
		return err
	}
	if c.parent == n {
		return nil
	}
	if old := c.parent; old != nil {
		old.detachChild(c)
		old.markDirty(Bits(SortOrderDirty))
	}
	n.children = append(n.children, c)
	c.parent = n
	c.markDirty(Bits(ParentDirty))
	return nil
}

func (n *Node) checkChild(c *Node) error {
	if c == nil || c == n {
		return ErrInvalidChild
	}
	if c.tree != n.tree {
		return ErrForeignNode
	}
	if c.released || n.released {
		return ErrReleased
	}
	if c.IsAncestorOf(n) {
		return fmt.Errorf("%w: %d is an ancestor of %d", ErrInvalidChild, c.id, n.id)
	}
	if c.IsRoot() {
		return fmt.Errorf("%w: root cannot be a child", ErrInvalidChild)
	}
	return nil
}

// RemoveChild detaches c if it is a child of n.
func (n *Node) RemoveChild(c *Node) {
	if c == nil || c.parent != n {
		return
	}
	n.detachChild(c)
	c.markDirty(Bits(ParentDirty))
}

// Remove detaches n from its parent. The node stays indexed and can be
// attached again.
func (n *Node) Remove() {
	if n.parent != nil {
		n.parent.RemoveChild(n)
	}
}

// detachChild unlinks c without marking anything.
func (n *Node) detachChild(c *Node) {
	for i, child := range n.children {
		if child == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			break
		}
	}
	c.parent = nil
}

// attachChild links c under n without marking anything, then reapplies any
// order received earlier in the current stream.
func (n *Node) attachChild(c *Node) {
	if c.parent == n {
		return
	}
	if c.parent != nil {
		c.parent.detachChild(c)
	}
	n.children = append(n.children, c)
	c.parent = n
	if len(n.order) > 0 {
		n.applyOrder(n.order)
	}
}

// applyOrder moves every listed child that exists to the back, in list
// order. Unknown ids are dropped.
func (n *Node) applyOrder(order []NodeID) {
	for _, id := range order {
		for i, c := range n.children {
			if c.id != id {
				continue
			}
			n.children = append(n.children[:i], n.children[i+1:]...)
			n.children = append(n.children, c)
			break
		}
	}
}

// SetChildOrder reorders n's children to follow ids. Ids that are not
// children are ignored; unlisted children keep their relative order in
// front.
func (n *Node) SetChildOrder(ids []NodeID) {
	before := n.ChildIDs()
	n.applyOrder(ids)
	if !sameIDs(before, n.ChildIDs()) {
		n.markDirty(Bits(SortOrderDirty))
	}
}

// SendChildToFront moves c to the end of the draw order.
func (n *Node) SendChildToFront(c *Node) {
	if c == nil || c.parent != n || len(n.children) == 0 || n.children[len(n.children)-1] == c {
		return
	}
	n.detachChild(c)
	n.children = append(n.children, c)
	c.parent = n
	n.markDirty(Bits(SortOrderDirty))
}

// SendChildToBack moves c to the start of the draw order.
func (n *Node) SendChildToBack(c *Node) {
	if c == nil || c.parent != n || n.children[0] == c {
		return
	}
	n.detachChild(c)
	n.children = append([]*Node{c}, n.children...)
	c.parent = n
	n.markDirty(Bits(SortOrderDirty))
}

func (n *Node) SendToFront() {
	if n.parent != nil {
		n.parent.SendChildToFront(n)
	}
}

func (n *Node) SendToBack() {
	if n.parent != nil {
		n.parent.SendChildToBack(n)
	}
}

// Walk visits n and its descendants depth-first, parents before children.
// Returning false from fn skips that node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

func sameIDs(a, b []NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
