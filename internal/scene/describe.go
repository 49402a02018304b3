package scene

// Describer is implemented by extensions that expose their attributes to
// Describe.
type Describer interface {
	Describe() map[string]any
}

// NodeView is a read-only, JSON-friendly copy of one node and its subtree.
type NodeView struct {
	ID         NodeID         `json:"id"`
	Type       string         `json:"type"`
	Parent     NodeID         `json:"parent"`
	Dirty      string         `json:"dirty,omitempty"`
	Size       [3]float32     `json:"size"`
	Flags      Flags          `json:"flags"`
	Position   Vec3           `json:"position"`
	Center     Vec3           `json:"center"`
	Rotation   Vec3           `json:"rotation"`
	Scale      Vec3           `json:"scale"`
	Color      Color          `json:"color"`
	Opacity    float32        `json:"opacity"`
	Blend      BlendMode      `json:"blend"`
	Clip       Rect           `json:"clip"`
	Local      bool           `json:"local,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Children   []NodeView     `json:"children,omitempty"`
}

// Describe copies n. When deep is set the copy includes the subtree.
func (n *Node) Describe(deep bool) NodeView {
	v := NodeView{
		ID:       n.id,
		Type:     n.TypeName(),
		Parent:   idOf(n.parent),
		Size:     [3]float32{n.width, n.height, n.depth},
		Flags:    n.flags,
		Position: n.position,
		Center:   n.center,
		Rotation: n.rotation,
		Scale:    n.scale,
		Color:    n.color,
		Opacity:  n.opacity,
		Blend:    n.blend,
		Clip:     n.clip,
		Local:    !n.IsReplicated(),
	}
	if !n.dirty.IsEmpty() {
		v.Dirty = n.dirty.String()
	}
	if d, ok := n.ext.(Describer); ok {
		v.Attributes = d.Describe()
	}
	if deep {
		for _, c := range n.children {
			v.Children = append(v.Children, c.Describe(true))
		}
	}
	return v
}

// Describe copies the whole tree from the root.
func (t *Tree) Describe() NodeView {
	return t.root.Describe(true)
}
