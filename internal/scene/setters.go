package scene

func (n *Node) Position() Vec3       { return n.position }
func (n *Node) Center() Vec3         { return n.center }
func (n *Node) Rotation() Vec3       { return n.rotation }
func (n *Node) Scale() Vec3          { return n.scale }
func (n *Node) Color() Color         { return n.color }
func (n *Node) Opacity() float32     { return n.opacity }
func (n *Node) BlendMode() BlendMode { return n.blend }
func (n *Node) ClipBounds() Rect     { return n.clip }
func (n *Node) Flags() Flags         { return n.flags }

// Size returns width, height and depth.
func (n *Node) Size() (w, h, d float32) { return n.width, n.height, n.depth }

// touch marks bit, or withdraws it when the group is back at its sent
// value.
func (n *Node) touch(bit DirtyBit, atSent bool) {
	if atSent && !n.pinned.Has(bit) {
		n.dirty = n.dirty.Without(bit)
		return
	}
	n.markDirty(Bits(bit))
}

// Touch marks an extension bit, or withdraws it when atSent reports the
// group is back at the value last written to a diff.
func (n *Node) Touch(bit DirtyBit, atSent bool) {
	n.touch(bit, atSent)
}

func (n *Node) SetPosition(p Vec3) {
	if n.position.nearly(p) {
		return
	}
	n.position = p
	n.touch(PositionDirty, p.nearly(n.sent.position))
}

// SetPosition2 sets x and y, keeping z.
func (n *Node) SetPosition2(x, y float32) {
	n.SetPosition(Vec3{X: x, Y: y, Z: n.position.Z})
}

func (n *Node) SetCenter(c Vec3) {
	if n.center.nearly(c) {
		return
	}
	n.center = c
	n.touch(CenterDirty, c.nearly(n.sent.center))
}

func (n *Node) SetRotation(r Vec3) {
	if n.rotation.nearly(r) {
		return
	}
	n.rotation = r
	n.touch(RotationDirty, r.nearly(n.sent.rotation))
}

func (n *Node) SetScale(s Vec3) {
	if n.scale.nearly(s) {
		return
	}
	n.scale = s
	n.touch(ScaleDirty, s.nearly(n.sent.scale))
}

// SetSize sets width and height, keeping depth.
func (n *Node) SetSize(w, h float32) {
	if nearlyEqual(n.width, w) && nearlyEqual(n.height, h) {
		return
	}
	n.width, n.height = w, h
	n.touch(SizeDirty, n.sizeAtSent())
}

func (n *Node) sizeAtSent() bool {
	return nearlyEqual(n.width, n.sent.width) &&
		nearlyEqual(n.height, n.sent.height) &&
		nearlyEqual(n.depth, n.sent.depth)
}

func (n *Node) SetDepth(d float32) {
	if nearlyEqual(n.depth, d) {
		return
	}
	n.depth = d
	n.touch(SizeDirty, n.sizeAtSent())
}

func (n *Node) SetColor(c Color) {
	if n.color.nearly(c) {
		return
	}
	n.color = c
	n.touch(ColorDirty, c.nearly(n.sent.color))
}

func (n *Node) SetOpacity(o float32) {
	if nearlyEqual(n.opacity, o) {
		return
	}
	n.opacity = o
	n.touch(OpacityDirty, nearlyEqual(o, n.sent.opacity))
}

func (n *Node) SetBlendMode(b BlendMode) {
	if n.blend == b {
		return
	}
	n.blend = b
	n.touch(BlendDirty, b == n.sent.blend)
}

func (n *Node) SetClipBounds(r Rect) {
	if n.clip.nearly(r) {
		return
	}
	n.clip = r
	n.touch(ClipDirty, r.nearly(n.sent.clip))
}

func (n *Node) hasFlag(f Flags) bool { return n.flags&f != 0 }

func (n *Node) Visible() bool        { return n.hasFlag(FlagVisible) }
func (n *Node) Transparent() bool    { return n.hasFlag(FlagTransparent) }
func (n *Node) Enabled() bool        { return n.hasFlag(FlagEnabled) }
func (n *Node) DrawSorted() bool     { return n.hasFlag(FlagDrawSorted) }
func (n *Node) Clipping() bool       { return n.hasFlag(FlagClip) }
func (n *Node) ShaderChildren() bool { return n.hasFlag(FlagShaderChildren) }
func (n *Node) RotateTouches() bool  { return n.hasFlag(FlagRotateTouches) }

// setFlag toggles f and marks the flags group when the replicated word
// changed.
func (n *Node) setFlag(f Flags, on bool) {
	next := n.flags &^ f
	if on {
		next |= f
	}
	if next == n.flags {
		return
	}
	n.flags = next
	if f&^localFlags != 0 {
		n.touch(FlagsDirty, next&^localFlags == n.sent.flags&^localFlags)
	}
}

func (n *Node) SetVisible(on bool)        { n.setFlag(FlagVisible, on) }
func (n *Node) SetTransparent(on bool)    { n.setFlag(FlagTransparent, on) }
func (n *Node) SetEnabled(on bool)        { n.setFlag(FlagEnabled, on) }
func (n *Node) SetDrawSorted(on bool)     { n.setFlag(FlagDrawSorted, on) }
func (n *Node) SetClipping(on bool)       { n.setFlag(FlagClip, on) }
func (n *Node) SetShaderChildren(on bool) { n.setFlag(FlagShaderChildren, on) }

// SetRotateTouches is local to this process.
func (n *Node) SetRotateTouches(on bool) { n.setFlag(FlagRotateTouches, on) }

// SetNoReplication keeps n and its subtree off the wire from the next write
// on. Consumers that already mirror the subtree keep their copy. Turning it
// back off resends the whole subtree.
func (n *Node) SetNoReplication(on bool) {
	if n.hasFlag(FlagNoReplication) == on {
		return
	}
	n.setFlag(FlagNoReplication, on)
	if !on {
		n.markSubtreeDirty(AllDirty())
		if n.parent != nil {
			n.parent.markDirty(Bits(SortOrderDirty))
		}
	}
}
