package scene

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/scenecast/internal/protocol/wire"
)

// WriteStats summarizes one traversal. Failed counts diff records dropped
// because an attribute could not be encoded; those nodes stay dirty.
type WriteStats struct {
	Records int `json:"records"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Bytes   int `json:"bytes"`
}

// attributeBits are the dirty bits that put a record on the wire. ChildDirty
// alone only steers the traversal.
func attributeBits(mask DirtyState) DirtyState {
	return mask.Without(ChildDirty)
}

// writeSubtree appends n's record, when it has anything to say, and then
// every replicated child in order. Children are visited whether or not n
// carries ChildDirty. In full mode every attribute is written, dirty state
// is left alone and an encode error aborts the traversal. In diff mode a
// record that fails to encode is cut from buf, the node keeps its dirty
// state and its ancestors are marked again so the next diff retries it.
func (n *Node) writeSubtree(buf *wire.Buffer, full bool, stats *WriteStats) error {
	if !n.IsReplicated() {
		stats.Skipped++
		return nil
	}

	mask := n.dirty
	if full {
		mask = AllDirty()
	}
	failed := false
	if !attributeBits(mask).IsEmpty() {
		start := buf.Len()
		if err := n.writeRecord(mask, buf); err != nil {
			if full {
				return err
			}
			buf.Truncate(start)
			stats.Failed++
			failed = true
			log.Error().Err(err).Uint32("node", uint32(n.id)).Msg("scene.Node.writeSubtree record dropped")
		} else {
			stats.Records++
			if !full {
				n.sent = n.attributes
				if st, ok := n.ext.(SentTracker); ok {
					st.MarkSent()
				}
			}
		}
	}
	if !full && !failed {
		n.dirty.Clear()
		n.pinned.Clear()
	}
	for _, c := range n.children {
		if err := c.writeSubtree(buf, full, stats); err != nil {
			return err
		}
	}
	if failed {
		n.markAncestors()
	}
	return nil
}

func (n *Node) writeRecord(mask DirtyState, buf *wire.Buffer) error {
	buf.WriteUint8(uint8(n.typeTag))
	buf.WriteUint8(IDMarker)
	buf.WriteUint32(uint32(n.id))

	if mask.Has(ParentDirty) {
		buf.WriteUint8(uint8(AttrParent))
		buf.WriteUint32(uint32(idOf(n.parent)))
	}
	if mask.Has(SizeDirty) {
		buf.WriteUint8(uint8(AttrSize))
		buf.WriteFloat32(n.width)
		buf.WriteFloat32(n.height)
		buf.WriteFloat32(n.depth)
	}
	if mask.Has(FlagsDirty) {
		buf.WriteUint8(uint8(AttrFlags))
		buf.WriteUint32(uint32(n.flags &^ localFlags))
	}
	if mask.Has(PositionDirty) {
		writeVec3(buf, AttrPosition, n.position)
	}
	if mask.Has(CenterDirty) {
		writeVec3(buf, AttrCenter, n.center)
	}
	if mask.Has(RotationDirty) {
		writeVec3(buf, AttrRotation, n.rotation)
	}
	if mask.Has(ScaleDirty) {
		writeVec3(buf, AttrScale, n.scale)
	}
	if mask.Has(ColorDirty) {
		buf.WriteUint8(uint8(AttrColor))
		buf.WriteFloat32(n.color.R)
		buf.WriteFloat32(n.color.G)
		buf.WriteFloat32(n.color.B)
	}
	if mask.Has(OpacityDirty) {
		buf.WriteUint8(uint8(AttrOpacity))
		buf.WriteFloat32(n.opacity)
	}
	if mask.Has(BlendDirty) {
		buf.WriteUint8(uint8(AttrBlend))
		buf.WriteUint8(uint8(n.blend))
	}
	if mask.Has(ClipDirty) {
		buf.WriteUint8(uint8(AttrClip))
		buf.WriteFloat32(n.clip.X1)
		buf.WriteFloat32(n.clip.Y1)
		buf.WriteFloat32(n.clip.X2)
		buf.WriteFloat32(n.clip.Y2)
	}
	if mask.Has(SortOrderDirty) {
		n.writeSortOrder(buf)
	}
	if n.ext != nil {
		if err := n.ext.WriteAttributes(mask, buf); err != nil {
			return fmt.Errorf("scene: node %d extension: %w", n.id, err)
		}
	}
	buf.WriteUint8(Terminator)
	return nil
}

// writeSortOrder sends the full ordered list of replicated children.
func (n *Node) writeSortOrder(buf *wire.Buffer) {
	ids := make([]NodeID, 0, len(n.children))
	for _, c := range n.children {
		if c.IsReplicated() {
			ids = append(ids, c.id)
		}
	}
	buf.WriteUint8(uint8(AttrSortOrder))
	buf.WriteInt32(int32(len(ids)))
	for _, id := range ids {
		buf.WriteUint32(uint32(id))
	}
}

func writeVec3(buf *wire.Buffer, tag AttrTag, v Vec3) {
	buf.WriteUint8(uint8(tag))
	buf.WriteFloat32(v.X)
	buf.WriteFloat32(v.Y)
	buf.WriteFloat32(v.Z)
}

func readVec3(buf *wire.Buffer, v *Vec3) error {
	return buf.ReadFloat32s(&v.X, &v.Y, &v.Z)
}

// readAttributes consumes attribute pairs up to and including the
// terminator, applying them to n without marking anything dirty.
func (n *Node) readAttributes(buf *wire.Buffer, stats *ReadStats) error {
	for {
		raw, err := buf.ReadUint8()
		if err != nil {
			return malformed(err)
		}
		if raw == Terminator {
			return nil
		}
		tag := AttrTag(raw)
		if err := n.readAttribute(tag, buf, stats); err != nil {
			return err
		}
	}
}

func (n *Node) readAttribute(tag AttrTag, buf *wire.Buffer, stats *ReadStats) error {
	var err error
	switch tag {
	case AttrParent:
		var id uint32
		if id, err = buf.ReadUint32(); err == nil {
			n.applyParent(NodeID(id), stats)
		}
	case AttrSize:
		err = buf.ReadFloat32s(&n.width, &n.height, &n.depth)
	case AttrFlags:
		var v uint32
		if v, err = buf.ReadUint32(); err == nil {
			n.flags = Flags(v)&^localFlags | n.flags&localFlags
		}
	case AttrPosition:
		err = readVec3(buf, &n.position)
	case AttrCenter:
		err = readVec3(buf, &n.center)
	case AttrRotation:
		err = readVec3(buf, &n.rotation)
	case AttrScale:
		err = readVec3(buf, &n.scale)
	case AttrColor:
		err = buf.ReadFloat32s(&n.color.R, &n.color.G, &n.color.B)
	case AttrOpacity:
		n.opacity, err = buf.ReadFloat32()
	case AttrBlend:
		var v uint8
		if v, err = buf.ReadUint8(); err == nil {
			n.blend = BlendMode(v)
		}
	case AttrClip:
		err = buf.ReadFloat32s(&n.clip.X1, &n.clip.Y1, &n.clip.X2, &n.clip.Y2)
	case AttrSortOrder:
		return n.readSortOrder(buf)
	default:
		handled := false
		if n.ext != nil {
			handled, err = n.ext.ReadAttribute(tag, buf)
		}
		if err == nil && !handled {
			return fmt.Errorf("%w: node %d: unknown attribute %d", ErrMalformed, n.id, tag)
		}
	}
	if err != nil {
		return malformed(err)
	}
	return nil
}

// applyParent attaches n under the node with id, or detaches it for
// EmptyID. An id that is not indexed yet leaves n where it is.
func (n *Node) applyParent(id NodeID, stats *ReadStats) {
	if id == EmptyID {
		if n.parent != nil {
			n.parent.detachChild(n)
		}
		return
	}
	p, ok := n.tree.index.Get(id)
	if !ok {
		stats.UnresolvedParents++
		log.Warn().
			Uint32("node", uint32(n.id)).
			Uint32("parent", uint32(id)).
			Msg("scene.Node.readAttribute unknown parent")
		return
	}
	if p == n || n.IsRoot() || n.IsAncestorOf(p) {
		log.Warn().
			Uint32("node", uint32(n.id)).
			Uint32("parent", uint32(id)).
			Msg("scene.Node.readAttribute parent rejected")
		return
	}
	p.attachChild(n)
}

func (n *Node) readSortOrder(buf *wire.Buffer) error {
	count, err := buf.ReadInt32()
	if err != nil {
		return malformed(err)
	}
	if count < 0 || count > MaxSortOrder {
		return fmt.Errorf("%w: node %d: sort order count %d", ErrMalformed, n.id, count)
	}
	order := make([]NodeID, 0, count)
	for i := int32(0); i < count; i++ {
		id, err := buf.ReadUint32()
		if err != nil {
			return malformed(err)
		}
		order = append(order, NodeID(id))
	}
	n.order = order
	n.tree.pendingOrders[n.id] = n
	n.applyOrder(order)
	return nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}
