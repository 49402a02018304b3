package scene

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/scenecast/internal/protocol/wire"
)

const labelBit = FirstCustomBit
const attrLabel = FirstCustomAttr

// labelExt is a minimal extension carrying one string.
type labelExt struct {
	node *Node
	text string
}

func (l *labelExt) Attach(n *Node) { l.node = n }

func (l *labelExt) SetText(s string) {
	if l.text == s {
		return
	}
	l.text = s
	l.node.MarkDirty(labelBit)
}

func (l *labelExt) WriteAttributes(mask DirtyState, buf *wire.Buffer) error {
	if !mask.Has(labelBit) {
		return nil
	}
	buf.WriteUint8(uint8(attrLabel))
	return buf.WriteString(l.text)
}

func (l *labelExt) ReadAttribute(tag AttrTag, buf *wire.Buffer) (bool, error) {
	if tag != attrLabel {
		return false, nil
	}
	s, err := buf.ReadString()
	if err != nil {
		return true, err
	}
	l.text = s
	return true, nil
}

func (l *labelExt) Describe() map[string]any {
	return map[string]any{"text": l.text}
}

type fixture struct {
	reg   *Registry
	basic TypeTag
	label TypeTag
	prod  *Tree
	cons  *Tree
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{reg: NewRegistry()}
	for _, role := range []Role{RoleProducer, RoleConsumer} {
		basic, err := RegisterBasic(f.reg, role)
		require.NoError(t, err)
		label, err := f.reg.Register(role, "label", func() Extension { return &labelExt{} })
		require.NoError(t, err)
		f.basic, f.label = basic, label
	}
	var err error
	f.prod, err = NewTree(RoleProducer, f.reg)
	require.NoError(t, err)
	f.cons, err = NewTree(RoleConsumer, f.reg)
	require.NoError(t, err)
	return f
}

// sync writes one diff from the producer and applies it to the consumer.
func (f *fixture) sync(t *testing.T) (WriteStats, ReadStats) {
	t.Helper()
	buf := wire.NewBuffer(256)
	ws, err := f.prod.WriteDiff(buf)
	require.NoError(t, err)
	rs, err := f.cons.ReadStream(wire.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	return ws, rs
}

func (f *fixture) node(t *testing.T, parent *Node) *Node {
	t.Helper()
	n, err := f.prod.NewNode(f.basic, parent)
	require.NoError(t, err)
	return n
}

// skipTo allocates detached filler nodes until the next producer id is id.
func (f *fixture) skipTo(t *testing.T, id NodeID) {
	t.Helper()
	for f.prod.ids.Last()+1 < id {
		f.node(t, nil)
	}
}

func consumerNode(t *testing.T, tree *Tree, id NodeID) *Node {
	t.Helper()
	n, ok := tree.Find(id)
	require.True(t, ok, "node %d missing", id)
	return n
}

// record appends one hand-built record.
func record(buf *wire.Buffer, tag TypeTag, id NodeID, attrs func(b *wire.Buffer)) {
	buf.WriteUint8(uint8(tag))
	buf.WriteUint8(IDMarker)
	buf.WriteUint32(uint32(id))
	if attrs != nil {
		attrs(buf)
	}
	buf.WriteUint8(Terminator)
}

func parentAttr(id NodeID) func(b *wire.Buffer) {
	return func(b *wire.Buffer) {
		b.WriteUint8(uint8(AttrParent))
		b.WriteUint32(uint32(id))
	}
}

func sortOrderAttr(ids ...NodeID) func(b *wire.Buffer) {
	return func(b *wire.Buffer) {
		b.WriteUint8(uint8(AttrSortOrder))
		b.WriteInt32(int32(len(ids)))
		for _, id := range ids {
			b.WriteUint32(uint32(id))
		}
	}
}
