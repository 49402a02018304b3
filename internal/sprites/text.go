package sprites

import (
	"errors"

	"github.com/danmuck/scenecast/internal/protocol/wire"
	"github.com/danmuck/scenecast/internal/scene"
)

const (
	textDirty   = scene.FirstCustomBit
	fontDirty   = scene.FirstCustomBit + 1
	resizeDirty = scene.FirstCustomBit + 2

	attrText   = scene.FirstCustomAttr
	attrFont   = scene.FirstCustomAttr + 1
	attrResize = scene.FirstCustomAttr + 2
)

const DefaultFontSize float32 = 12

// Resize selects which dimensions a text node grows to fit its content.
type Resize uint8

const (
	ResizeWidth Resize = 1 << iota
	ResizeHeight
)

var ErrNotText = errors.New("sprites: node is not a text node")

// Text is the extension behind text nodes.
type Text struct {
	node *scene.Node

	textAttrs
	sent textAttrs
}

type textAttrs struct {
	text   string
	font   string
	size   float32
	resize Resize
	limitW float32
	limitH float32
}

func newText() *Text {
	a := textAttrs{size: DefaultFontSize}
	return &Text{textAttrs: a, sent: a}
}

// NewText creates a text node under parent.
func NewText(tree *scene.Tree, parent *scene.Node) (*Text, error) {
	n, err := tree.NewNodeOf(TextTypeName, parent)
	if err != nil {
		return nil, err
	}
	return TextOf(n)
}

// TextOf returns the text extension of n.
func TextOf(n *scene.Node) (*Text, error) {
	t, ok := n.Extension().(*Text)
	if !ok {
		return nil, ErrNotText
	}
	return t, nil
}

func (t *Text) Attach(n *scene.Node) { t.node = n }
func (t *Text) Node() *scene.Node    { return t.node }
func (t *Text) Text() string         { return t.text }
func (t *Text) Font() string         { return t.font }
func (t *Text) FontSize() float32    { return t.size }
func (t *Text) Resize() Resize       { return t.resize }

// ResizeLimit returns the maximum auto-resized width and height. Zero means
// unlimited.
func (t *Text) ResizeLimit() (w, h float32) { return t.limitW, t.limitH }

func (t *Text) SetText(s string) *Text {
	if t.text != s {
		t.text = s
		t.node.Touch(textDirty, s == t.sent.text)
	}
	return t
}

func (t *Text) SetFont(name string, size float32) *Text {
	if t.font != name || t.size != size {
		t.font, t.size = name, size
		t.node.Touch(fontDirty, name == t.sent.font && size == t.sent.size)
	}
	return t
}

func (t *Text) SetResize(r Resize) *Text {
	if t.resize != r {
		t.resize = r
		t.touchResize()
	}
	return t
}

func (t *Text) SetResizeLimit(w, h float32) *Text {
	if t.limitW != w || t.limitH != h {
		t.limitW, t.limitH = w, h
		t.touchResize()
	}
	return t
}

func (t *Text) touchResize() {
	t.node.Touch(resizeDirty, t.resize == t.sent.resize &&
		t.limitW == t.sent.limitW && t.limitH == t.sent.limitH)
}

func (t *Text) MarkSent() { t.sent = t.textAttrs }

func (t *Text) WriteAttributes(mask scene.DirtyState, buf *wire.Buffer) error {
	if mask.Has(textDirty) {
		buf.WriteUint8(uint8(attrText))
		if err := buf.WriteString(t.text); err != nil {
			return err
		}
	}
	if mask.Has(fontDirty) {
		buf.WriteUint8(uint8(attrFont))
		if err := buf.WriteString(t.font); err != nil {
			return err
		}
		buf.WriteFloat32(t.size)
	}
	if mask.Has(resizeDirty) {
		buf.WriteUint8(uint8(attrResize))
		buf.WriteUint8(uint8(t.resize))
		buf.WriteFloat32(t.limitW)
		buf.WriteFloat32(t.limitH)
	}
	return nil
}

func (t *Text) ReadAttribute(tag scene.AttrTag, buf *wire.Buffer) (bool, error) {
	var err error
	switch tag {
	case attrText:
		t.text, err = buf.ReadString()
	case attrFont:
		if t.font, err = buf.ReadString(); err == nil {
			t.size, err = buf.ReadFloat32()
		}
	case attrResize:
		var r uint8
		if r, err = buf.ReadUint8(); err == nil {
			t.resize = Resize(r)
			err = buf.ReadFloat32s(&t.limitW, &t.limitH)
		}
	default:
		return false, nil
	}
	return true, err
}

func (t *Text) Describe() map[string]any {
	return map[string]any{
		"text":         t.text,
		"font":         t.font,
		"font_size":    t.size,
		"resize":       t.resize,
		"resize_limit": [2]float32{t.limitW, t.limitH},
	}
}
