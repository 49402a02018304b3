package sprites

import (
	"errors"

	"github.com/danmuck/scenecast/internal/protocol/wire"
	"github.com/danmuck/scenecast/internal/scene"
)

const (
	imageDirty = scene.FirstCustomBit

	attrImage = scene.FirstCustomAttr
)

// ImageFlags tell the consumer how to load the resource.
type ImageFlags uint32

const (
	ImageCache ImageFlags = 1 << iota
	ImagePreload
)

var ErrNotImage = errors.New("sprites: node is not an image node")

// Image is the extension behind image nodes. The resource itself never
// travels; only its path does.
type Image struct {
	node  *scene.Node
	path  string
	flags ImageFlags

	sentPath  string
	sentFlags ImageFlags
}

// NewImage creates an image node under parent.
func NewImage(tree *scene.Tree, parent *scene.Node) (*Image, error) {
	n, err := tree.NewNodeOf(ImageTypeName, parent)
	if err != nil {
		return nil, err
	}
	return ImageOf(n)
}

func ImageOf(n *scene.Node) (*Image, error) {
	img, ok := n.Extension().(*Image)
	if !ok {
		return nil, ErrNotImage
	}
	return img, nil
}

func (i *Image) Attach(n *scene.Node) { i.node = n }
func (i *Image) Node() *scene.Node    { return i.node }
func (i *Image) Path() string         { return i.path }
func (i *Image) Flags() ImageFlags    { return i.flags }

func (i *Image) SetResource(path string, flags ImageFlags) *Image {
	if i.path != path || i.flags != flags {
		i.path, i.flags = path, flags
		i.node.Touch(imageDirty, path == i.sentPath && flags == i.sentFlags)
	}
	return i
}

func (i *Image) MarkSent() { i.sentPath, i.sentFlags = i.path, i.flags }

func (i *Image) WriteAttributes(mask scene.DirtyState, buf *wire.Buffer) error {
	if !mask.Has(imageDirty) {
		return nil
	}
	buf.WriteUint8(uint8(attrImage))
	if err := buf.WriteString(i.path); err != nil {
		return err
	}
	buf.WriteUint32(uint32(i.flags))
	return nil
}

func (i *Image) ReadAttribute(tag scene.AttrTag, buf *wire.Buffer) (bool, error) {
	if tag != attrImage {
		return false, nil
	}
	path, err := buf.ReadString()
	if err != nil {
		return true, err
	}
	flags, err := buf.ReadUint32()
	if err != nil {
		return true, err
	}
	i.path, i.flags = path, ImageFlags(flags)
	return true, nil
}

func (i *Image) Describe() map[string]any {
	return map[string]any{
		"path":  i.path,
		"flags": i.flags,
	}
}
