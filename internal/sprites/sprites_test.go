package sprites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/scenecast/internal/protocol/wire"
	"github.com/danmuck/scenecast/internal/scene"
	"github.com/danmuck/scenecast/internal/testutil/testlog"
)

func newTrees(t *testing.T) (*scene.Tree, *scene.Tree) {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	prod, err := scene.NewTree(scene.RoleProducer, reg)
	require.NoError(t, err)
	cons, err := scene.NewTree(scene.RoleConsumer, reg)
	require.NoError(t, err)
	return prod, cons
}

func replicate(t *testing.T, prod, cons *scene.Tree) {
	t.Helper()
	buf := wire.NewBuffer(256)
	_, err := prod.WriteDiff(buf)
	require.NoError(t, err)
	_, err = cons.ReadStream(wire.FromBytes(buf.Bytes()))
	require.NoError(t, err)
}

func TestInstallOrder(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	want := []string{scene.BasicTypeName, TextTypeName, ImageTypeName}
	require.Equal(t, want, reg.Manifest(scene.RoleProducer))
	require.Equal(t, want, reg.Manifest(scene.RoleConsumer))

	require.ErrorIs(t, Install(reg, scene.RoleConsumer), scene.ErrTypeExists)
}

func TestTextReplicates(t *testing.T) {
	testlog.Start(t)
	prod, cons := newTrees(t)

	txt, err := NewText(prod, prod.Root())
	require.NoError(t, err)
	txt.SetText("hello").SetFont("Inter", 24).SetResize(ResizeWidth).SetResizeLimit(400, 0)
	txt.Node().SetPosition(scene.Vec3{X: 5, Y: 6})
	replicate(t, prod, cons)

	n, ok := cons.Find(txt.Node().ID())
	require.True(t, ok)
	got, err := TextOf(n)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text())
	assert.Equal(t, "Inter", got.Font())
	assert.Equal(t, float32(24), got.FontSize())
	assert.Equal(t, ResizeWidth, got.Resize())
	w, h := got.ResizeLimit()
	assert.Equal(t, [2]float32{400, 0}, [2]float32{w, h})
	assert.Equal(t, float32(5), n.Position().X)

	txt.SetText("world")
	require.True(t, txt.Node().Dirty().Has(textDirty))
	require.False(t, txt.Node().Dirty().Has(fontDirty))
	replicate(t, prod, cons)
	assert.Equal(t, "world", got.Text())
	assert.Equal(t, "Inter", got.Font())
}

func TestImageReplicates(t *testing.T) {
	prod, cons := newTrees(t)

	img, err := NewImage(prod, prod.Root())
	require.NoError(t, err)
	img.SetResource("media/logo.png", ImageCache|ImagePreload)
	replicate(t, prod, cons)

	n, ok := cons.Find(img.Node().ID())
	require.True(t, ok)
	got, err := ImageOf(n)
	require.NoError(t, err)
	assert.Equal(t, "media/logo.png", got.Path())
	assert.Equal(t, ImageCache|ImagePreload, got.Flags())

	_, err = TextOf(n)
	require.ErrorIs(t, err, ErrNotText)
	_, err = ImageOf(prod.Root())
	require.ErrorIs(t, err, ErrNotImage)
}

func TestSetterNoOpKeepsClean(t *testing.T) {
	prod, cons := newTrees(t)
	txt, err := NewText(prod, prod.Root())
	require.NoError(t, err)
	txt.SetText("same")
	replicate(t, prod, cons)

	txt.SetText("same").SetFont("", DefaultFontSize).SetResize(0)
	require.True(t, txt.Node().Dirty().IsEmpty())
}

func TestRevertedExtensionChangeIsNotSent(t *testing.T) {
	prod, cons := newTrees(t)
	txt, err := NewText(prod, prod.Root())
	require.NoError(t, err)
	img, err := NewImage(prod, prod.Root())
	require.NoError(t, err)
	txt.SetText("a").SetResizeLimit(100, 0)
	img.SetResource("a.png", ImageCache)
	replicate(t, prod, cons)

	txt.SetText("b").SetText("a")
	txt.SetFont("Inter", 20).SetFont("", DefaultFontSize)
	txt.SetResizeLimit(50, 0).SetResize(ResizeHeight).SetResize(0).SetResizeLimit(100, 0)
	img.SetResource("b.png", 0).SetResource("a.png", ImageCache)
	assert.True(t, txt.Node().Dirty().IsEmpty(), "text dirty=%s", txt.Node().Dirty())
	assert.True(t, img.Node().Dirty().IsEmpty(), "image dirty=%s", img.Node().Dirty())

	buf := wire.NewBuffer(16)
	stats, err := prod.WriteDiff(buf)
	require.NoError(t, err)
	require.Zero(t, stats.Records)

	// the baseline moves with each diff
	txt.SetText("b")
	replicate(t, prod, cons)
	txt.SetText("a").SetText("b")
	assert.True(t, txt.Node().Dirty().IsEmpty())

	// a forced resync is never withdrawn
	prod.MarkTreeDirty()
	img.SetResource("c.png", 0).SetResource("a.png", ImageCache)
	assert.True(t, img.Node().Dirty().Has(imageDirty))
}

func TestOversizeTextIsHeldBack(t *testing.T) {
	testlog.Start(t)
	prod, cons := newTrees(t)
	txt, err := NewText(prod, prod.Root())
	require.NoError(t, err)
	img, err := NewImage(prod, prod.Root())
	require.NoError(t, err)
	replicate(t, prod, cons)

	txt.SetText(string(make([]byte, wire.MaxStringLen+1)))
	img.SetResource("logo.png", 0)
	buf := wire.NewBuffer(64)
	stats, err := prod.WriteDiff(buf)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 1, stats.Records)
	_, err = cons.ReadStream(wire.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	n, ok := cons.Find(img.Node().ID())
	require.True(t, ok)
	got, err := ImageOf(n)
	require.NoError(t, err)
	assert.Equal(t, "logo.png", got.Path())
	require.True(t, prod.HasPendingChanges())

	txt.SetText("short")
	replicate(t, prod, cons)
	n, ok = cons.Find(txt.Node().ID())
	require.True(t, ok)
	gotText, err := TextOf(n)
	require.NoError(t, err)
	assert.Equal(t, "short", gotText.Text())
	require.False(t, prod.HasPendingChanges())
}

func TestMismatchedTypeIsMalformed(t *testing.T) {
	prod, _ := newTrees(t)
	img, err := NewImage(prod, prod.Root())
	require.NoError(t, err)
	img.SetResource("a.png", 0)

	// a consumer that registered only basic cannot read image attributes
	// even if the tag happened to resolve to a core-only type
	reg := scene.NewRegistry()
	_, err = scene.RegisterBasic(reg, scene.RoleConsumer)
	require.NoError(t, err)
	_, err = reg.Register(scene.RoleConsumer, "imposter", nil)
	require.NoError(t, err)
	_, err = reg.Register(scene.RoleConsumer, "image-ish", nil)
	require.NoError(t, err)
	cons, err := scene.NewTree(scene.RoleConsumer, reg)
	require.NoError(t, err)

	buf := wire.NewBuffer(128)
	_, err = prod.WriteDiff(buf)
	require.NoError(t, err)
	_, err = cons.ReadStream(wire.FromBytes(buf.Bytes()))
	require.ErrorIs(t, err, scene.ErrMalformed)
	require.True(t, scene.IsDesync(err))
}
