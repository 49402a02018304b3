package main

import (
	"math"

	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/scene"
	"github.com/danmuck/scenecast/internal/sprites"
)

const (
	demoWidth  = 1280
	demoHeight = 720
	demoMarker = 48
)

// demoScene is the scene `serve` replicates: a backdrop, a title, a clock,
// and a marker sweeping across the backdrop.
type demoScene struct {
	backdrop *scene.Node
	title    *sprites.Text
	clock    *sprites.Text
	marker   *scene.Node
}

func newDemoScene(tree *scene.Tree, title string) (*demoScene, error) {
	backdrop, err := tree.NewNodeOf(scene.BasicTypeName, tree.Root())
	if err != nil {
		return nil, err
	}
	backdrop.SetSize(demoWidth, demoHeight)
	backdrop.SetColor(scene.Color{R: 0.08, G: 0.1, B: 0.14})

	heading, err := sprites.NewText(tree, backdrop)
	if err != nil {
		return nil, err
	}
	heading.SetText(title).SetFont("sans", 48)
	heading.Node().SetPosition2(48, 48)

	clock, err := sprites.NewText(tree, backdrop)
	if err != nil {
		return nil, err
	}
	clock.SetFont("mono", 24)
	clock.Node().SetPosition2(48, demoHeight-72)

	marker, err := tree.NewNodeOf(scene.BasicTypeName, backdrop)
	if err != nil {
		return nil, err
	}
	marker.SetSize(demoMarker, demoMarker)
	marker.SetCenter(scene.Vec3{X: demoMarker / 2, Y: demoMarker / 2})
	marker.SetColor(scene.Color{R: 0.9, G: 0.5, B: 0.1})

	return &demoScene{backdrop: backdrop, title: heading, clock: clock, marker: marker}, nil
}

// Update moves the marker every tick and refreshes the clock once a second.
// Unchanged setters leave no dirty bits, so quiet ticks produce no diff.
func (d *demoScene) Update(_ *scene.Tree, tick engine.Tick) error {
	phase := float64(tick.Count%240) / 240
	x := float32(phase) * (demoWidth - demoMarker)
	y := float32(demoHeight/2 + 120*math.Sin(2*math.Pi*phase))
	d.marker.SetPosition2(x, y)
	d.marker.SetRotation(scene.Vec3{Z: float32(360 * phase)})
	d.marker.SetOpacity(float32(0.6 + 0.4*math.Cos(2*math.Pi*phase)))
	d.clock.SetText(tick.Now.Format("15:04:05"))
	return nil
}
