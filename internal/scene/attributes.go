package scene

import "math"

// AttrTag identifies one attribute inside a record.
type AttrTag uint8

// Record markers.
const (
	Terminator uint8 = 0
	IDMarker   uint8 = 1
)

// Core attribute tags. Extension attributes start at FirstCustomAttr.
const (
	AttrParent    AttrTag = 2
	AttrSize      AttrTag = 3
	AttrFlags     AttrTag = 4
	AttrPosition  AttrTag = 5
	AttrCenter    AttrTag = 6
	AttrScale     AttrTag = 7
	AttrColor     AttrTag = 8
	AttrOpacity   AttrTag = 9
	AttrBlend     AttrTag = 10
	AttrClip      AttrTag = 11
	AttrSortOrder AttrTag = 12
	AttrRotation  AttrTag = 13

	FirstCustomAttr AttrTag = 32
)

// MaxSortOrder bounds the child id list a consumer accepts in one record.
const MaxSortOrder = 10000

// Epsilon is the tolerance setters use to suppress no-op writes. The wire
// always carries exact values.
const Epsilon = 1e-5

// Vec3 is a position, scale, center, or rotation triple.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (v Vec3) nearly(o Vec3) bool {
	return nearlyEqual(v.X, o.X) && nearlyEqual(v.Y, o.Y) && nearlyEqual(v.Z, o.Z)
}

// Color is linear RGB in [0,1].
type Color struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
}

func (c Color) nearly(o Color) bool {
	return nearlyEqual(c.R, o.R) && nearlyEqual(c.G, o.G) && nearlyEqual(c.B, o.B)
}

// Rect is an axis-aligned rectangle given by two corners.
type Rect struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func (r Rect) nearly(o Rect) bool {
	return nearlyEqual(r.X1, o.X1) && nearlyEqual(r.Y1, o.Y1) &&
		nearlyEqual(r.X2, o.X2) && nearlyEqual(r.Y2, o.Y2)
}

// BlendMode selects how a node composites over what is beneath it.
type BlendMode uint8

const (
	BlendNormal BlendMode = iota
	BlendMultiply
	BlendScreen
	BlendAdd
	BlendSubtract
	BlendLighten
	BlendDarken
)

// Flags is the replicated node flag word.
type Flags uint32

const (
	FlagVisible Flags = 1 << iota
	FlagTransparent
	FlagEnabled
	FlagDrawSorted
	FlagClip
	FlagShaderChildren
	// FlagNoReplication keeps a node and its subtree off the wire. It is
	// local state and is never marked dirty.
	FlagNoReplication
	FlagRotateTouches
)

// localFlags never travel.
const localFlags = FlagNoReplication | FlagRotateTouches

func nearlyEqual(a, b float32) bool {
	return math.Abs(float64(a)-float64(b)) < Epsilon
}
