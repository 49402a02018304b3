package scene

import (
	"math/bits"
	"strconv"
	"strings"
)

// DirtyBit names one independently tracked attribute group.
type DirtyBit uint8

// Core dirty bits. Extension types use bits from FirstCustomBit up; bits are
// per node, so unrelated types may reuse the same custom bit numbers.
const (
	IDDirty DirtyBit = iota
	ParentDirty
	ChildDirty
	FlagsDirty
	SizeDirty
	PositionDirty
	CenterDirty
	ScaleDirty
	ColorDirty
	OpacityDirty
	BlendDirty
	ClipDirty
	SortOrderDirty
	RotationDirty

	FirstCustomBit DirtyBit = 16
	MaxDirtyBit    DirtyBit = 63
)

var coreBitNames = [...]string{
	IDDirty:        "id",
	ParentDirty:    "parent",
	ChildDirty:     "child",
	FlagsDirty:     "flags",
	SizeDirty:      "size",
	PositionDirty:  "position",
	CenterDirty:    "center",
	ScaleDirty:     "scale",
	ColorDirty:     "color",
	OpacityDirty:   "opacity",
	BlendDirty:     "blend",
	ClipDirty:      "clip",
	SortOrderDirty: "sort_order",
	RotationDirty:  "rotation",
}

func (b DirtyBit) String() string {
	if int(b) < len(coreBitNames) {
		return coreBitNames[b]
	}
	return "custom" + strconv.Itoa(int(b))
}

// DirtyState is a bitmask of DirtyBits. The zero value is clean.
type DirtyState uint64

// Bits builds a state with the given bits set.
func Bits(list ...DirtyBit) DirtyState {
	var d DirtyState
	for _, b := range list {
		d.Mark(b)
	}
	return d
}

// AllDirty returns a state with every bit set. Encoding with it forces a
// full resync of a node.
func AllDirty() DirtyState { return DirtyState(^uint64(0)) }

// Mark sets bit. Bits above MaxDirtyBit are ignored.
func (d *DirtyState) Mark(bit DirtyBit) {
	if bit > MaxDirtyBit {
		return
	}
	*d |= 1 << bit
}

// Has reports whether bit is set.
func (d DirtyState) Has(bit DirtyBit) bool {
	if bit > MaxDirtyBit {
		return false
	}
	return d&(1<<bit) != 0
}

func (d *DirtyState) Clear() { *d = 0 }

func (d DirtyState) IsEmpty() bool { return d == 0 }

// Merge returns the bitwise OR of d and other.
func (d DirtyState) Merge(other DirtyState) DirtyState { return d | other }

// Without returns d with bit cleared.
func (d DirtyState) Without(bit DirtyBit) DirtyState {
	if bit > MaxDirtyBit {
		return d
	}
	return d &^ (1 << bit)
}

// Count returns the number of set bits.
func (d DirtyState) Count() int { return bits.OnesCount64(uint64(d)) }

func (d DirtyState) String() string {
	if d == 0 {
		return "clean"
	}
	if d == AllDirty() {
		return "all"
	}
	names := make([]string, 0, d.Count())
	for b := DirtyBit(0); b <= MaxDirtyBit; b++ {
		if d.Has(b) {
			names = append(names, b.String())
		}
	}
	return strings.Join(names, "|")
}
