package scene

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/scenecast/internal/protocol/wire"
)

// ReadStats summarizes one ReadStream call.
type ReadStats struct {
	Records           int `json:"records"`
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	UnresolvedParents int `json:"unresolved_parents"`
	TypeMismatches    int `json:"type_mismatches"`
	Bytes             int `json:"bytes"`
}

// WriteDiff appends a record for every dirty replicated node, clears what it
// wrote, and terminates the traversal. A clean tree produces only the
// EndOfStream byte. A node whose record cannot be encoded is left out of
// the stream and stays dirty; WriteStats.Failed counts them.
func (t *Tree) WriteDiff(buf *wire.Buffer) (WriteStats, error) {
	if t.role != RoleProducer {
		return WriteStats{}, fmt.Errorf("%w: %s cannot write diffs", ErrInvalidRole, t.role)
	}
	return t.write(buf, false)
}

// WriteSnapshot appends every replicated node with every attribute. Dirty
// state is untouched, so a snapshot for a joining consumer does not steal
// changes from the next diff.
func (t *Tree) WriteSnapshot(buf *wire.Buffer) (WriteStats, error) {
	return t.write(buf, true)
}

func (t *Tree) write(buf *wire.Buffer, full bool) (WriteStats, error) {
	start := buf.Len()
	var stats WriteStats
	if err := t.root.writeSubtree(buf, full, &stats); err != nil {
		return stats, err
	}
	buf.WriteUint8(uint8(EndOfStream))
	stats.Bytes = buf.Len() - start
	return stats, nil
}

// WriteSubtree appends records for n and its dirty descendants, clearing
// what it wrote. It does not terminate the traversal.
func (n *Node) WriteSubtree(buf *wire.Buffer) (WriteStats, error) {
	start := buf.Len()
	var stats WriteStats
	err := n.writeSubtree(buf, false, &stats)
	stats.Bytes = buf.Len() - start
	return stats, err
}

// ReadStream applies records from buf until EndOfStream. Running out of
// bytes at a record boundary also ends the stream.
//
// ErrUnknownType stops decoding; earlier records stay applied. ErrMalformed
// means the stream cannot be trusted past the failing record. Unknown parent
// ids are logged and counted, never returned.
func (t *Tree) ReadStream(buf *wire.Buffer) (ReadStats, error) {
	start := buf.Offset()
	var stats ReadStats
	defer t.clearPendingOrders()

	for {
		if buf.Remaining() == 0 {
			break
		}
		raw, err := buf.ReadUint8()
		if err != nil {
			return stats, malformed(err)
		}
		tag := TypeTag(raw)
		if tag == EndOfStream {
			break
		}
		if err := t.readRecord(tag, buf, &stats); err != nil {
			stats.Bytes = buf.Offset() - start
			return stats, err
		}
		stats.Records++
	}
	stats.Bytes = buf.Offset() - start
	return stats, nil
}

func (t *Tree) readRecord(tag TypeTag, buf *wire.Buffer, stats *ReadStats) error {
	marker, err := buf.ReadUint8()
	if err != nil {
		return malformed(err)
	}
	if marker != IDMarker {
		return fmt.Errorf("%w: expected id marker, got %d", ErrMalformed, marker)
	}
	raw, err := buf.ReadUint32()
	if err != nil {
		return malformed(err)
	}
	id := NodeID(raw)
	if id == EmptyID {
		return fmt.Errorf("%w: record with empty id", ErrMalformed)
	}

	n, ok := t.index.Get(id)
	switch {
	case ok && n.typeTag != tag:
		stats.TypeMismatches++
		log.Warn().
			Uint32("node", raw).
			Uint8("have", uint8(n.typeTag)).
			Uint8("got", uint8(tag)).
			Msg("scene.Tree.ReadStream type tag mismatch")
		stats.Updated++
	case ok:
		stats.Updated++
	default:
		n, err = t.registry.Reconstruct(t, tag)
		if err != nil {
			log.Error().Err(err).Uint32("node", raw).Msg("scene.Tree.ReadStream cannot reconstruct")
			return err
		}
		n.id = id
		if err := t.index.Insert(n); err != nil {
			return err
		}
		stats.Created++
	}
	return n.readAttributes(buf, stats)
}

func (t *Tree) clearPendingOrders() {
	for id, n := range t.pendingOrders {
		n.order = nil
		delete(t.pendingOrders, id)
	}
}

// IsDesync reports whether err means the byte stream can no longer be
// trusted and the link should be reset.
func IsDesync(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, wire.ErrShortBuffer)
}
