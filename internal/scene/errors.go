package scene

import "errors"

var (
	// ErrUnknownType means a record carried a type tag with no registry
	// entry. The rest of the stream cannot be decoded.
	ErrUnknownType = errors.New("scene: unknown type tag")
	// ErrMalformed means the stream is desynchronized: bad marker, unknown
	// attribute tag, or truncated payload. The link should be dropped.
	ErrMalformed = errors.New("scene: malformed record")

	ErrTypeExists     = errors.New("scene: type already registered")
	ErrRegistryFull   = errors.New("scene: type tag space exhausted")
	ErrInvalidType    = errors.New("scene: invalid type registration")
	ErrInvalidRole    = errors.New("scene: invalid role")
	ErrEmptyID        = errors.New("scene: empty node id")
	ErrDuplicateID    = errors.New("scene: duplicate node id")
	ErrInvalidChild   = errors.New("scene: invalid child")
	ErrForeignNode    = errors.New("scene: node belongs to another tree")
	ErrReleased       = errors.New("scene: node released")
	ErrRootUnexpected = errors.New("scene: root id mismatch")
)
