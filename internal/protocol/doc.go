// Package protocol owns the replication wire contract.
//
// Ownership boundary:
// - wire: growable buffer with typed read/write primitives
// - frame: per-tick frame header, checksum, and stream read/write
// - session: handshake, links, fan-out hub, and mirror reconnect loop
//
// The scene record format itself (type tag, id marker, attribute tags,
// terminator) lives in internal/scene; this package tree only moves bytes.
package protocol

// Version is the replication protocol version carried in frame headers and
// the session handshake. Peers with a different version are rejected.
const Version uint16 = 1
