// Package scene holds the replicated scene tree and its wire codec.
//
// One process (the producer) owns the authoritative tree. Every tick it walks
// the tree depth-first and emits a record for each node whose dirty state is
// not empty, parents before children, then clears that node's dirty state.
// Consumers read the records back in the same order, creating nodes they have
// not seen through the Registry and resolving cross references (parent ids,
// child order) through the Index.
//
// Record layout:
//
//	[type tag u8][IDMarker u8][id u32] { [attr tag u8][payload] } [Terminator u8]
//
// and a traversal ends with the EndOfStream type tag.
//
// Dirty clearing is at-most-once: a change is encoded exactly once and never
// reissued. Correctness depends on the transport delivering every payload
// whole and in order. There is no delete record; Release only affects the
// local process.
//
// A Tree is not safe for concurrent use. It belongs to one goroutine.
package scene
