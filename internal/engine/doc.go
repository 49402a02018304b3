// Package engine drives replication on both ends of a link.
//
// A Server owns the producer tree: it ticks the application's update
// callback, encodes one diff per tick, and snapshots joiners right after the
// diff. A Client owns a consumer tree and applies frames handed over by a
// session.Client. Each side confines its tree to a single goroutine; other
// goroutines reach it through Do.
package engine
