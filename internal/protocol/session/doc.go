// Package session carries scene frames between one producer and many
// consumers.
//
// Ownership boundary:
// - hello/hello.ack handshake and type-manifest agreement
// - TCP, TLS and WebSocket links
// - producer fan-out with per-consumer send queues
// - consumer rejoin with backoff and sequence checks
//
// Scene encoding lives in internal/scene; frame headers in
// internal/protocol/frame.
package session
