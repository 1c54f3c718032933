// Package timeouts defines shared timeout constants used across the server.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Request bounds the context a dispatched call runs under. The arena
// refuses to open a transaction on a context that is already done, so a
// call past the deadline fails before it touches state.
const Request = 10 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StorageOpen caps the wait for the arena database file lock.
const StorageOpen = time.Second
