// Package timeouts defines the shared timeout constants of the runtime.
package timeouts

import "time"

// HealthDial caps the wait time when dialing the health endpoint.
const HealthDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// FinalSnapshot bounds the snapshot written while the process exits.
const FinalSnapshot = 10 * time.Second

// Command bounds how long a network handler waits for the run loop.
const Command = 5 * time.Second
