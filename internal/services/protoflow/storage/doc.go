// Package storage defines the key-value contract the runtime persists
// snapshots through.
//
// Backends live in subpackages so the runtime only depends on the Store
// interface and the selected backend is wired at startup.
package storage
