// ABOUTME: Package documentation for the store package
// ABOUTME: Describes the persistence layer contracts

// Package store provides persistence for conversations, agents, messages,
// and provider credentials.
//
// The Store interface is the single contract the pipeline depends on; the
// SQLite implementation backs production and MockStore backs tests. A
// conversation's message log is append-only, and during an in-flight turn
// it is written only by the executor holding that conversation's
// serialization slot.
package store
