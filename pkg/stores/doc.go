// Package stores provides durable persistence for jobs, their audit trails,
// remembered plan patterns, and the enrichment cache.
//
// The SQLite implementation uses a pure-Go driver and embedded migrations,
// so a single binary carries everything it needs. Job stage values are
// opaque strings here; the orchestrator owns their meaning.
package stores
