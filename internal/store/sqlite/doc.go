// Package sqlite provides the durable, device-resident Store backed by SQLite.
//
// # Tables
//
//   - workflows: one row per workflow, keyed by id
//   - runs: run history, keyed by id; workflow_id is a plain reference with no
//     foreign key so history outlives deleted workflows
//
// Timestamps are stored as INTEGER Unix milliseconds. ended_at is NULL while a
// run is RUNNING.
//
// # Concurrency
//
// Run upserts are read-modify-write inside a transaction so the merge-on-zero
// rule and the terminal status check see the committed record. The pool is
// limited to one connection (SQLite supports one writer), which makes each
// transaction atomic with respect to every other operation.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package sqlite
