// Package store provides SQLite-backed persistence for the delegated payments
// pipeline.
//
// The store holds entity snapshots (employers, employees, claims, payments,
// addresses, bank accounts), staging copies of vendor extracts, reference file
// metadata, import logs, work claims and the append-only state_logs table that
// package statelog reads and writes.
//
// # Units of work
//
// Writes happen inside Store.WithTx. A step commits once per entity, so the
// entity mutation and its state log entry land in the same transaction.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - a single open connection: never call Store methods from inside a
//     WithTx callback, use the Tx instead
package store
