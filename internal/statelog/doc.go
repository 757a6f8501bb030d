// Package statelog is the append-only state machine every pipeline step is
// built on.
//
// A StateLog entry records one transition of one entity within one Flow:
// (entity_type, entity_id, flow, start_state, end_state, outcome, created_at).
// The entry with the highest id for an (entity, flow) key is the entity's
// current position in that flow. Entries are only ever inserted; the
// state_logs table rejects UPDATE and DELETE.
//
// # Ordering
//
// "Latest" is decided by the autoincrement id, never by created_at. Two
// transitions written in the same second are still strictly ordered.
//
// # Units of work
//
// Every function takes a DBTX so callers can record the transition in the
// same transaction as the entity mutation it describes. A crash between the
// two then rolls both back.
package statelog
