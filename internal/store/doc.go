// Package store persists retrieved envelopes and the background job journal
// in PostgreSQL.
//
// Tables:
//   - envelopes: one row per envelope, keyed by server GUID. Redelivery of an
//     unacknowledged envelope is absorbed by ON CONFLICT DO NOTHING.
//   - job_journal: enqueue and finish events for background jobs, written in
//     batches.
//
// Envelopes are written synchronously so an ack is never sent for an
// envelope that is not yet durable.
package store
