// Package model defines shared data types used across the retriever.
//
// Conventions:
//   - Timestamps: int64 milliseconds since Unix epoch, as sent by the server
//   - Envelope IDs: uuid.UUID server GUIDs
package model
