// Package supervisor implements the retrieval connection supervisor.
//
// The Supervisor:
//   - Runs one dedicated worker that waits until the connection is necessary
//   - Connects, reads envelopes one at a time and hands each to the processor
//   - Marks the network drained on the first empty read of an epoch and
//     enqueues a single drain-watch job
//   - Backs off exponentially (capped at 30s) after repeated faults and
//     retries forever
//   - Reacts immediately to foreground, connectivity, registration, lease and
//     termination signals through the Bus
package supervisor
