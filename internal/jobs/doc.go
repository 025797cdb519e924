// Package jobs runs the retriever's background jobs.
//
// The Queue:
//   - Accepts jobs from the supervisor and the push receiver without blocking
//   - Runs them on a small worker pool
//   - Journals every job (enqueue and finish) when a Journal is configured
//
// Jobs:
//   - DrainWatchJob: waits for the processing backlog to settle after the
//     network drained, then reports decryption drained
//   - PushFetchJob: holds a keep-alive lease until the backlog is fully drained
package jobs
