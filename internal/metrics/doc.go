// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Supervisor state and connection open/close transitions
//   - Fault counts and backoff sleeps
//   - Envelopes processed and drain transitions
//   - Keep-alive leases held
package metrics
