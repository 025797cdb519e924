// Package status runs the retriever's status server. It doubles as the
// background host: the supervisor starts it when the connection has to stay
// open without push wake-ups, which keeps the process observable for as long
// as it holds the connection.
//
// Routes:
//   - /health   JSON health of the supervisor and the envelope store
//   - /metrics  Prometheus exposition (path configurable)
package status
