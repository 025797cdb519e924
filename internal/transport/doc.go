// Package transport implements the retrieval connection over WebSocket.
//
// The Conn:
//   - Dials the server with basic auth and keeps one session per Connect
//   - Reads frames on a background goroutine with strict backpressure
//     (frames are never dropped)
//   - Pings the server and reports a stale session when no pong arrives
//   - Acknowledges each envelope only after the handler accepted it
package transport
