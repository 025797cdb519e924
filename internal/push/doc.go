// Package push receives out-of-band wake-ups from a push distributor.
//
// Endpoints (relative to the configured base path):
//   - POST   {base}/message   a push arrived; fetch queued envelopes
//   - PUT    {base}/endpoint  the distributor assigned a new endpoint
//   - DELETE {base}/endpoint  the distributor unregistered us
//
// A push message is turned into a fetch by the account's fetch strategy.
// With the websocket strategy the receiver holds a keep-alive lease for a
// fixed time. With the rest strategy it enqueues a one-shot fetch job that
// holds the lease until the backlog drains.
package push
