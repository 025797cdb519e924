// Package netprobe decides whether the network is usable by periodically
// dialing a set of TCP endpoints. The network counts as reachable when any
// endpoint accepts a connection.
//
// Listeners are called on edges only: a change from reachable to unreachable
// or back. The first probe always reports, so the initial state is known.
package netprobe
