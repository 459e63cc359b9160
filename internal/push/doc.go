// Package push implements the WebSocket transport to the Rosterly hub.
//
// The transport:
//   - Dials the hub and performs the subscribe handshake for one subject
//   - Delivers notification frames in arrival order
//   - Keeps the socket alive with pings and detects stale connections
//   - Reports health through the channel state probe
package push
