// Package realtime implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one push subscription at a time and its lifecycle state machine
//   - Reconnects with exponential backoff, bounded by MaxReconnectAttempts
//   - Probes channel liveness on a heartbeat interval to catch silent death
//   - Falls back to polling a refresh callback once retries are exhausted
//   - Broadcasts status snapshots and payloads to registered subscribers
package realtime
