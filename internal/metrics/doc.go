// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state (one-hot gauge per state) and transition counts
//   - Reconnect attempts and fallback poll counts
//   - Pushed message rates
//   - Writer batch sizes and flush latencies
package metrics
