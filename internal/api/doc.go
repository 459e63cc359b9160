// Package api provides access to the Rosterly notification REST API.
//
// The REST API is the pull-based source of truth for notification records.
// The service uses it for fallback refresh while push delivery is down and
// for read-state mutations.
package api
