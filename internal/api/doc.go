// Package api exposes the navigator over HTTP: submitting user turns,
// resuming interrupted sessions, reading session snapshots, plus health and
// Prometheus endpoints.
package api
