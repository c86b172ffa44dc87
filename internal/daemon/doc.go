// Package daemon coordinates the long-running controller process and its
// system integration points.
//
// It wraps a controller.Controller with flock-based locking to prevent two
// controllers writing the same image tree, serves the local HTTP API
// (/api/status, the /api/events websocket feed, /api/sessions, and the
// Prometheus /metrics endpoint), and answers status queries for IPC clients.
//
// Keep orchestration logic here: capture semantics live in the controller and
// workflow packages while the daemon focuses on startup, shutdown, and the
// outward-facing surfaces.
package daemon
