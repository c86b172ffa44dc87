// Package ipc exposes the controller daemon and the station agent over
// JSON-RPC Unix sockets and ships the matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. The
// controller server wraps a daemon.Daemon and the station server wraps an
// agent.Agent; the client keeps a short dial timeout so CLI commands fail fast
// when the process is not running.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
