// Package logging assembles structured slog loggers and formatting helpers used
// by the controller, the station agent and the CLI.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes the standardized field keys (camera, serial, step,
// connection) so that every component tags its lines the same way. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
