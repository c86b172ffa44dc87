// Package notifications delivers capture session events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled.
// Enumerated event types cover session completion, incomplete sessions, and
// persistence failures so the controller emits consistent messages without
// duplicating HTTP glue.
package notifications
