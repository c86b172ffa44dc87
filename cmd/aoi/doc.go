// Package main hosts the aoi CLI entrypoint and command graph.
//
// One binary runs both processes: `aoi controller` coordinates the capture
// workflow for up to four stations, and `aoi station run` is the agent on
// each camera host. The remaining commands talk to a running process over
// its unix socket.
package main
