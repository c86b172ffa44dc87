// Package controller ties the station protocol, registry, workflow machine,
// image writer, and command dispatcher into the coordinating process.
//
// Each accepted connection gets one reader goroutine and its own Reassembler.
// All registry and workflow mutations happen under a single mutex, and every
// mutation publishes a fresh Snapshot to the registered presenters while that
// mutex is still held, so presenters observe states in order. Disk work runs
// on the imagestore.Writer goroutine; its results re-enter the controller
// through the same mutex.
package controller
