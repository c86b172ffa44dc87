// Package workflow holds the controller's single capture session: the current
// step, the Step2 toggle, the scanned operator and serial, transient notices,
// and the disk-verified completion check that closes a session.
//
// A Machine is not safe for concurrent use. The controller owns it behind one
// mutex alongside the station registry.
package workflow
