// Package preflight provides readiness checks for the paths, ports and
// programs the controller and station agent depend on.
//
// These checks run in two contexts:
//   - The controller and station commands call RunController or RunStation
//     before starting and refuse to run when a required check fails.
//   - "aoi status" displays the same results so an operator can see what is
//     missing without reading logs.
package preflight
