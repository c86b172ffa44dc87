// Package scanner feeds barcode scanner input to the controller. A
// keyboard-wedge scanner types lines into the controller's terminal, and a
// udev monitor reports when a scanner is plugged in or pulled out.
package scanner
