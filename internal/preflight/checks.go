package preflight

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"aoi/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckListenAddr verifies addr can be bound right now. The trial listener is
// closed immediately.
func CheckListenAddr(name, addr string) Result {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", addr)}
}

// CheckHostPort verifies addr is a syntactically valid host:port.
func CheckHostPort(name, addr string) Result {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || port == "" {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: expected host:port)", addr)}
	}
	return Result{Name: name, Passed: true, Detail: addr}
}

// CheckCaptureSource verifies the configured capture program is on PATH or
// the capture file is readable.
func CheckCaptureSource(cfg *config.Config) Result {
	const name = "Capture source"

	if command := strings.Fields(cfg.Station.CaptureCommand); len(command) > 0 {
		path, err := exec.LookPath(command[0])
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("binary %q not found", command[0])}
		}
		return Result{Name: name, Passed: true, Detail: path}
	}
	if file := strings.TrimSpace(cfg.Station.CaptureFile); file != "" {
		if err := unix.Access(file, unix.R_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", file, err)}
		}
		return Result{Name: name, Passed: true, Detail: file}
	}
	return Result{Name: name, Detail: "no capture_command or capture_file configured"}
}
