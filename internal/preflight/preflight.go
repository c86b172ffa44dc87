package preflight

import (
	"strings"

	"aoi/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
	Optional bool   `json:"optional,omitempty"`
}

// RunController executes the checks a controller needs before it listens.
func RunController(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Image directory", cfg.Paths.ImageDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckListenAddr("Station listener", cfg.Controller.Listen),
	}
	if strings.TrimSpace(cfg.Controller.APIBind) != "" {
		results = append(results, CheckListenAddr("API listener", cfg.Controller.APIBind))
	}
	return results
}

// RunStation executes the checks a station agent needs before it dials.
func RunStation(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckCaptureSource(cfg),
	}
	if addr := strings.TrimSpace(cfg.Station.ControllerAddr); addr != "" {
		results = append(results, CheckHostPort("Controller address", addr))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
