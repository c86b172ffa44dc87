package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateController(); err != nil {
		return err
	}
	if err := c.validateStation(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateController() error {
	if _, _, err := net.SplitHostPort(c.Controller.Listen); err != nil {
		return fmt.Errorf("controller.listen %q: %w", c.Controller.Listen, err)
	}
	if c.Controller.APIBind != "" {
		if _, _, err := net.SplitHostPort(c.Controller.APIBind); err != nil {
			return fmt.Errorf("controller.api_bind %q: %w", c.Controller.APIBind, err)
		}
	}
	return nil
}

func (c *Config) validateStation() error {
	if c.Station.ControllerAddr != "" {
		if _, _, err := net.SplitHostPort(c.Station.ControllerAddr); err != nil {
			return fmt.Errorf("station.controller_addr %q: %w", c.Station.ControllerAddr, err)
		}
	}
	if c.Station.CaptureCommand != "" && c.Station.CaptureFile != "" {
		return errors.New("station.capture_command and station.capture_file are mutually exclusive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", strings.TrimSpace(c.Logging.Level))
	}
	return nil
}
