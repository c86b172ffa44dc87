package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeController()
	c.normalizeWorkflow()
	if err := c.normalizeStation(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if value, ok := os.LookupEnv("AOI_IMAGE_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.ImageDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.ImageDir) == "" {
		c.Paths.ImageDir = defaultImageDir
	}
	if c.Paths.ImageDir, err = expandPath(c.Paths.ImageDir); err != nil {
		return fmt.Errorf("paths.image_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeController() {
	c.Controller.Listen = strings.TrimSpace(c.Controller.Listen)
	if c.Controller.Listen == "" {
		c.Controller.Listen = defaultListen
	}
	c.Controller.APIBind = strings.TrimSpace(c.Controller.APIBind)
	if c.Controller.MaxImageMiB <= 0 {
		c.Controller.MaxImageMiB = defaultMaxImageMiB
	}
	c.Controller.ServiceName = strings.TrimSpace(c.Controller.ServiceName)
	if c.Controller.ServiceName == "" {
		c.Controller.ServiceName = defaultServiceName
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.NoticeTTLMillis <= 0 {
		c.Workflow.NoticeTTLMillis = defaultNoticeTTLMillis
	}
	if c.Workflow.CompletionGraceMillis <= 0 {
		c.Workflow.CompletionGraceMillis = defaultCompletionGraceMillis
	}
	if c.Workflow.WriteQueue <= 0 {
		c.Workflow.WriteQueue = defaultWriteQueue
	}
}

func (c *Config) normalizeStation() error {
	var err error
	if strings.TrimSpace(c.Station.CameraIDFile) == "" {
		c.Station.CameraIDFile = defaultCameraIDFile
	}
	if c.Station.CameraIDFile, err = expandPath(c.Station.CameraIDFile); err != nil {
		return fmt.Errorf("station.camera_id_file: %w", err)
	}
	if c.Station.ControllerAddr == "" {
		if value, ok := os.LookupEnv("AOI_CONTROLLER_ADDR"); ok {
			c.Station.ControllerAddr = value
		}
	}
	c.Station.ControllerAddr = strings.TrimSpace(c.Station.ControllerAddr)
	if c.Station.RedialSeconds <= 0 {
		c.Station.RedialSeconds = defaultRedialSeconds
	}
	c.Station.CaptureCommand = strings.TrimSpace(c.Station.CaptureCommand)
	if c.Station.CaptureFile = strings.TrimSpace(c.Station.CaptureFile); c.Station.CaptureFile != "" {
		if c.Station.CaptureFile, err = expandPath(c.Station.CaptureFile); err != nil {
			return fmt.Errorf("station.capture_file: %w", err)
		}
	}
	if c.Station.CaptureTimeoutSeconds <= 0 {
		c.Station.CaptureTimeoutSeconds = defaultCaptureTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("AOI_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
