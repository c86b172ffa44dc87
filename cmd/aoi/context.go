package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"aoi/internal/config"
	"aoi/internal/ipc"
)

type process string

const (
	processController process = "controller"
	processStation    process = "station"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// socketPath prefers --socket and otherwise derives the path for p from the
// loaded config.
func (c *commandContext) socketPath(p process) (string, error) {
	if c.socketFlag != nil && strings.TrimSpace(*c.socketFlag) != "" {
		return strings.TrimSpace(*c.socketFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if p == processStation {
		return cfg.StationSocketPath(), nil
	}
	return cfg.ControllerSocketPath(), nil
}

func (c *commandContext) withClient(p process, fn func(*ipc.Client) error) error {
	client, err := c.dialClient(p)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient(p process) (*ipc.Client, error) {
	socket, err := c.socketPath(p)
	if err != nil {
		return nil, err
	}
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, p, socket)
	}
	return client, nil
}

func wrapDialError(err error, p process, socket string) error {
	start := "aoi controller"
	if p == processStation {
		start = "aoi station run"
	}
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to %s: socket %s not found; start it with `%s`", p, socket, start)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to %s: socket %s refused the connection; verify the process is running", p, socket)
	default:
		return fmt.Errorf("connect to %s: %w", p, err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
