package main

import (
	"context"
	"os"
	"strings"
	"sync"

	"redline/internal/config"
	"redline/internal/logging"
	"redline/internal/setup"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := os.Getenv("REDLINE_CONFIG")
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			c.config = config.Load()
			c.configErr = c.config.Validate()
			return
		}
		c.config, c.configErr = config.LoadFile(path)
	})
	return c.config, c.configErr
}

// withRuntime builds the engine for one command and closes its backends
// afterwards. CLI logging defaults to warnings so stdout stays clean.
func (c *commandContext) withRuntime(ctx context.Context, fn func(*setup.Runtime, config.Config) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	level := "warn"
	if c.logLevelFlag != nil && *c.logLevelFlag != "" {
		level = *c.logLevelFlag
	}
	logger, err := logging.New(logging.Options{Level: level, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	rt, err := setup.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt, cfg)
}
