package main

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/logging"
)

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *logging.Logger
	loggerErr  error
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}

		var cfg *config.Config
		var err error
		if path != "" {
			cfg, err = config.LoadFile(path)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			c.configErr = err
			return
		}
		if c.levelFlag != nil && strings.TrimSpace(*c.levelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.levelFlag)
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*logging.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.New(cfg.LoggerConfig())
	})
	return c.logger, c.loggerErr
}

// component returns a named logger, or a no-op logger if logging failed to
// initialize.
func (c *commandContext) component(name string) zerolog.Logger {
	l, err := c.ensureLogger()
	if err != nil || l == nil {
		return zerolog.Nop()
	}
	return l.Component(name)
}

func (c *commandContext) close() {
	if c.logger != nil {
		c.logger.Close()
	}
}
