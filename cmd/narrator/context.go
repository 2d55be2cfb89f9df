package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"news_narrator/internal/config"
	"news_narrator/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := "config.yaml"
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// cliLogger keeps logs on stderr so command output stays parseable.
func (c *commandContext) cliLogger() *slog.Logger {
	cfg, _ := c.ensureConfig()
	if cfg == nil {
		return logging.NewWithWriter(os.Stderr, "info", "text", false)
	}
	return logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat, isatty.IsTerminal(os.Stderr.Fd()))
}

// withApp builds the application for one command and tears it down after.
func (c *commandContext) withApp(ctx context.Context, opts appOptions, logger *slog.Logger, fn func(*application) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	app, err := newApplication(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
