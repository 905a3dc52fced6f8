package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/vipul43/invoice-worker/internal/app"
	"github.com/vipul43/invoice-worker/internal/config"
	"github.com/vipul43/invoice-worker/internal/logger"
)

type commandContext struct {
	verbose bool

	once   sync.Once
	cfg    *config.Config
	app    *app.App
	appErr error
	lock   *flock.Flock
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

// ensureApp connects to the database on first use.
func (c *commandContext) ensureApp() (*app.App, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.appErr = err
			return
		}
		c.cfg = cfg
		c.app, c.appErr = app.New(cfg, c.logger(cfg))
	})
	return c.app, c.appErr
}

func (c *commandContext) logger(cfg *config.Config) *logrus.Logger {
	if !c.verbose {
		return logger.Discard()
	}
	return logger.New(cfg.LogLevel, "text")
}

// lockWorker takes the worker lock file so a command that changes batch state
// never runs beside a worker or another such command on this host.
func (c *commandContext) lockWorker() error {
	if c.cfg == nil {
		return errors.New("configuration not loaded")
	}
	lock := flock.New(c.cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", c.cfg.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("an invoice-worker or another invoicectl run holds %s", c.cfg.LockFile)
	}
	c.lock = lock
	return nil
}

func (c *commandContext) close() {
	if c.lock != nil {
		_ = c.lock.Unlock()
		c.lock = nil
	}
	if c.app != nil {
		c.app.Close(time.Duration(c.cfg.ShutdownTimeout) * time.Second)
	}
}
