// Package app provides the dependency injection container for the
// remux server process.
package app

import (
	"fmt"

	"github.com/aki/remux/internal/config"
	"github.com/aki/remux/internal/elide"
	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/mcp"
	"github.com/aki/remux/internal/outbox"
	"github.com/aki/remux/internal/server"
	"github.com/aki/remux/internal/session"
)

// Container holds the engine core and its serving surfaces, initialized
// in dependency order.
type Container struct {
	Config *config.Config
	Log    logger.Logger

	Store      *elide.Store
	Scheduler  *outbox.Scheduler
	Registry   *session.Registry
	Controller *session.Controller
	Server     *server.Server
	MCP        *mcp.Server
}

// NewContainer wires the full engine from a validated configuration.
func NewContainer(cfg *config.Config, log logger.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{Config: cfg, Log: log}

	var err error
	c.Store, err = elide.NewStore(cfg.Elision.Capacity, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create elision store: %w", err)
	}

	c.Scheduler = outbox.NewScheduler(cfg.Output.FlushInterval.Std(), log)

	limits := lang.Limits{
		Length: cfg.Print.Length,
		Depth:  cfg.Print.Depth,
		Text:   cfg.Print.Text,
	}
	c.Registry = session.NewRegistry(c.Store, limits, cfg.Session.Retained, log)
	c.Controller = session.NewController(c.Registry, c.Scheduler, log)

	c.Server = server.New(cfg.Server, c.Registry, c.Controller, c.Scheduler, log)
	c.MCP = mcp.NewServer(c.Registry, c.Controller, c.Store, log)

	return c, nil
}

// Close tears the container down in reverse construction order: stop
// accepting connections, close every session, then stop the flush
// scheduler and the store behind them.
func (c *Container) Close() {
	if c.Server != nil {
		_ = c.Server.Close()
	}
	if c.Registry != nil {
		c.Registry.Close()
	}
	if c.Scheduler != nil {
		c.Scheduler.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}
