// Package binarystar drives the two-replica active/passive failover.
//
// Each replica runs one Controller. The PRIMARY activates the broker
// as soon as it starts and never voluntarily yields. The BACKUP stays
// passive while the peer is alive and takes over the moment the peer
// falls out of the heartbeat liveness window; when the peer returns,
// the backup deactivates again.
package binarystar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aula"
	"aula/internal/check"
	"aula/pkg/defaults"
)

// Activator is the broker side of the controller: both operations are
// idempotent, and Deactivate must stop the workers within one
// heartbeat interval.
type Activator interface {
	Activate(ctx context.Context) error
	Deactivate() error
}

// RoleRegistrar persists the replica's current effective role.
type RoleRegistrar interface {
	RegisterServerRole(host, role string) error
}

type Controller struct {
	role      string // configured role, PRIMARY or BACKUP
	host      string
	target    Activator
	registry  RoleRegistrar
	peerAlive func() bool
	interval  time.Duration

	active bool
}

func New(role, host string, target Activator, registry RoleRegistrar, peerAlive func() bool) *Controller {
	check.Assert(role == aula.RolePrimary || role == aula.RoleBackup, "binarystar.New: role must be PRIMARY or BACKUP")
	check.Assert(target != nil, "binarystar.New: target must not be nil")
	check.Assert(peerAlive != nil, "binarystar.New: peerAlive must not be nil")
	return &Controller{
		role:      role,
		host:      host,
		target:    target,
		registry:  registry,
		peerAlive: peerAlive,
		interval:  defaults.HBInterval,
	}
}

// Run evaluates the state machine once per heartbeat interval until ctx
// is cancelled, deactivating the broker on the way out.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.step(ctx); err != nil {
			slog.Warn("binary-star step failed", "role", c.role, "err", err)
		}
		select {
		case <-ctx.Done():
			if c.active {
				_ = c.target.Deactivate()
				c.active = false
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// step applies one state-machine transition.
func (c *Controller) step(ctx context.Context) error {
	if c.role == aula.RolePrimary {
		if !c.active {
			return c.activate(ctx)
		}
		return nil
	}

	// BACKUP.
	alive := c.peerAlive()
	switch {
	case alive && c.active:
		return c.deactivate()
	case !alive && !c.active:
		return c.activate(ctx)
	}
	return nil
}

func (c *Controller) activate(ctx context.Context) error {
	if err := c.target.Activate(ctx); err != nil {
		return fmt.Errorf("activate broker: %w", err)
	}
	c.active = true
	c.register(aula.RolePrimary)
	slog.Info("replica active", "role", c.role, "host", c.host)
	return nil
}

func (c *Controller) deactivate() error {
	if err := c.target.Deactivate(); err != nil {
		return fmt.Errorf("deactivate broker: %w", err)
	}
	c.active = false
	c.register(aula.RoleBackup)
	slog.Info("replica passive", "role", c.role, "host", c.host)
	return nil
}

// register persists the effective role; registry failures only degrade
// the registry view, never the failover itself.
func (c *Controller) register(effective string) {
	if c.registry == nil {
		return
	}
	if err := c.registry.RegisterServerRole(c.host, effective); err != nil {
		slog.Warn("register server role failed", "host", c.host, "role", effective, "err", err)
	}
}
