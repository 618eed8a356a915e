package process

import (
	"context"
	"errors"
	"sync"
)

// Group starts and stops a set of managers together.
// Managers are stopped in reverse order of registration.
type Group struct {
	mu       sync.Mutex
	managers []*Manager
	logger   Logger
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{logger: noopLogger{}}
}

// SetLogger sets the logger applied to managers added afterwards.
func (g *Group) SetLogger(logger Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}

// Add registers a task with the given configuration and returns its manager.
func (g *Group) Add(cfg Config) *Manager {
	m := NewManager(cfg)
	g.mu.Lock()
	defer g.mu.Unlock()
	m.SetLogger(g.logger)
	g.managers = append(g.managers, m)
	return m
}

// Start starts every registered manager. On error, already started
// managers are stopped.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	managers := append([]*Manager(nil), g.managers...)
	g.mu.Unlock()

	for i, m := range managers {
		if err := m.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = managers[j].Stop()
			}
			return err
		}
	}
	return nil
}

// Stop stops every manager and joins their errors.
func (g *Group) Stop() error {
	g.mu.Lock()
	managers := append([]*Manager(nil), g.managers...)
	g.mu.Unlock()

	var errs []error
	for i := len(managers) - 1; i >= 0; i-- {
		if err := managers[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns statistics for every manager in registration order.
func (g *Group) Stats() []Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Stats, 0, len(g.managers))
	for _, m := range g.managers {
		out = append(out, m.Stats())
	}
	return out
}
