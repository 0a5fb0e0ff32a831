package controller

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// AbortReason records why a run moved to ABORTED.
type AbortReason struct {
	Service string
	Message string
}

// Controller owns the run's phase and aborts it if a required
// component's heartbeat lapses (spec.md §4.7 "Controller").
type Controller struct {
	logger  *slog.Logger
	health  *HealthMonitor
	phase   atomic.Value // Phase

	mu     sync.Mutex
	abort  *AbortReason
	onAbort func(AbortReason)
}

func New(logger *slog.Logger) *Controller {
	c := &Controller{
		logger: logger,
		health: NewHealthMonitor(0, 0),
	}
	c.phase.Store(PhaseInit)
	c.health.SetOnServiceLost(c.handleServiceLost)
	return c
}

// Phase returns the current run phase.
func (c *Controller) Phase() Phase {
	return c.phase.Load().(Phase)
}

// OnAbort registers a callback invoked exactly once, the first time the
// run aborts.
func (c *Controller) OnAbort(fn func(AbortReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAbort = fn
}

// Transition moves the run to a new phase, enforcing the allowed-
// transitions table.
func (c *Controller) Transition(to Phase) error {
	from := c.Phase()
	if !CanTransition(from, to) {
		return fmt.Errorf("controller: illegal phase transition %s -> %s", from, to)
	}
	c.phase.Store(to)
	if c.logger != nil {
		c.logger.Info("phase transition", "from", from, "to", to)
	}
	return nil
}

// RegisterService begins health tracking for a named component.
func (c *Controller) RegisterService(name string) {
	c.health.Register(name)
}

// Heartbeat records liveness for a named component.
func (c *Controller) Heartbeat(name string) {
	c.health.Heartbeat(name)
}

// ForgetService stops tracking a component that exited cleanly.
func (c *Controller) ForgetService(name string) {
	c.health.Forget(name)
}

// StartHealthMonitoring begins the background liveness checker.
func (c *Controller) StartHealthMonitoring() {
	c.health.Start()
}

// StopHealthMonitoring halts the background liveness checker.
func (c *Controller) StopHealthMonitoring() {
	c.health.Stop()
}

func (c *Controller) handleServiceLost(name string) {
	reason := AbortReason{Service: name, Message: "heartbeat timeout"}
	c.abortRun(reason)
}

// Abort forces the run into ABORTED with a caller-supplied reason (used
// for fatal internal errors detected outside the heartbeat monitor).
func (c *Controller) Abort(service, message string) {
	c.abortRun(AbortReason{Service: service, Message: message})
}

func (c *Controller) abortRun(reason AbortReason) {
	c.mu.Lock()
	if c.abort != nil {
		c.mu.Unlock()
		return
	}
	c.abort = &reason
	cb := c.onAbort
	c.mu.Unlock()

	c.phase.Store(PhaseAborted)
	if c.logger != nil {
		c.logger.Error("run aborted", "service", reason.Service, "reason", reason.Message)
	}
	if cb != nil {
		cb(reason)
	}
}

// AbortedReason reports why the run aborted, if it did.
func (c *Controller) AbortedReason() *AbortReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abort
}
