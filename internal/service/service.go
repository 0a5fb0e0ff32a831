// Package service defines the lifecycle substrate shared by every
// component of a benchmark run: a common Init/Start/Stop/Heartbeat
// contract and a Supervisor that brings components up and down in
// dependency order, reporting failures to the controller (spec.md §2,
// "[AMBIENT] Service Framework").
//
// Grounded on the teacher's internal/controlplane/scheduler.
// HeartbeatMonitor start/stop lifecycle (a stopCh/stoppedCh pair guarded
// by a sync.Mutex-protected running flag), generalized from tracking
// remote worker processes to tracking in-process component goroutines.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Service is implemented by every long-running component the
// supervisor manages: the scheduler, worker pool, processor pool, and
// aggregator.
type Service interface {
	Name() string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HeartbeatReporter is implemented by services able to report their own
// liveness on demand, beyond just running without panicking.
type HeartbeatReporter interface {
	Heartbeat() error
}

// FailureSink receives a report when a supervised service fails,
// typically the controller.
type FailureSink interface {
	RegisterService(name string)
	Heartbeat(name string)
	ForgetService(name string)
	Abort(service, message string)
}

// Supervisor starts and stops a fixed, ordered list of services and
// relays failures to a FailureSink.
type Supervisor struct {
	logger   *slog.Logger
	sink     FailureSink
	services []Service

	mu      sync.Mutex
	started []Service // in start order, for reverse-order shutdown
}

func NewSupervisor(logger *slog.Logger, sink FailureSink) *Supervisor {
	return &Supervisor{logger: logger, sink: sink}
}

// Register appends a service to the managed set. Order matters:
// services start in registration order and stop in reverse.
func (s *Supervisor) Register(svc Service) {
	s.services = append(s.services, svc)
}

// StartAll initializes then starts every registered service in order,
// registering each with the failure sink's health tracking. If any
// service fails to init or start, everything already started is
// stopped in reverse order and the error is returned.
func (s *Supervisor) StartAll(ctx context.Context) error {
	for _, svc := range s.services {
		if err := svc.Init(ctx); err != nil {
			s.StopAll(ctx)
			return fmt.Errorf("service %s: init: %w", svc.Name(), err)
		}
	}

	for _, svc := range s.services {
		if s.sink != nil {
			s.sink.RegisterService(svc.Name())
		}
		if err := svc.Start(ctx); err != nil {
			s.StopAll(ctx)
			if s.sink != nil {
				s.sink.Abort(svc.Name(), err.Error())
			}
			return fmt.Errorf("service %s: start: %w", svc.Name(), err)
		}

		s.mu.Lock()
		s.started = append(s.started, svc)
		s.mu.Unlock()

		if s.logger != nil {
			s.logger.Info("service started", "service", svc.Name())
		}
	}
	return nil
}

// StopAll stops every started service in reverse start order, best
// effort (a stop failure is logged but does not halt the remaining
// shutdowns).
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	started := s.started
	s.started = nil
	s.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		if err := svc.Stop(ctx); err != nil && s.logger != nil {
			s.logger.Error("service stop failed", "service", svc.Name(), "error", err)
		}
		if s.sink != nil {
			s.sink.ForgetService(svc.Name())
		}
	}
}

// Heartbeat relays a liveness signal from a service to the failure
// sink's health tracking, for services that self-report between the
// supervisor's own checks.
func (s *Supervisor) Heartbeat(name string) {
	if s.sink != nil {
		s.sink.Heartbeat(name)
	}
}
