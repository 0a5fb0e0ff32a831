package service

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name           string
	initErr        error
	startErr       error
	started, stopped bool
	stopLog        *[]string
}

func (f *fakeService) Name() string { return f.name }
func (f *fakeService) Init(ctx context.Context) error { return f.initErr }
func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}
func (f *fakeService) Stop(ctx context.Context) error {
	f.stopped = true
	if f.stopLog != nil {
		*f.stopLog = append(*f.stopLog, f.name)
	}
	return nil
}

type fakeSink struct {
	registered []string
	aborted    []string
}

func (s *fakeSink) RegisterService(name string) { s.registered = append(s.registered, name) }
func (s *fakeSink) Heartbeat(name string)        {}
func (s *fakeSink) ForgetService(name string)    {}
func (s *fakeSink) Abort(service, message string) { s.aborted = append(s.aborted, service) }

func TestStartAllStartsInOrder(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b"}
	sink := &fakeSink{}
	sup := NewSupervisor(nil, sink)
	sup.Register(a)
	sup.Register(b)

	if err := sup.StartAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.started || !b.started {
		t.Fatal("expected both services started")
	}
	if len(sink.registered) != 2 {
		t.Fatalf("expected both services registered with sink, got %v", sink.registered)
	}
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b", startErr: errors.New("boom")}
	sink := &fakeSink{}
	sup := NewSupervisor(nil, sink)
	sup.Register(a)
	sup.Register(b)

	err := sup.StartAll(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !a.stopped {
		t.Fatal("expected already-started service a to be stopped on rollback")
	}
	if len(sink.aborted) != 1 || sink.aborted[0] != "b" {
		t.Fatalf("expected sink.Abort called for b, got %v", sink.aborted)
	}
}

func TestStopAllStopsInReverseOrder(t *testing.T) {
	var order []string
	a := &fakeService{name: "a", stopLog: &order}
	b := &fakeService{name: "b", stopLog: &order}
	sup := NewSupervisor(nil, nil)
	sup.Register(a)
	sup.Register(b)
	_ = sup.StartAll(context.Background())

	sup.StopAll(context.Background())
	if !a.stopped || !b.stopped {
		t.Fatal("expected both stopped")
	}
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("expected stop order [b a], got %v", order)
	}
}
