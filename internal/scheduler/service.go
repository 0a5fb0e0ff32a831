package scheduler

import "context"

// AsService adapts a Scheduler to the internal/service.Service
// contract: Start launches Run in the background, Stop cancels it and
// waits for the run loop to return.
type AsService struct {
	*Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(s *Scheduler) *AsService {
	return &AsService{Scheduler: s}
}

func (a *AsService) Name() string { return "scheduler" }

func (a *AsService) Init(ctx context.Context) error { return nil }

func (a *AsService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		if err := a.Scheduler.Run(runCtx); err != nil && a.logger != nil {
			a.logger.Error("scheduler run failed", "error", err)
		}
	}()
	return nil
}

func (a *AsService) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		<-a.done
	}
	return nil
}
