package worker

import "context"

// AsService adapts a Pool to the internal/service.Service contract.
type AsService struct {
	*Pool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(p *Pool) *AsService {
	return &AsService{Pool: p}
}

func (a *AsService) Name() string { return "worker_pool" }

func (a *AsService) Init(ctx context.Context) error { return nil }

func (a *AsService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		a.Pool.Run(runCtx)
	}()
	return nil
}

func (a *AsService) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	// runWorker blocks on credits.Dequeue, which only wakes on a new
	// item or Close — cancelling runCtx alone never unblocks it.
	a.Pool.credits.Close()
	if a.done != nil {
		<-a.done
	}
	return nil
}
