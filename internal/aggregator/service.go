package aggregator

import (
	"context"

	"github.com/bc-dunia/inferbench/internal/bus"
	"github.com/bc-dunia/inferbench/internal/types"
)

// AsService adapts an Aggregator to the internal/service.Service
// contract: it drains a bus.Queue of MetricRecordDicts, calling Process
// on each, until the queue closes or the context is cancelled.
type AsService struct {
	*Aggregator
	metrics *bus.Queue
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewService(a *Aggregator, metrics *bus.Queue) *AsService {
	return &AsService{Aggregator: a, metrics: metrics}
}

func (a *AsService) Name() string { return "aggregator" }

func (a *AsService) Init(ctx context.Context) error { return nil }

func (a *AsService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		for {
			if runCtx.Err() != nil {
				return
			}
			env, ok := a.metrics.Dequeue()
			if !ok {
				return
			}
			dict, ok := env.Payload.(types.MetricRecordDict)
			if !ok {
				continue
			}
			a.Aggregator.Process(dict)
		}
	}()
	return nil
}

func (a *AsService) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.metrics.Close()
	if a.done != nil {
		<-a.done
	}
	return nil
}
