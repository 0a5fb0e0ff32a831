package bus

import (
	"context"
	"errors"
)

// ErrReplyTimeout is returned by Call when the context is cancelled
// before a reply arrives.
var ErrReplyTimeout = errors.New("bus: reply timed out")

// Replier answers a request/reply call (spec.md §4.1: "synchronous calls,
// e.g. dataset lookup by conversation id").
type Replier func(ctx context.Context, request any) (any, error)

// ReplyChannel binds a single Replier to a name so callers across
// components can invoke it without a direct reference to the service
// implementing it.
type ReplyChannel struct {
	name    string
	replier Replier
}

func NewReplyChannel(name string, replier Replier) *ReplyChannel {
	return &ReplyChannel{name: name, replier: replier}
}

func (r *ReplyChannel) Name() string { return r.name }

// Call invokes the bound replier, honoring context cancellation.
func (r *ReplyChannel) Call(ctx context.Context, request any) (any, error) {
	if r.replier == nil {
		return nil, errors.New("bus: no replier bound to " + r.name)
	}

	type result struct {
		reply any
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		reply, err := r.replier(ctx, request)
		resultCh <- result{reply, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ErrReplyTimeout
	case res := <-resultCh:
		return res.reply, res.err
	}
}
