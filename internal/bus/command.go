package bus

import (
	"context"
	"errors"
)

// Command is issued by the controller to a single service and awaits an
// acknowledgement (spec.md §4.1 "Command" pattern).
type Command struct {
	Name    string
	Payload any
	ackCh   chan error
}

// NewCommand creates a command ready to be sent on a CommandChannel.
func NewCommand(name string, payload any) *Command {
	return &Command{Name: name, Payload: payload, ackCh: make(chan error, 1)}
}

// Ack acknowledges the command. Called exactly once by the receiving
// service.
func (c *Command) Ack(err error) {
	select {
	case c.ackCh <- err:
	default:
	}
}

// CommandChannel delivers commands to a single receiver and lets the
// sender block until acknowledged.
type CommandChannel struct {
	ch chan *Command
}

func NewCommandChannel(bufferSize int) *CommandChannel {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &CommandChannel{ch: make(chan *Command, bufferSize)}
}

// Receive exposes the channel for the owning service's select loop.
func (c *CommandChannel) Receive() <-chan *Command {
	return c.ch
}

// Send delivers a command and waits for its acknowledgement or context
// cancellation.
func (c *CommandChannel) Send(ctx context.Context, cmd *Command) error {
	select {
	case c.ch <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.ackCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var ErrCommandChannelClosed = errors.New("bus: command channel closed")
