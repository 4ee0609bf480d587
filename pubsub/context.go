package pubsub

import (
	"context"
	"fmt"
)

// Acknowledger is the per-message completion capability handed out by a transport.
type Acknowledger interface {
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// AckFuncs adapts a pair of functions to Acknowledger. Nil functions are no-ops.
type AckFuncs struct {
	AckFn  func(context.Context) error
	NackFn func(context.Context) error
}

func (a AckFuncs) Ack(ctx context.Context) error {
	if a.AckFn == nil {
		return nil
	}
	return a.AckFn(ctx)
}

func (a AckFuncs) Nack(ctx context.Context) error {
	if a.NackFn == nil {
		return nil
	}
	return a.NackFn(ctx)
}

// AckContext is attached to every inbound task. It keeps only the completion
// capability of the broker message, never the message itself.
//
// Ack and Nack may be called any number of times; repeated calls are passed to
// the broker, which owns idempotence. A zero AckContext acknowledges nothing.
type AckContext struct {
	AckID string
	acker Acknowledger
}

func NewAckContext(ackID string, acker Acknowledger) *AckContext {
	return &AckContext{AckID: ackID, acker: acker}
}

func (c *AckContext) Ack(ctx context.Context) error {
	if c == nil || c.acker == nil {
		return nil
	}
	if err := c.acker.Ack(ctx); err != nil {
		return newError(ErrCodeAck, fmt.Sprintf("ack %s", c.AckID), err)
	}
	return nil
}

func (c *AckContext) Nack(ctx context.Context) error {
	if c == nil || c.acker == nil {
		return nil
	}
	if err := c.acker.Nack(ctx); err != nil {
		return newError(ErrCodeAck, fmt.Sprintf("nack %s", c.AckID), err)
	}
	return nil
}

func (c *AckContext) String() string {
	if c == nil {
		return "AckContext{}"
	}
	return fmt.Sprintf("AckContext{AckID: %q}", c.AckID)
}
