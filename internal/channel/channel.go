// Package channel connects chat transports to the message bus. Each channel
// turns transport-specific updates into bus.InboundMessage and delivers
// bus.OutboundMessage back out.
package channel

import (
	"context"

	"github.com/hamdamlab/hamdam/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel carries the pieces every channel shares.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, bus: b, allowFrom: allowFrom}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed checks the sender allowlist. An empty allowlist means the
// channel is open to everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, allowed := range c.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}
