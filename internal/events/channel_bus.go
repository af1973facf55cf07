// Package events provides in-process implementations of the public event
// bus interface.
package events

import (
	"github.com/aegis-labs/aegis/pkg/aegis/v1/events"
	aegislog "github.com/aegis-labs/aegis/pkg/aegis/v1/log"
)

// ChannelEventBus implements events.Bus on a buffered Go channel. Emission
// never blocks: the manager and the monitor publish from hot paths,
// including the sampling goroutine, so a full buffer drops the event with a
// warning instead of stalling safety-critical work.
type ChannelEventBus struct {
	channel chan events.Event
	log     aegislog.Logger
}

// NewChannelEventBus creates a bus with the given buffer size (default 100
// when non-positive). Panics on a nil logger; the bus cannot report drops
// without one.
func NewChannelEventBus(bufferSize int, log aegislog.Logger) *ChannelEventBus {
	const defaultBufferSize = 100
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}

	return &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
}

// Emit sends the event without blocking, dropping it if the buffer is full.
func (c *ChannelEventBus) Emit(event events.Event) {
	select {
	case c.channel <- event:
	default:
		c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
	}
}

// GetChannel exposes the underlying channel for in-process consumers such
// as the metrics listener. Read-only; not part of the public Bus interface.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close closes the channel, signalling consumers that no more events follow.
func (c *ChannelEventBus) Close() {
	close(c.channel)
}

var _ events.Bus = (*ChannelEventBus)(nil)
