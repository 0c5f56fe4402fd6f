package responder

import (
	"context"
	"fmt"
	"log/slog"
)

// Dispatcher runs every registered responder against one message context.
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
}

func NewDispatcher(registry *Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		registry: registry,
		log:      log.With("component", "responder.dispatcher"),
	}
}

// Dispatch invokes each responder in registration order and reports
// whether any of them claimed the message.
//
// All responders run regardless of earlier claims, so several plugins may
// act on the same message. A responder that errors or panics counts as
// not-claimed and never stops the remaining responders.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Context) bool {
	claimed := false
	for _, reg := range d.registry.Snapshot() {
		ok, err := d.invoke(ctx, reg, msg)
		if err != nil {
			d.log.Error("responder failed", "name", reg.name, "error", err)
			continue
		}
		if ok {
			d.log.Debug("responder claimed message", "name", reg.name, "chat_id", msg.ChannelID)
			claimed = true
		}
	}

	return claimed
}

func (d *Dispatcher) invoke(ctx context.Context, reg registration, msg *Context) (claimed bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			claimed = false
			err = fmt.Errorf("responder panicked: %v", recovered)
		}
	}()

	return reg.responder.Handle(ctx, msg)
}
