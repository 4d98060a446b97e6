package events

import "nftlend/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Envelope adapts a raw *types.Event to the Event interface.
type Envelope struct {
	Raw *types.Event
}

// EventType implements Event.
func (e Envelope) EventType() string {
	if e.Raw == nil {
		return ""
	}
	return e.Raw.Type
}

// Event returns the wrapped payload.
func (e Envelope) Event() *types.Event { return e.Raw }

// Wrap converts a payload into an Event.
func Wrap(evt *types.Event) Event { return Envelope{Raw: evt} }
