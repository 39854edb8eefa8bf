package events

import (
	"encoding/json"
	"fmt"
)

// Upcaster rewrites a payload from one schema version to the next.
type Upcaster func(payload json.RawMessage) (json.RawMessage, error)

type registration struct {
	currentVersion int
	factory        func() any
	upcasts        map[int]Upcaster
}

// Registry maps event types to payload types so handlers receive typed
// payloads instead of raw maps. Upcasters run before decoding, stepping the
// payload from its stored schema version up to the current one.
type Registry struct {
	types map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]registration)}
}

// Register binds an event type to its current payload shape. upcasts maps a
// source schema version to the rewrite that produces version+1; nil is fine
// when only one version exists.
func (r *Registry) Register(eventType string, currentVersion int, factory func() any, upcasts map[int]Upcaster) {
	if currentVersion <= 0 {
		currentVersion = 1
	}
	r.types[eventType] = registration{
		currentVersion: currentVersion,
		factory:        factory,
		upcasts:        upcasts,
	}
}

// Decode upcasts the envelope payload to the current schema version and
// unmarshals it into the registered type.
func (r *Registry) Decode(env Envelope) (any, error) {
	reg, ok := r.types[env.EventType]
	if !ok {
		return nil, fmt.Errorf("unregistered event type %q", env.EventType)
	}

	payload := env.Payload
	version := env.SchemaVersion
	if version <= 0 {
		version = 1
	}
	for version < reg.currentVersion {
		upcast, ok := reg.upcasts[version]
		if !ok {
			return nil, fmt.Errorf("no upcaster from schema version %d for %q", version, env.EventType)
		}
		next, err := upcast(payload)
		if err != nil {
			return nil, fmt.Errorf("upcast %q v%d: %w", env.EventType, version, err)
		}
		payload = next
		version++
	}

	out := reg.factory()
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, fmt.Errorf("decode %q: %w", env.EventType, err)
	}
	return out, nil
}
