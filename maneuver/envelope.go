package maneuver

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire representation of a polymorphic Maneuver: a kind tag
// plus its kind-specific parameters. This is the same type-alias-free
// discriminated-union approach the teacher uses for its EntityPayload
// (kind tag decoded first, parameters decoded against the right concrete
// type second) adapted for a registry-driven catalog instead of a fixed enum.
type Envelope struct {
	Kind   Kind            `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// Encode wraps a concrete Maneuver into its wire Envelope.
func Encode(m Maneuver) (Envelope, error) {
	if m == nil {
		return Envelope{}, fmt.Errorf("maneuver: cannot encode nil maneuver")
	}
	params, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("maneuver: encode %s: %w", m.Kind(), err)
	}
	return Envelope{Kind: m.Kind(), Params: params}, nil
}

// Decode reconstructs a concrete Maneuver from its wire Envelope using reg's
// catalog, and validates it before returning.
func Decode(reg *Registry, env Envelope) (Maneuver, error) {
	m, err := reg.New(env.Kind)
	if err != nil {
		return nil, err
	}
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, m); err != nil {
			return nil, fmt.Errorf("maneuver: decode %s: %w", env.Kind, err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("maneuver: invalid %s: %w", env.Kind, err)
	}
	return m, nil
}
