// Package memento implements the Memento Handler (SPEC_FULL.md §4.2): a
// bounded in-memory map from plan_ref to the specification under execution,
// used to turn a vehicle Memento message into a persistable PlanMemento.
package memento

import (
	"github.com/c360studio/planengine/imc"
)

// DefaultMaxTrackedPlanRefs is "Max Tracked Plan Refs" (SPEC_FULL.md §6).
const DefaultMaxTrackedPlanRefs = 16

// entry pairs a plan_ref with the spec that was running under it, plus
// insertion order for bounded eviction.
type entry struct {
	spec imc.PlanSpecification
	seq  uint64
}

// Handler tracks active plan references. Not safe for concurrent use; owned
// exclusively by the Engine State Machine (SPEC_FULL.md §3).
type Handler struct {
	maxTracked int
	nextSeq    uint64
	byRef      map[uint32]entry
}

// New returns a Handler bounded at maxTracked plan references.
func New(maxTracked int) *Handler {
	if maxTracked <= 0 {
		maxTracked = DefaultMaxTrackedPlanRefs
	}
	return &Handler{maxTracked: maxTracked, byRef: make(map[uint32]entry)}
}

// Add records spec as running under planRef, evicting the oldest tracked
// reference if the bound is exceeded.
func (h *Handler) Add(planRef uint32, spec imc.PlanSpecification) {
	h.nextSeq++
	h.byRef[planRef] = entry{spec: spec, seq: h.nextSeq}

	if len(h.byRef) <= h.maxTracked {
		return
	}
	var oldestRef uint32
	var oldestSeq uint64 = ^uint64(0)
	for ref, e := range h.byRef {
		if e.seq < oldestSeq {
			oldestSeq = e.seq
			oldestRef = ref
		}
	}
	delete(h.byRef, oldestRef)
}

// ProcessMemento pairs msg's plan_ref with its tracked spec to produce a
// PlanMemento. produced is false when plan_ref is unknown, in which case the
// memento is discarded per SPEC_FULL.md §4.2.
func (h *Handler) ProcessMemento(msg imc.Memento) (out imc.PlanMemento, produced bool) {
	e, ok := h.byRef[msg.PlanRef]
	if !ok {
		return imc.PlanMemento{}, false
	}
	return imc.PlanMemento{
		ID:         e.spec.PlanID,
		PlanID:     e.spec.PlanID,
		ManeuverID: msg.ManeuverID,
		Memento:    msg.Payload,
		PlanRef:    msg.PlanRef,
	}, true
}

// Len reports how many plan references are currently tracked, for tests.
func (h *Handler) Len() int { return len(h.byRef) }
