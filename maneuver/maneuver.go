// Package maneuver defines the catalog of atomic vehicle actions a plan can
// string together, and the registry the Engine State Machine consults to
// reject plans containing maneuver kinds the vehicle never registered
// support for (the RegisterManeuver contract, SPEC_FULL.md §4.6).
package maneuver

import (
	"fmt"
	"sync"

	"github.com/c360studio/planengine/nav"
)

// Kind identifies a maneuver type. The original DUNE message family uses a
// stable 16-bit numeric id; this reimplementation keeps the same notion of
// stability but spells it as a short string so the JSON wire envelope stays
// human-inspectable (SPEC_FULL.md §6).
type Kind string

const (
	KindGoto           Kind = "goto"
	KindLoiter         Kind = "loiter"
	KindStationKeeping Kind = "station_keeping"
	KindIdle           Kind = "idle"
)

// Maneuver is an atomic vehicle action with typed parameters. Implementations
// must be side-effect free: they are evaluated repeatedly during parse,
// statistics computation, and progress reporting.
type Maneuver interface {
	Kind() Kind
	Validate() error
	// EstimatedDuration is used for progress fraction and ETA computation.
	EstimatedDuration() float64 // seconds
	// EstimatedDistance is used for fuel prediction; from is the vehicle
	// position (or predecessor maneuver's end position) before this maneuver
	// begins.
	EstimatedDistance(from nav.Position) float64 // meters
	// EndPosition is the position the vehicle is expected to occupy once this
	// maneuver completes, used to chain distance estimates across a plan.
	EndPosition(from nav.Position) nav.Position
}

// Factory builds a zero-value Maneuver of a given kind so its parameters can
// be decoded onto it.
type Factory func() Maneuver

// Registry maps maneuver kinds to factories and tracks which kinds the
// vehicle has declared support for via RegisterManeuver messages. Grounded on
// the module registry / plugin-discovery pattern (simple map + mutex) used for skill-plugin registration in the example pack.
type Registry struct {
	mu         sync.RWMutex
	factories  map[Kind]Factory
	supported  map[Kind]bool
}

// NewRegistry returns a Registry pre-populated with the built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[Kind]Factory),
		supported: make(map[Kind]bool),
	}
	r.register(KindGoto, func() Maneuver { return &Goto{} })
	r.register(KindLoiter, func() Maneuver { return &Loiter{} })
	r.register(KindStationKeeping, func() Maneuver { return &StationKeeping{} })
	r.register(KindIdle, func() Maneuver { return &IdleManeuver{} })
	return r
}

func (r *Registry) register(k Kind, f Factory) {
	r.factories[k] = f
}

// New constructs a zero-value Maneuver for kind, or an error if the kind is
// not in the catalog.
func (r *Registry) New(k Kind) (Maneuver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[k]
	if !ok {
		return nil, fmt.Errorf("maneuver: unknown kind %q", k)
	}
	return f(), nil
}

// MarkSupported records that the vehicle has registered support for kind,
// mirroring consume(RegisterManeuver) in the original source.
func (r *Registry) MarkSupported(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supported[k] = true
}

// IsSupported reports whether the vehicle has declared support for kind.
func (r *Registry) IsSupported(k Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supported[k]
}

// Supported returns a snapshot of all kinds currently marked supported.
func (r *Registry) Supported() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Kind, 0, len(r.supported))
	for k, ok := range r.supported {
		if ok {
			out = append(out, k)
		}
	}
	return out
}
