// Package plandb implements the Plan Database Gateway (SPEC_FULL.md §4.1):
// persistence and lookup of PlanSpecifications and PlanMementos, plus the
// externally initiated PlanDB get/set/del/clear contract. It is grounded on
// the teacher's JetStream-KV-backed entity store (bucket-per-kind,
// get-or-create-on-first-use, JSON-encoded records).
package plandb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/planengine/imc"
)

// ErrNotFound is returned by LookupPlan/LookupMemento when id is absent.
var ErrNotFound = errors.New("plandb: not found")

// errClosed is returned (wrapped into a PlanDB failure reply) for any
// PlanDB request that arrives after Close.
var errClosed = errors.New("plandb: store is closed")

const (
	bucketPlans    = "plan_specs"
	bucketMementos = "plan_mementos"

	// opTimeout bounds every KV call so a stalled NATS connection cannot
	// wedge the engine's single-threaded loop (SPEC_FULL.md §5).
	opTimeout = 2 * time.Second
)

// Store is the Plan Database Gateway. Not safe for concurrent use from the
// domain's perspective (SPEC_FULL.md §4.1); the Engine SM is its only caller.
type Store struct {
	js       jetstream.JetStream
	specs    jetstream.KeyValue
	mementos jetstream.KeyValue
	closed   bool
	logger   *slog.Logger
}

// NewStore opens (or creates, with backoff retries) the two KV buckets this
// gateway is backed by. Open is idempotent: calling it again after Close
// re-runs bucket resolution.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	s := &Store{js: js, logger: slog.Default().With("component", "plandb")}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open resolves both buckets, retrying with exponential backoff since the
// JetStream account may not have finished provisioning on first connect.
func (s *Store) Open(ctx context.Context) error {
	specs, err := getOrCreateBucket(ctx, s.js, bucketPlans)
	if err != nil {
		return fmt.Errorf("plandb: open %s: %w", bucketPlans, err)
	}
	mementos, err := getOrCreateBucket(ctx, s.js, bucketMementos)
	if err != nil {
		return fmt.Errorf("plandb: open %s: %w", bucketMementos, err)
	}
	s.specs = specs
	s.mementos = mementos
	s.closed = false
	return nil
}

// Close releases the gateway's handle on the buckets. It does not delete
// them; data survives process restarts per SPEC_FULL.md §1.
func (s *Store) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	var kv jetstream.KeyValue
	op := func() error {
		existing, err := js.KeyValue(ctx, name)
		if err == nil {
			kv = existing
			return nil
		}
		created, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  name,
			History: 5,
		})
		if err != nil {
			return err
		}
		kv = created
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return kv, nil
}

// StorePlan persists spec, keyed by plan_id.
func (s *Store) StorePlan(ctx context.Context, spec imc.PlanSpecification) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("plandb: marshal plan %s: %w", spec.PlanID, err)
	}
	if _, err := s.specs.Put(ctx, spec.PlanID, data); err != nil {
		return fmt.Errorf("plandb: store plan %s: %w", spec.PlanID, err)
	}
	return nil
}

// StoreMemento persists mem, keyed by its id.
func (s *Store) StoreMemento(ctx context.Context, mem imc.PlanMemento) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("plandb: marshal memento %s: %w", mem.ID, err)
	}
	if _, err := s.mementos.Put(ctx, mem.ID, data); err != nil {
		return fmt.Errorf("plandb: store memento %s: %w", mem.ID, err)
	}
	return nil
}

// LookupPlan returns the plan specification keyed by id, or ErrNotFound.
func (s *Store) LookupPlan(ctx context.Context, id string) (imc.PlanSpecification, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	entry, err := s.specs.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return imc.PlanSpecification{}, ErrNotFound
		}
		return imc.PlanSpecification{}, fmt.Errorf("plandb: lookup plan %s: %w", id, err)
	}

	var spec imc.PlanSpecification
	if err := json.Unmarshal(entry.Value(), &spec); err != nil {
		return imc.PlanSpecification{}, fmt.Errorf("plandb: decode plan %s: %w", id, err)
	}
	return spec, nil
}

// LookupMemento returns the memento keyed by id, or ErrNotFound.
func (s *Store) LookupMemento(ctx context.Context, id string) (imc.PlanMemento, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	entry, err := s.mementos.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return imc.PlanMemento{}, ErrNotFound
		}
		return imc.PlanMemento{}, fmt.Errorf("plandb: lookup memento %s: %w", id, err)
	}

	var mem imc.PlanMemento
	if err := json.Unmarshal(entry.Value(), &mem); err != nil {
		return imc.PlanMemento{}, fmt.Errorf("plandb: decode memento %s: %w", id, err)
	}
	return mem, nil
}

// OnPlanDB handles an externally initiated PlanDB request and returns the
// paired reply for the caller to publish, per SPEC_FULL.md §4.1. Every round
// trip is tagged with a fresh correlation id so its request and reply log
// lines can be tied together.
func (s *Store) OnPlanDB(ctx context.Context, req imc.PlanDB) imc.PlanDB {
	corrID := correlationID()
	s.logger.Debug("plan db request", "corr_id", corrID, "op", req.Op, "data_type", req.DataType, "plan_id", req.PlanID)

	reply := s.resolvePlanDB(ctx, req)

	if reply.Type == imc.PlanDBTypeFailure {
		s.logger.Warn("plan db request failed", "corr_id", corrID, "op", req.Op, "plan_id", req.PlanID, "info", reply.Info)
	} else {
		s.logger.Debug("plan db request done", "corr_id", corrID, "op", req.Op, "plan_id", req.PlanID)
	}
	return reply
}

// resolvePlanDB dispatches req by operation, per SPEC_FULL.md §4.1.
func (s *Store) resolvePlanDB(ctx context.Context, req imc.PlanDB) imc.PlanDB {
	reply := imc.PlanDB{
		RequestID: req.RequestID,
		Op:        req.Op,
		DataType:  req.DataType,
		PlanID:    req.PlanID,
		Type:      imc.PlanDBTypeSuccess,
	}

	if s.closed {
		return fail(reply, errClosed)
	}

	switch req.Op {
	case imc.PlanDBGet:
		if req.DataType == imc.PlanDBDataMemento {
			mem, err := s.LookupMemento(ctx, req.PlanID)
			if err != nil {
				return fail(reply, err)
			}
			reply.Memento = &mem
			return reply
		}
		spec, err := s.LookupPlan(ctx, req.PlanID)
		if err != nil {
			return fail(reply, err)
		}
		reply.Spec = &spec
		return reply

	case imc.PlanDBSet:
		if req.DataType == imc.PlanDBDataMemento && req.Memento != nil {
			if err := s.StoreMemento(ctx, *req.Memento); err != nil {
				return fail(reply, err)
			}
			return reply
		}
		if req.Spec != nil {
			if err := s.StorePlan(ctx, *req.Spec); err != nil {
				return fail(reply, err)
			}
			return reply
		}
		return fail(reply, fmt.Errorf("plandb: set requires a spec or memento payload"))

	case imc.PlanDBDel:
		var err error
		ctx2, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		if req.DataType == imc.PlanDBDataMemento {
			err = s.mementos.Delete(ctx2, req.PlanID)
		} else {
			err = s.specs.Delete(ctx2, req.PlanID)
		}
		if err != nil && !isNotFound(err) {
			return fail(reply, err)
		}
		return reply

	case imc.PlanDBClear:
		if err := s.clearBucket(ctx, req.DataType); err != nil {
			return fail(reply, err)
		}
		return reply

	default:
		return fail(reply, fmt.Errorf("plandb: unsupported op %v", req.Op))
	}
}

func (s *Store) clearBucket(ctx context.Context, dataType imc.PlanDBDataType) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	kv := s.specs
	if dataType == imc.PlanDBDataMemento {
		kv = s.mementos
	}
	keys, err := kv.Keys(ctx)
	if err != nil && !isNotFound(err) {
		return err
	}
	for _, k := range keys {
		if err := kv.Delete(ctx, k); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

func fail(reply imc.PlanDB, err error) imc.PlanDB {
	reply.Type = imc.PlanDBTypeFailure
	reply.Info = err.Error()
	return reply
}

// isNotFound reports whether err wraps jetstream's key-not-found or
// bucket-not-found sentinel, checked with errors.Is.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrBucketNotFound)
}

// correlationID returns a fresh correlation id for log lines that span a
// PlanDB round trip (OnPlanDB's request/done or request/failed pair); not
// part of any wire message.
func correlationID() string { return uuid.NewString() }
