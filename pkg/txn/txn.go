package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/log"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// Status is a local transaction's lifecycle state.
type Status int

const (
	Active Status = iota
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// opEntry is one recorded mutation in a transaction's ordered op list.
type opEntry struct {
	kind     types.OpKind
	key      types.Key
	newValue types.Value
	oldValue types.Value
	hadOld   bool
}

// Txn is a local transaction over a single engine.Engine. Isolation governs
// when writes become visible to other callers and whether the transaction's
// own reads are latched to their first observed value.
type Txn struct {
	mu sync.Mutex

	id        string
	engine    engine.Engine
	isolation types.Isolation
	status    Status
	startedAt time.Time
	endedAt   time.Time

	ops    []opEntry
	latch  map[string]types.Value // RepeatableRead/Serializable: first-observed value per key
	latchK map[string]bool        // tracks presence separately from a nil (absent) latched value
	own    map[string]*opEntry    // most recent pending write per key, for in-txn visibility
}

// Begin starts a new transaction over eng at the given isolation level.
func Begin(eng engine.Engine, isolation types.Isolation) *Txn {
	return &Txn{
		id:        uuid.NewString(),
		engine:    eng,
		isolation: isolation,
		status:    Active,
		startedAt: time.Now(),
		latch:     make(map[string]types.Value),
		latchK:    make(map[string]bool),
		own:       make(map[string]*opEntry),
	}
}

// ID returns the transaction's local identifier.
func (t *Txn) ID() string { return t.id }

// Status returns the transaction's current lifecycle state.
func (t *Txn) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Isolation returns the transaction's configured isolation level.
func (t *Txn) Isolation() types.Isolation { return t.isolation }

// Set records (or, under ReadUncommitted, eagerly applies) a put of key=value.
func (t *Txn) Set(key types.Key, value types.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return kverrors.New("txn.set", kverrors.InvalidState)
	}

	e := opEntry{kind: types.OpPut, key: key.Clone(), newValue: value.Clone()}
	if t.isolation == types.ReadUncommitted {
		old, err := t.engine.Get(key)
		if err == nil {
			e.oldValue, e.hadOld = old, true
		} else if kverrors.KindOf(err) != kverrors.NotFound {
			return err
		}
		if err := t.engine.Put(key, value); err != nil {
			return err
		}
	}
	t.record(e)
	return nil
}

// Del records (or, under ReadUncommitted, eagerly applies) a delete of key.
func (t *Txn) Del(key types.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return kverrors.New("txn.del", kverrors.InvalidState)
	}

	e := opEntry{kind: types.OpDelete, key: key.Clone()}
	if t.isolation == types.ReadUncommitted {
		old, err := t.engine.Get(key)
		if err != nil {
			return err
		}
		e.oldValue, e.hadOld = old, true
		if err := t.engine.Delete(key); err != nil {
			return err
		}
	}
	t.record(e)
	return nil
}

// Modify records (or, under ReadUncommitted, eagerly applies) an update of
// an existing key. Unlike Set, it never inserts: absent keys fail with
// NotFound when the update is actually applied (eagerly here, or at commit
// time for non-eager isolation levels).
func (t *Txn) Modify(key types.Key, value types.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return kverrors.New("txn.modify", kverrors.InvalidState)
	}

	e := opEntry{kind: types.OpUpdate, key: key.Clone(), newValue: value.Clone()}
	if t.isolation == types.ReadUncommitted {
		old, err := t.engine.Get(key)
		if err != nil {
			return err
		}
		e.oldValue, e.hadOld = old, true
		if err := t.engine.Update(key, value); err != nil {
			return err
		}
	}
	t.record(e)
	return nil
}

// record appends e to the op list and tracks it as the key's latest pending
// write for in-transaction visibility.
func (t *Txn) record(e opEntry) {
	t.ops = append(t.ops, e)
	cp := e
	t.own[string(e.key)] = &cp
}

// Get reads key, applying isolation-specific visibility:
// the transaction's own pending writes are always visible; RepeatableRead
// and Serializable latch the first observed engine value for the rest of
// the transaction's lifetime.
func (t *Txn) Get(key types.Key) (types.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return nil, kverrors.New("txn.get", kverrors.InvalidState)
	}

	ks := string(key)
	if own, ok := t.own[ks]; ok {
		if own.kind == types.OpDelete {
			return nil, kverrors.New("txn.get", kverrors.NotFound)
		}
		return own.newValue.Clone(), nil
	}

	latches := t.isolation == types.RepeatableRead || t.isolation == types.Serializable
	if latches {
		if present, ok := t.latchK[ks]; ok {
			if !present {
				return nil, kverrors.New("txn.get", kverrors.NotFound)
			}
			return t.latch[ks].Clone(), nil
		}
	}

	v, err := t.engine.Get(key)
	if latches {
		if err == nil {
			t.latch[ks] = v.Clone()
			t.latchK[ks] = true
		} else if kverrors.KindOf(err) == kverrors.NotFound {
			t.latchK[ks] = false
		}
	}
	return v, err
}

// Commit applies the transaction. Under ReadUncommitted, ops were already
// applied eagerly, so Commit only finalizes status. Under the other three
// levels, the ordered op list is applied to the engine now, in record
// order, which is also the point writes become externally visible.
//
// Double-commit, commit-after-abort, and any op issued after commit return
// InvalidState.
func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return kverrors.New("txn.commit", kverrors.InvalidState)
	}

	if t.isolation != types.ReadUncommitted {
		for _, op := range t.ops {
			var err error
			switch op.kind {
			case types.OpPut:
				err = t.engine.Put(op.key, op.newValue)
			case types.OpDelete:
				err = t.engine.Delete(op.key)
			case types.OpUpdate:
				err = t.engine.Update(op.key, op.newValue)
			}
			if err != nil {
				return err
			}
		}
	}

	t.status = Committed
	t.endedAt = time.Now()
	metrics.TxnCommitsTotal.WithLabelValues(t.isolation.String()).Inc()
	log.WithTxnID(t.id).Debug().Msg("txn: committed")
	return nil
}

// Rollback discards the transaction. Under ReadUncommitted, captured old
// values are restored to the engine in reverse record order; under the
// other levels nothing touched the engine yet, so rollback is a pure
// discard of the op list.
func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return kverrors.New("txn.rollback", kverrors.InvalidState)
	}

	if t.isolation == types.ReadUncommitted {
		for i := len(t.ops) - 1; i >= 0; i-- {
			op := t.ops[i]
			var err error
			if op.hadOld {
				err = t.engine.Put(op.key, op.oldValue)
			} else {
				err = t.engine.Delete(op.key)
				if kverrors.KindOf(err) == kverrors.NotFound {
					err = nil
				}
			}
			if err != nil {
				return err
			}
		}
	}

	t.status = Aborted
	t.endedAt = time.Now()
	metrics.TxnAbortsTotal.WithLabelValues(t.isolation.String()).Inc()
	log.WithTxnID(t.id).Debug().Msg("txn: rolled back")
	return nil
}

// opCount exposes the op list length for tests; it is not part of the
// public contract.
func (t *Txn) opCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}
