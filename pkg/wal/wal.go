package wal

import (
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/log"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// Stats reports WAL activity for diagnostics and recovery bookkeeping.
// TotalWrites carries over the sequences assigned through earlier handles on
// the same directory; the other counters cover this handle only.
type Stats struct {
	TotalWrites     uint64
	Recoveries      uint64
	ReplayedEntries uint64
	Rotations       uint64
	Fsyncs          uint64
}

// WAL is the append-only write stream. Segments are compacted only when a
// caller invokes Compact; no background goroutine compacts them.
// One WAL instance owns one directory.
type WAL struct {
	cfg Config
	dir string

	mu      sync.Mutex // guards active, nextID, pending
	meta    *metaStore
	active  *segment
	nextID  uint64
	seq     uint64 // atomic, last assigned sequence
	pending int    // entries appended since last sync

	stats Stats // fields updated via atomic add

	stopCh chan struct{}
	wg     sync.WaitGroup

	closed int32 // atomic
}

// Open opens (or creates) a WAL rooted at cfg.Dir, replaying no entries
// itself — callers drive recovery explicitly via Recover so they control
// which snapshot sequence to resume from.
func Open(cfg Config) (*WAL, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, kverrors.Wrap("wal.open", kverrors.IO, err)
	}
	ms, err := openMetaStore(cfg.Dir)
	if err != nil {
		return nil, err
	}
	segs, err := ms.list()
	if err != nil {
		ms.close()
		return nil, err
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].ID < segs[j].ID })

	w := &WAL{cfg: cfg, dir: cfg.Dir, meta: ms, stopCh: make(chan struct{})}

	// Only Sync and rotate persist segment metadata, so an unsealed
	// segment's LastSeq can trail its file; take it from the entries.
	for i := range segs {
		if segs[i].Sealed {
			continue
		}
		_, _ = readAllSegment(segs[i].Path, func(e Entry) error {
			if e.Seq > segs[i].LastSeq {
				segs[i].LastSeq = e.Seq
			}
			return nil
		})
	}

	var lastSeq uint64
	var nextID uint64
	for _, m := range segs {
		if m.ID >= nextID {
			nextID = m.ID + 1
		}
		if m.LastSeq > lastSeq {
			lastSeq = m.LastSeq
		}
	}
	w.nextID = nextID
	atomic.StoreUint64(&w.seq, lastSeq)
	// Every Append assigns one sequence, so the last sequence counts the
	// writes made through earlier handles.
	atomic.StoreUint64(&w.stats.TotalWrites, lastSeq)

	var act *segment
	for i := range segs {
		if !segs[i].Sealed {
			act, err = openSegment(segs[i])
			if err != nil {
				ms.close()
				return nil, err
			}
			break
		}
	}
	if act == nil {
		act, err = createSegment(cfg.Dir, w.nextID, lastSeq+1)
		if err != nil {
			ms.close()
			return nil, err
		}
		w.nextID++
		if err := ms.put(act.meta); err != nil {
			ms.close()
			return nil, err
		}
	}
	w.active = act

	w.wg.Add(1)
	go w.fsyncLoop()

	metrics.Register("wal", true)
	return w, nil
}

// Append durably queues one mutation. It assigns the next monotonic
// sequence, writes the packed record, and batches fsync (every FsyncEvery
// entries or FsyncInterval, whichever comes first); callers
// needing a synchronous guarantee call Sync explicitly.
//
// Internal I/O errors are retried up to cfg.MaxAppendRetries times with
// bounded exponential backoff before escalating to kverrors.IO.
func (w *WAL) Append(kind types.OpKind, key types.Key, value types.Value) (uint64, error) {
	if atomic.LoadInt32(&w.closed) != 0 {
		return 0, kverrors.New("wal.append", kverrors.InvalidState)
	}
	seq := atomic.AddUint64(&w.seq, 1)
	e := Entry{Seq: seq, Kind: kind, Key: key.Clone(), Value: value.Clone()}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(w.cfg.MaxAppendRetries))
	err := backoff.Retry(func() error {
		w.mu.Lock()
		defer w.mu.Unlock()
		_, err := w.active.append(e)
		return err
	}, bo)
	if err != nil {
		return 0, kverrors.Wrap("wal.append", kverrors.IO, err)
	}

	atomic.AddUint64(&w.stats.TotalWrites, 1)
	metrics.WALAppendsTotal.Inc()

	w.mu.Lock()
	w.pending++
	needSync := w.pending >= w.cfg.FsyncEvery
	needRotate := w.active.meta.Bytes >= w.cfg.SegmentBytes || w.active.meta.Entries >= w.cfg.SegmentEntries
	w.mu.Unlock()

	if needSync {
		if err := w.Sync(); err != nil {
			return seq, err
		}
	}
	if needRotate {
		if err := w.rotate(); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

// Sync forces an fsync of the active segment and resets the pending-entry
// counter, regardless of the batching threshold.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.active.sync(); err != nil {
		return err
	}
	if err := w.meta.put(w.active.meta); err != nil {
		return err
	}
	w.pending = 0
	atomic.AddUint64(&w.stats.Fsyncs, 1)
	metrics.WALFsyncsTotal.Inc()
	return nil
}

// rotate seals the active segment and opens a new one. Must not be called
// while w.mu is held.
func (w *WAL) rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.active.sync(); err != nil {
		return err
	}
	w.active.meta.Sealed = true
	if err := w.meta.put(w.active.meta); err != nil {
		return err
	}
	if err := w.active.close(); err != nil {
		return err
	}

	next, err := createSegment(w.dir, w.nextID, w.active.meta.LastSeq+1)
	if err != nil {
		return err
	}
	w.nextID++
	if err := w.meta.put(next.meta); err != nil {
		return err
	}
	w.active = next
	w.pending = 0
	atomic.AddUint64(&w.stats.Rotations, 1)
	metrics.WALSegmentRotationsTotal.Inc()
	return nil
}

// Recover replays every entry with sequence greater than fromSeq, ordering
// segments by first sequence and entries by their place in the segment,
// invoking apply for each. It stops and
// returns kverrors.Corruption at the first CRC/framing mismatch
// encountered. Recovery statistics are recorded regardless of outcome.
func (w *WAL) Recover(fromSeq uint64, apply func(Entry) error) error {
	segs, err := w.meta.list()
	if err != nil {
		return err
	}
	// A compacted segment takes a fresh ID but holds older sequences.
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].FirstSeq != segs[j].FirstSeq {
			return segs[i].FirstSeq < segs[j].FirstSeq
		}
		return segs[i].ID < segs[j].ID
	})

	var replayed int
	for _, m := range segs {
		// An unsealed segment's stored LastSeq can trail its file.
		if m.Sealed && m.LastSeq < fromSeq {
			continue
		}
		_, err := readAllSegment(m.Path, func(e Entry) error {
			if e.Seq <= fromSeq {
				return nil
			}
			if err := apply(e); err != nil {
				return err
			}
			replayed++
			return nil
		})
		if err != nil {
			atomic.AddUint64(&w.stats.Recoveries, 1)
			atomic.AddUint64(&w.stats.ReplayedEntries, uint64(replayed))
			if kverrors.Is(err, kverrors.Corruption) {
				metrics.SetHealthy("wal", false, "log corruption during replay")
			}
			return err
		}
	}
	atomic.AddUint64(&w.stats.Recoveries, 1)
	atomic.AddUint64(&w.stats.ReplayedEntries, uint64(replayed))
	metrics.WALRecoveriesTotal.Inc()
	metrics.WALRecoveryReplayedEntries.Add(float64(replayed))
	return nil
}

// Stats returns a snapshot of cumulative WAL counters.
func (w *WAL) Stats() Stats {
	return Stats{
		TotalWrites:     atomic.LoadUint64(&w.stats.TotalWrites),
		Recoveries:      atomic.LoadUint64(&w.stats.Recoveries),
		ReplayedEntries: atomic.LoadUint64(&w.stats.ReplayedEntries),
		Rotations:       atomic.LoadUint64(&w.stats.Rotations),
		Fsyncs:          atomic.LoadUint64(&w.stats.Fsyncs),
	}
}

// fsyncLoop is the background batch-fsync thread.
func (w *WAL) fsyncLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FsyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			pending := w.pending
			w.mu.Unlock()
			if pending > 0 {
				if err := w.Sync(); err != nil {
					log.Logger.Error().Err(err).Msg("wal: periodic fsync failed")
				}
			}
		case <-w.stopCh:
			return
		}
	}
}

// Close stops the background fsync thread, flushes the active segment, and
// releases the metadata store. Idempotent.
func (w *WAL) Close() error {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return nil
	}
	close(w.stopCh)
	w.wg.Wait()

	w.mu.Lock()
	err := w.active.sync()
	closeErr := w.active.close()
	w.mu.Unlock()
	if err == nil {
		err = closeErr
	}
	if metaErr := w.meta.close(); err == nil {
		err = metaErr
	}
	metrics.Deregister("wal")
	return err
}

// LastSeq returns the most recently assigned sequence number.
func (w *WAL) LastSeq() uint64 {
	return atomic.LoadUint64(&w.seq)
}
