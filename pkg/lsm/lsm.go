package lsm

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/log"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/wal"
)

// LSM is the alternative storage-engine path: a
// MemTable manager backed by leveled, compacted SSTables, all mutations
// durable through pkg/wal before they ever touch the MemTable.
//
// Lock ordering is fixed: LSM's own top-level mu is never
// held while calling into mm (the MemTable manager), because freezeActive
// may itself acquire mm's lock. No current method takes mu; the closed flag
// is an atomic. Structural MemTable and level mutations take their own
// locks, always in tree -> MemTable-manager order.
type LSM struct {
	cfg Config

	wal  *wal.WAL
	mm   *memManager
	lvl  *levelManager
	manifest *manifest
	comp *compactor

	mu     sync.RWMutex
	closed int32 // atomic

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New opens (or creates) an LSM engine rooted at cfg.Dir, replaying any WAL
// entries not yet reflected in a flushed SSTable per the manifest's
// checkpoint.
func New(cfg Config) (*LSM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, kverrors.Wrap("lsm.open", kverrors.IO, err)
	}

	mf, err := openManifest(cfg.Dir)
	if err != nil {
		return nil, err
	}
	lvl := newLevelManager()
	tables, err := mf.list()
	if err != nil {
		mf.close()
		return nil, err
	}
	if err := lvl.load(tables, OpenSSTable); err != nil {
		mf.close()
		return nil, err
	}

	w, err := wal.Open(cfg.WAL)
	if err != nil {
		mf.close()
		return nil, err
	}

	mm := newMemManager()
	checkpoint, err := mf.checkpoint()
	if err != nil {
		w.Close()
		mf.close()
		return nil, err
	}
	err = w.Recover(checkpoint, func(e wal.Entry) error {
		switch e.Kind {
		case types.OpDelete:
			mm.current().put(e.Key, nil, true)
		default:
			mm.current().put(e.Key, e.Value, false)
		}
		return nil
	})
	if err != nil && !kverrors.Is(err, kverrors.Corruption) {
		w.Close()
		mf.close()
		return nil, err
	}

	l := &LSM{cfg: cfg, wal: w, mm: mm, lvl: lvl, manifest: mf, stopCh: make(chan struct{})}
	l.comp = newCompactor(l, cfg.CompactionWorkers, DefaultCompactionQueueCapacity)
	l.wg.Add(1)
	go l.flushLoop()
	metrics.Register("lsm", true)
	return l, nil
}

// flushLoop bounds MemTable staleness: a non-empty active table is frozen
// and flushed after cfg.FlushInterval even when no size or entry threshold
// was crossed.
func (l *LSM) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if l.mm.current().len() > 0 {
				l.freezeAndFlush(l.wal.LastSeq())
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *LSM) isClosed() bool { return atomic.LoadInt32(&l.closed) != 0 }

// Put inserts or overwrites key.
func (l *LSM) Put(key types.Key, value types.Value) error {
	return l.write("lsm.put", types.OpPut, key, value, false, false)
}

// Delete removes key, returning NotFound if it is already absent.
func (l *LSM) Delete(key types.Key) error {
	return l.write("lsm.delete", types.OpDelete, key, nil, true, true)
}

// Update overwrites an existing key, returning NotFound if absent.
func (l *LSM) Update(key types.Key, value types.Value) error {
	return l.write("lsm.update", types.OpUpdate, key, value, false, true)
}

func (l *LSM) write(op string, kind types.OpKind, key types.Key, value types.Value, tombstone, requireExisting bool) error {
	if l.isClosed() {
		return kverrors.New(op, kverrors.InvalidState)
	}
	if requireExisting {
		if _, err := l.Get(key); err != nil {
			return err
		}
	}

	start := time.Now()
	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("lsm", kind.String()))
	metrics.EngineOpsTotal.WithLabelValues("lsm", kind.String()).Inc()

	watermark := l.wal.LastSeq()
	if _, err := l.wal.Append(kind, key, value); err != nil {
		return kverrors.Wrap(op, kverrors.IO, err)
	}
	newSize := l.mm.current().put(key, value, tombstone)
	newLen := l.mm.current().len()
	if newSize >= l.cfg.MemTableBytes || newLen >= l.cfg.MemTableEntries {
		l.freezeAndFlush(watermark)
	}
	return nil
}

// Get returns a fresh copy of the value for key, checking the active and
// frozen MemTables (newest write wins) before falling through to the
// on-disk levels.
func (l *LSM) Get(key types.Key) (types.Value, error) {
	start := time.Now()
	defer metrics.ObserveSince(start, metrics.EngineOpDuration.WithLabelValues("lsm", "get"))
	metrics.EngineOpsTotal.WithLabelValues("lsm", "get").Inc()

	if rec, ok := l.mm.get(key); ok {
		if rec.Deleted {
			return nil, kverrors.New("lsm.get", kverrors.NotFound)
		}
		return rec.Value.Clone(), nil
	}
	rec, ok, err := l.lvl.get(key)
	if err != nil {
		return nil, kverrors.Wrap("lsm.get", kverrors.IO, err)
	}
	if !ok || rec.Deleted {
		return nil, kverrors.New("lsm.get", kverrors.NotFound)
	}
	return rec.Value.Clone(), nil
}

// Count returns the number of live (non-tombstoned) unique keys, merging
// MemTable and on-disk state. O(N) like the array engine's baseline scan;
// the LSM path trades Count's cost for fast point lookups and writes.
func (l *LSM) Count() int {
	seen := make(map[string]bool)
	live := 0
	visit := func(recs []types.Record) {
		for _, r := range recs {
			k := string(r.Key)
			if seen[k] {
				continue
			}
			seen[k] = true
			if !r.Deleted {
				live++
			}
		}
	}
	visit(l.mm.current().snapshot())
	frozen := l.mm.frozenTables()
	for i := len(frozen) - 1; i >= 0; i-- {
		visit(frozen[i].snapshot())
	}
	for lvlNum := 0; lvlNum <= l.lvl.deepestLevel(); lvlNum++ {
		for _, t := range l.lvl.levelSnapshot(lvlNum) {
			sst := l.lvl.sstableByID(t.ID)
			if sst == nil {
				continue
			}
			recs, err := sst.AllRecords()
			if err != nil {
				continue
			}
			visit(recs)
		}
	}
	return live
}

// BatchPut inserts or overwrites every pair; not transactional.
func (l *LSM) BatchPut(keys []types.Key, values []types.Value) error {
	if len(keys) != len(values) {
		return kverrors.New("lsm.batch_put", kverrors.InvalidArg)
	}
	for i := range keys {
		if err := l.Put(keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// freezeAndFlush snapshots the WAL watermark captured just before this
// write (a deliberately conservative lower bound: it is safe for the
// checkpoint to undercount, since replaying an already-applied entry is
// idempotent, but never safe to overcount), freezes the active MemTable
// (mm's own lock only, never LSM's top-level lock), and
// flushes it to a new L0 SSTable on a background goroutine.
func (l *LSM) freezeAndFlush(watermark uint64) {
	frozen := l.mm.freezeActive()
	if frozen.len() == 0 {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.flushTable(frozen, watermark)
	}()
}

func (l *LSM) flushTable(t *memTable, watermark uint64) {
	records := t.snapshot()
	if len(records) == 0 {
		l.mm.dropFlushed(t)
		return
	}
	id := l.manifest.newTableID()
	path := filepath.Join(l.cfg.Dir, fmt.Sprintf("L0-%d.sst", id))
	if err := WriteSSTable(path, records, l.cfg.BlockSize, l.cfg.BloomFPRate); err != nil {
		log.Logger.Error().Err(err).Msg("lsm: flush failed, MemTable retained for retry")
		metrics.SetHealthy("lsm", false, "sstable flush failed")
		return
	}
	sst, err := OpenSSTable(path)
	if err != nil {
		log.Logger.Error().Err(err).Msg("lsm: flushed sstable failed to open")
		return
	}
	info := tableInfo{
		ID:     id,
		Level:  0,
		Path:   path,
		MinKey: records[0].Key,
		MaxKey: records[len(records)-1].Key,
		Size:   fileSize(path),
	}
	if err := l.manifest.addTable(info); err != nil {
		log.Logger.Error().Err(err).Msg("lsm: manifest add failed after flush")
		return
	}
	l.lvl.addTable(info, sst)
	if err := l.manifest.setCheckpoint(watermark); err != nil {
		log.Logger.Error().Err(err).Msg("lsm: checkpoint update failed after flush")
	}
	l.mm.dropFlushed(t)
	metrics.SetHealthy("lsm", true, "")
	metrics.LSMFlushesTotal.Inc()
	metrics.LSMSSTableCount.WithLabelValues("0").Set(float64(len(l.lvl.levelSnapshot(0))))

	l.maybeScheduleCompaction(0)
}

// maybeScheduleCompaction checks level against its trigger and, if
// crossed, enqueues a compaction task.
func (l *LSM) maybeScheduleCompaction(level int) {
	if level == 0 {
		l0 := l.lvl.levelSnapshot(0)
		if len(l0) < l.cfg.Level0CompactionTrigger {
			return
		}
		lo, hi := l0[0].MinKey, l0[0].MaxKey
		for _, t := range l0[1:] {
			if types.Compare(types.Key(t.MinKey), types.Key(lo)) < 0 {
				lo = t.MinKey
			}
			if types.Compare(types.Key(t.MaxKey), types.Key(hi)) > 0 {
				hi = t.MaxKey
			}
		}
		overlaps := l.lvl.overlapping(1, lo, hi)
		l.comp.schedule(compactionTask{srcLevel: 0, dstLevel: 1, inputs: l0, overlaps: overlaps})
		return
	}

	tbls := l.lvl.levelSnapshot(level)
	if len(tbls) == 0 {
		return
	}
	var total int64
	for _, t := range tbls {
		total += t.Size
	}
	threshold := l.cfg.MemTableBytes * int64(math.Pow(float64(l.cfg.LevelSizeMultiplier), float64(level)))
	if total < threshold {
		return
	}
	victim := tbls[0]
	overlaps := l.lvl.overlapping(level+1, victim.MinKey, victim.MaxKey)
	l.comp.schedule(compactionTask{srcLevel: level, dstLevel: level + 1, inputs: []tableInfo{victim}, overlaps: overlaps})
}

// Close destroys the LSM engine. Order matters: the flush loop and in-flight
// flushes are joined first, then the compaction scheduler, all with no hold
// on mu, then the WAL is closed, then the manifest. MemTables need no explicit teardown
// beyond being dropped; outstanding data is already durable in the WAL and
// will replay on the next Open.
func (l *LSM) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	close(l.stopCh)
	l.wg.Wait()
	l.comp.close()

	var err error
	if walErr := l.wal.Close(); walErr != nil {
		err = walErr
	}
	if mfErr := l.manifest.close(); err == nil {
		err = mfErr
	}
	metrics.Deregister("lsm")
	log.WithEngine("lsm").Debug().Msg("engine closed")
	return err
}
