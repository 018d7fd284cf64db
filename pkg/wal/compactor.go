package wal

import (
	"os"
	"sort"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// Compact coalesces every sealed segment whose entire sequence range is
// <= upToSeq into a single new segment holding only the most recent
// operation per key. upToSeq is normally the
// sequence of the most recent durable snapshot: compaction never removes a
// segment that recovery might still need to reconstruct state past the last
// snapshot.
//
// Old segment files are only deleted after the compacted segment has been
// written, metadata persisted, and fsynced — so a crash mid-compaction
// leaves both the old and new segments present and recovery simply replays
// both (the new segment's entries are a strict subset in effect, replayed
// in sequence order like any other segment).
func (w *WAL) Compact(upToSeq uint64) error {
	segs, err := w.meta.list()
	if err != nil {
		return err
	}
	// Merge oldest sequences first: a segment from an earlier Compact has a
	// higher ID than the segments written after it.
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].FirstSeq != segs[j].FirstSeq {
			return segs[i].FirstSeq < segs[j].FirstSeq
		}
		return segs[i].ID < segs[j].ID
	})

	var toMerge []segmentMeta
	for _, m := range segs {
		if m.Sealed && m.LastSeq <= upToSeq {
			toMerge = append(toMerge, m)
		}
	}
	if len(toMerge) < 2 {
		return nil // nothing worth compacting
	}

	latest := make(map[string]Entry)
	order := make([]string, 0)
	var minSeq, maxSeq uint64
	for i, m := range toMerge {
		if i == 0 {
			minSeq = m.FirstSeq
		}
		if m.LastSeq > maxSeq {
			maxSeq = m.LastSeq
		}
		_, err := readAllSegment(m.Path, func(e Entry) error {
			ks := string(e.Key)
			if _, seen := latest[ks]; !seen {
				order = append(order, ks)
			}
			latest[ks] = e
			return nil
		})
		if err != nil {
			return err
		}
	}

	w.mu.Lock()
	compactID := w.nextID
	w.nextID++
	w.mu.Unlock()

	seg, err := createSegment(w.dir, compactID, minSeq)
	if err != nil {
		return err
	}
	for _, k := range order {
		e := latest[k]
		if _, err := seg.append(e); err != nil {
			seg.close()
			return err
		}
	}
	seg.meta.LastSeq = maxSeq
	seg.meta.Sealed = true
	if err := seg.sync(); err != nil {
		seg.close()
		return err
	}
	if err := w.meta.put(seg.meta); err != nil {
		seg.close()
		return err
	}
	if err := seg.close(); err != nil {
		return err
	}

	for _, m := range toMerge {
		if err := w.meta.delete(m.ID); err != nil {
			return kverrors.Wrap("wal.compact", kverrors.IO, err)
		}
		if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
			return kverrors.Wrap("wal.compact", kverrors.IO, err)
		}
	}
	return nil
}
