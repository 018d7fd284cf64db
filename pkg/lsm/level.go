package lsm

import (
	"sort"
	"sync"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// levelManager is the in-memory mirror of the manifest's live-table list,
// organized by level: L0 holds overlapping files in flush order, L1..Ln
// hold non-overlapping, size-tiered files sorted by key range.
type levelManager struct {
	mu     sync.RWMutex
	levels map[int][]tableInfo
	tables map[uint64]*SSTable // opened handles, keyed by table ID
	maxLvl int
}

func newLevelManager() *levelManager {
	return &levelManager{levels: make(map[int][]tableInfo), tables: make(map[uint64]*SSTable)}
}

func (lm *levelManager) load(all []tableInfo, open func(path string) (*SSTable, error)) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, t := range all {
		lm.levels[t.Level] = append(lm.levels[t.Level], t)
		if t.Level > lm.maxLvl {
			lm.maxLvl = t.Level
		}
		sst, err := open(t.Path)
		if err != nil {
			return err
		}
		lm.tables[t.ID] = sst
	}
	for lvl := range lm.levels {
		lm.sortLevelLocked(lvl)
	}
	return nil
}

func (lm *levelManager) sortLevelLocked(level int) {
	if level == 0 {
		return // L0 stays in flush (insertion) order: newest last
	}
	tbls := lm.levels[level]
	sort.Slice(tbls, func(i, j int) bool {
		return types.Compare(types.Key(tbls[i].MinKey), types.Key(tbls[j].MinKey)) < 0
	})
}

// addTable registers a newly flushed or compacted table, already opened.
func (lm *levelManager) addTable(t tableInfo, sst *SSTable) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.levels[t.Level] = append(lm.levels[t.Level], t)
	lm.tables[t.ID] = sst
	if t.Level > lm.maxLvl {
		lm.maxLvl = t.Level
	}
	lm.sortLevelLocked(t.Level)
}

// removeTables drops the given table IDs from level after a compaction has
// superseded them.
func (lm *levelManager) removeTables(level int, ids map[uint64]bool) []*SSTable {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	var removed []*SSTable
	kept := lm.levels[level][:0]
	for _, t := range lm.levels[level] {
		if ids[t.ID] {
			if sst, ok := lm.tables[t.ID]; ok {
				removed = append(removed, sst)
				delete(lm.tables, t.ID)
			}
			continue
		}
		kept = append(kept, t)
	}
	lm.levels[level] = kept
	return removed
}

// get scans levels from 0 upward, returning the first match. Within a
// level, L0 is scanned newest-first (later flushes shadow earlier ones);
// L1+ levels are non-overlapping so at most one file can match.
func (lm *levelManager) get(key types.Key) (types.Record, bool, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	if l0 := lm.levels[0]; len(l0) > 0 {
		for i := len(l0) - 1; i >= 0; i-- {
			sst := lm.tables[l0[i].ID]
			if sst == nil {
				continue
			}
			rec, ok, err := sst.Get(key)
			if err != nil {
				return types.Record{}, false, err
			}
			if ok {
				return rec, true, nil
			}
		}
	}
	for lvl := 1; lvl <= lm.maxLvl; lvl++ {
		tbls := lm.levels[lvl]
		idx := sort.Search(len(tbls), func(i int) bool {
			return types.Compare(types.Key(tbls[i].MinKey), key) > 0
		}) - 1
		if idx < 0 {
			continue
		}
		sst := lm.tables[tbls[idx].ID]
		if sst == nil {
			continue
		}
		rec, ok, err := sst.Get(key)
		if err != nil {
			return types.Record{}, false, err
		}
		if ok {
			return rec, true, nil
		}
	}
	return types.Record{}, false, nil
}

// levelSnapshot returns a copy of level's table list.
func (lm *levelManager) levelSnapshot(level int) []tableInfo {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make([]tableInfo, len(lm.levels[level]))
	copy(out, lm.levels[level])
	return out
}

func (lm *levelManager) sstableByID(id uint64) *SSTable {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.tables[id]
}

func (lm *levelManager) deepestLevel() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.maxLvl
}

// overlapping returns every table in level whose [MinKey, MaxKey] range
// intersects [lo, hi]. Used to find L1+ merge partners for
// an L0 or Ln file.
func (lm *levelManager) overlapping(level int, lo, hi types.Key) []tableInfo {
	tbls := lm.levelSnapshot(level)
	var out []tableInfo
	for _, t := range tbls {
		if types.Compare(types.Key(t.MaxKey), lo) < 0 {
			continue
		}
		if types.Compare(types.Key(t.MinKey), hi) > 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}
