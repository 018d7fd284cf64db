package lsm

import (
	"sort"
	"sync"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// memTable is a single ordered, in-memory table: a sorted slice of records
// mutated under its own reader-writer lock. Lookups binary-search; inserts
// keep the slice sorted by key. Tombstones (Record.Deleted) are kept in
// place so a frozen table's Get can still shadow an older SSTable version.
type memTable struct {
	mu      sync.RWMutex
	records []types.Record
	bytes   int64
	seq     uint64
}

func newMemTable() *memTable {
	return &memTable{}
}

func (m *memTable) findLocked(key types.Key) int {
	return sort.Search(len(m.records), func(i int) bool {
		return types.Compare(m.records[i].Key, key) >= 0
	})
}

// put inserts or overwrites key. Returns the table's new approximate byte
// size so callers can decide whether to freeze it.
func (m *memTable) put(key types.Key, value types.Value, deleted bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	i := m.findLocked(key)
	if i < len(m.records) && types.Compare(m.records[i].Key, key) == 0 {
		m.bytes += int64(len(value)) - int64(len(m.records[i].Value))
		m.records[i].Value = value.Clone()
		m.records[i].Deleted = deleted
		m.records[i].Seq = m.seq
		return m.bytes
	}
	rec := types.Record{Key: key.Clone(), Value: value.Clone(), Seq: m.seq, Deleted: deleted}
	m.records = append(m.records, types.Record{})
	copy(m.records[i+1:], m.records[i:])
	m.records[i] = rec
	m.bytes += int64(len(key)) + int64(len(value)) + recordOverhead
	return m.bytes
}

// recordOverhead approximates the fixed per-record cost (seq, flags,
// length prefixes) for the freeze-threshold estimate; it need not be exact.
const recordOverhead = 24

// get returns the record for key, its presence (including tombstones), and
// whether the key was found at all in this table.
func (m *memTable) get(key types.Key) (types.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.findLocked(key)
	if i < len(m.records) && types.Compare(m.records[i].Key, key) == 0 {
		return m.records[i], true
	}
	return types.Record{}, false
}

// snapshot returns a sorted copy of every record currently held, for
// flushing to an SSTable.
func (m *memTable) snapshot() []types.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *memTable) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *memTable) size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

// memManager owns the active MemTable plus zero or more frozen tables
// awaiting flush. Its own lock is acquired only by freeze
// and by flush's post-write removal; Get/Put on the active table take no
// manager-level hold beyond a read of the active pointer, keeping reads
// cheap.
type memManager struct {
	mu     sync.RWMutex
	active *memTable
	frozen []*memTable // oldest first
}

func newMemManager() *memManager {
	return &memManager{active: newMemTable()}
}

// current returns the active table reference under a read hold.
func (mm *memManager) current() *memTable {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.active
}

// freezeActive atomically swaps in a fresh active table and appends the old
// one to frozen, returning the table that was just frozen. This takes the
// manager's writer hold: the LSM tree's own top-level lock must never be
// held while calling this (see lsm.go).
func (mm *memManager) freezeActive() *memTable {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	old := mm.active
	mm.active = newMemTable()
	mm.frozen = append(mm.frozen, old)
	return old
}

// dropFlushed removes t from the frozen list once it has been durably
// written to an SSTable.
func (mm *memManager) dropFlushed(t *memTable) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for i, f := range mm.frozen {
		if f == t {
			mm.frozen = append(mm.frozen[:i], mm.frozen[i+1:]...)
			return
		}
	}
}

// frozenTables returns a snapshot of the frozen-table list, oldest first.
func (mm *memManager) frozenTables() []*memTable {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := make([]*memTable, len(mm.frozen))
	copy(out, mm.frozen)
	return out
}

// get checks the active table, then frozen tables newest-first, so the most
// recent write for a key always wins.
func (mm *memManager) get(key types.Key) (types.Record, bool) {
	if rec, ok := mm.current().get(key); ok {
		return rec, true
	}
	frozen := mm.frozenTables()
	for i := len(frozen) - 1; i >= 0; i-- {
		if rec, ok := frozen[i].get(key); ok {
			return rec, true
		}
	}
	return types.Record{}, false
}
