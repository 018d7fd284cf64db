package lsm

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

var (
	tablesBucket = []byte("tables")
	metaBucket   = []byte("meta")
)

var checkpointKey = []byte("last_wal_seq")

// tableInfo is the manifest's record of one live SSTable.
type tableInfo struct {
	ID     uint64
	Level  int
	Path   string
	MinKey []byte
	MaxKey []byte
	Size   int64
}

// manifest is the authoritative list of live SSTables per level, persisted
// in a bbolt database exactly the way pkg/wal persists segment metadata
// (see doc.go): every Update call is one atomic, fsynced commit, so a
// compaction's table swap is never observable half-applied.
type manifest struct {
	mu      sync.Mutex
	db      *bolt.DB
	nextID  uint64
	dir     string
}

func openManifest(dir string) (*manifest, error) {
	db, err := bolt.Open(filepath.Join(dir, "manifest.db"), 0o600, nil)
	if err != nil {
		return nil, kverrors.Wrap("lsm.manifest.open", kverrors.IO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(tablesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, kverrors.Wrap("lsm.manifest.open", kverrors.IO, err)
	}

	m := &manifest{db: db, dir: dir}
	tables, err := m.list()
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, t := range tables {
		if t.ID >= m.nextID {
			m.nextID = t.ID + 1
		}
	}
	return m, nil
}

func tableKey(level int, id uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(level)
	binary.BigEndian.PutUint64(buf[1:], id)
	return buf
}

func (m *manifest) newTableID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	return id
}

// addTable persists t. Intended to be called only after t.Path has been
// fully written and fsynced to disk.
func (m *manifest) addTable(t tableInfo) error {
	data, err := json.Marshal(t)
	if err != nil {
		return kverrors.Wrap("lsm.manifest.add", kverrors.IO, err)
	}
	err = m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tablesBucket).Put(tableKey(t.Level, t.ID), data)
	})
	if err != nil {
		return kverrors.Wrap("lsm.manifest.add", kverrors.IO, err)
	}
	return nil
}

func (m *manifest) removeTable(level int, id uint64) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tablesBucket).Delete(tableKey(level, id))
	})
	if err != nil {
		return kverrors.Wrap("lsm.manifest.remove", kverrors.IO, err)
	}
	return nil
}

func (m *manifest) list() ([]tableInfo, error) {
	var out []tableInfo
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tablesBucket).ForEach(func(_, v []byte) error {
			var t tableInfo
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, kverrors.Wrap("lsm.manifest.list", kverrors.IO, err)
	}
	return out, nil
}

// setCheckpoint records the last WAL sequence whose mutation is durably
// reflected in some flushed SSTable, so recovery knows where to resume
// replay.
func (m *manifest) setCheckpoint(seq uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(checkpointKey, buf)
	})
	if err != nil {
		return kverrors.Wrap("lsm.manifest.checkpoint", kverrors.IO, err)
	}
	return nil
}

func (m *manifest) checkpoint() (uint64, error) {
	var seq uint64
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(checkpointKey)
		if v == nil {
			return nil
		}
		seq = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return 0, kverrors.Wrap("lsm.manifest.checkpoint", kverrors.IO, err)
	}
	return seq, nil
}

func (m *manifest) close() error {
	if err := m.db.Close(); err != nil {
		return kverrors.Wrap("lsm.manifest.close", kverrors.IO, err)
	}
	return nil
}
