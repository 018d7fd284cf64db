package wal

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

var segmentsBucket = []byte("segments")

// metaStore persists segment bookkeeping in a bbolt database (see doc.go).
// A single bucket maps a big-endian segment ID to its JSON-encoded
// segmentMeta.
type metaStore struct {
	db *bolt.DB
}

func openMetaStore(dir string) (*metaStore, error) {
	db, err := bolt.Open(filepath.Join(dir, "wal-meta.db"), 0o600, nil)
	if err != nil {
		return nil, kverrors.Wrap("wal.openMetaStore", kverrors.IO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(segmentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, kverrors.Wrap("wal.openMetaStore", kverrors.IO, err)
	}
	return &metaStore{db: db}, nil
}

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func (m *metaStore) put(meta segmentMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return kverrors.Wrap("wal.metaStore.put", kverrors.IO, err)
	}
	err = m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(segmentsBucket).Put(idKey(meta.ID), data)
	})
	if err != nil {
		return kverrors.Wrap("wal.metaStore.put", kverrors.IO, err)
	}
	return nil
}

func (m *metaStore) delete(id uint64) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(segmentsBucket).Delete(idKey(id))
	})
	if err != nil {
		return kverrors.Wrap("wal.metaStore.delete", kverrors.IO, err)
	}
	return nil
}

// list returns every known segment, ordered by ID ascending. A segment
// written by Compact takes a fresh ID but covers older sequences, so ID order
// is not sequence order once Compact has run.
func (m *metaStore) list() ([]segmentMeta, error) {
	var out []segmentMeta
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(segmentsBucket).ForEach(func(_, v []byte) error {
			var meta segmentMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, meta)
			return nil
		})
	})
	if err != nil {
		return nil, kverrors.Wrap("wal.metaStore.list", kverrors.IO, err)
	}
	return out, nil
}

func (m *metaStore) close() error {
	if err := m.db.Close(); err != nil {
		return kverrors.Wrap("wal.metaStore.close", kverrors.IO, err)
	}
	return nil
}
