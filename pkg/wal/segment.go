package wal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// segmentMeta is the bbolt-persisted record of one segment file.
type segmentMeta struct {
	ID       uint64 `json:"id"`
	Path     string `json:"path"`
	FirstSeq uint64 `json:"first_seq"`
	LastSeq  uint64 `json:"last_seq"`
	Entries  int    `json:"entries"`
	Bytes    int64  `json:"bytes"`
	Sealed   bool   `json:"sealed"`
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("seg-%020d.wal", id))
}

// segment wraps one open WAL file plus its running metadata.
type segment struct {
	meta segmentMeta
	f    *os.File
}

func createSegment(dir string, id uint64, firstSeq uint64) (*segment, error) {
	path := segmentPath(dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, kverrors.Wrap("wal.createSegment", kverrors.IO, err)
	}
	return &segment{meta: segmentMeta{ID: id, Path: path, FirstSeq: firstSeq, LastSeq: firstSeq - 1}, f: f}, nil
}

func openSegment(meta segmentMeta) (*segment, error) {
	flags := os.O_RDWR
	if !meta.Sealed {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(meta.Path, flags, 0o600)
	if err != nil {
		return nil, kverrors.Wrap("wal.openSegment", kverrors.IO, err)
	}
	s := &segment{meta: meta, f: f}
	return s, nil
}

func (s *segment) append(e Entry) (int64, error) {
	buf := encode(e)
	n, err := s.f.Write(buf)
	if err != nil {
		return 0, kverrors.Wrap("wal.append", kverrors.IO, err)
	}
	s.meta.Entries++
	s.meta.Bytes += int64(n)
	s.meta.LastSeq = e.Seq
	return int64(n), nil
}

func (s *segment) sync() error {
	if err := s.f.Sync(); err != nil {
		return kverrors.Wrap("wal.sync", kverrors.IO, err)
	}
	return nil
}

func (s *segment) close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return kverrors.Wrap("wal.closeSegment", kverrors.IO, err)
	}
	return nil
}

// readAllSegment replays every entry in the segment file in order, invoking fn for
// each. It stops and returns kverrors.Corruption at the first CRC or
// framing mismatch.
func readAllSegment(path string, fn func(Entry) error) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, kverrors.Wrap("wal.readSegment", kverrors.IO, err)
	}
	count := 0
	off := 0
	for off < len(data) {
		e, n, err := decodeAt(data[off:])
		if err != nil {
			return count, err
		}
		if err := fn(e); err != nil {
			return count, err
		}
		off += n
		count++
	}
	return count, nil
}
