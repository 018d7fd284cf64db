package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// Entry is one WAL record: (seq, kind, key, value-or-none, CRC).
type Entry struct {
	Seq   uint64
	Kind  types.OpKind
	Key   types.Key
	Value types.Value // ignored by Delete on replay; nil/empty otherwise allowed
}

// headerLen is the fixed portion of an encoded entry preceding key/value:
// seq(8) + kind(1) + key_len(4) + val_len(4).
const headerLen = 8 + 1 + 4 + 4

// trailerLen is the CRC32 trailer.
const trailerLen = 4

// encode packs e as (seq, kind, key_len, val_len, key, value, crc32).
// The CRC covers every byte preceding it.
func encode(e Entry) []byte {
	n := headerLen + len(e.Key) + len(e.Value) + trailerLen
	buf := make([]byte, n)
	binary.BigEndian.PutUint64(buf[0:8], e.Seq)
	buf[8] = byte(e.Kind)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(e.Key)))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(e.Value)))
	off := headerLen
	off += copy(buf[off:], e.Key)
	off += copy(buf[off:], e.Value)
	crc := crc32.ChecksumIEEE(buf[:off])
	binary.BigEndian.PutUint32(buf[off:off+4], crc)
	return buf
}

// decodeAt decodes one entry starting at buf[0:], returning the entry and
// the number of bytes consumed. It returns kverrors.Corruption if the header
// is truncated, lengths overrun the buffer, or the CRC does not match.
func decodeAt(buf []byte) (Entry, int, error) {
	if len(buf) < headerLen {
		return Entry{}, 0, kverrors.New("wal.decode", kverrors.Corruption)
	}
	seq := binary.BigEndian.Uint64(buf[0:8])
	kind := types.OpKind(buf[8])
	keyLen := int(binary.BigEndian.Uint32(buf[9:13]))
	valLen := int(binary.BigEndian.Uint32(buf[13:17]))
	total := headerLen + keyLen + valLen + trailerLen
	if keyLen < 0 || valLen < 0 || total > len(buf) {
		return Entry{}, 0, kverrors.New("wal.decode", kverrors.Corruption)
	}
	off := headerLen
	key := append(types.Key(nil), buf[off:off+keyLen]...)
	off += keyLen
	var value types.Value
	if valLen > 0 {
		value = append(types.Value(nil), buf[off:off+valLen]...)
	}
	off += valLen
	wantCRC := binary.BigEndian.Uint32(buf[off : off+4])
	gotCRC := crc32.ChecksumIEEE(buf[:off])
	if wantCRC != gotCRC {
		return Entry{}, 0, kverrors.New("wal.decode", kverrors.Corruption)
	}
	return Entry{Seq: seq, Kind: kind, Key: key, Value: value}, total, nil
}
