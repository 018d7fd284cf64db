package storage

import (
	"encoding/binary"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// encodeRecords packs a record list as the opaque snapshot payload: each
// record is (key_len: u32, deleted: u8, val_len: u32, key, value),
// big-endian, no padding. Integrity is the snapshot envelope's concern
// (pkg/wal checksums the whole payload), so no per-record CRC here.
func encodeRecords(records []types.Record) []byte {
	var n int
	for _, r := range records {
		n += 9 + len(r.Key) + len(r.Value)
	}
	buf := make([]byte, 0, n)
	for _, r := range records {
		var hdr [9]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(len(r.Key)))
		if r.Deleted {
			hdr[4] = 1
		}
		binary.BigEndian.PutUint32(hdr[5:9], uint32(len(r.Value)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, r.Key...)
		buf = append(buf, r.Value...)
	}
	return buf
}

func decodeRecords(payload []byte) ([]types.Record, error) {
	var out []types.Record
	for off := 0; off < len(payload); {
		if off+9 > len(payload) {
			return nil, kverrors.New("storage.snapshot.decode", kverrors.Corruption)
		}
		klen := int(binary.BigEndian.Uint32(payload[off : off+4]))
		deleted := payload[off+4] != 0
		vlen := int(binary.BigEndian.Uint32(payload[off+5 : off+9]))
		off += 9
		if off+klen+vlen > len(payload) {
			return nil, kverrors.New("storage.snapshot.decode", kverrors.Corruption)
		}
		key := append(types.Key(nil), payload[off:off+klen]...)
		off += klen
		var val types.Value
		if vlen > 0 {
			val = append(types.Value(nil), payload[off:off+vlen]...)
		}
		off += vlen
		out = append(out, types.Record{Key: key, Value: val, Deleted: deleted})
	}
	return out, nil
}
