package comms

import (
	"encoding/binary"
	"fmt"

	"github.com/epicore/epycore/internal/value"
)

// wireSize is the fixed encoding of a scalar Value crossing a NATS
// payload: Kind (1 byte) + Num (int64) + Flt (float64) + Ptr (uint64).
// Only scalar INT/REAL/BOOLEAN/NONE values carry meaningful cross-node
// semantics — a STRING/ARRAY Ptr is a local heap address and isn't
// resolvable on a remote node, matching spec.md §4.6's scope (§1 Non-goals
// excludes distributed shared heap access).
const wireSize = 1 + 8 + 8 + 8

func encodeValue(v value.Value) []byte {
	buf := make([]byte, wireSize)
	buf[0] = byte(v.Kind)
	binary.LittleEndian.PutUint64(buf[1:], uint64(v.Num))
	binary.LittleEndian.PutUint64(buf[9:], mathFloatBits(v.Flt))
	binary.LittleEndian.PutUint64(buf[17:], v.Ptr)
	return buf
}

func decodeValue(buf []byte) (value.Value, error) {
	if len(buf) != wireSize {
		return value.NewNone(), fmt.Errorf("comms: malformed value payload, got %d bytes want %d", len(buf), wireSize)
	}
	v := value.Value{
		Kind: value.Kind(buf[0]),
		Num:  int64(binary.LittleEndian.Uint64(buf[1:])),
		Flt:  mathFloatFromBits(binary.LittleEndian.Uint64(buf[9:])),
		Ptr:  binary.LittleEndian.Uint64(buf[17:]),
	}
	return v, nil
}
