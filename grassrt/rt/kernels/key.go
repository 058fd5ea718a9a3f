package kernels

import (
	"encoding/binary"
	"math"
)

const (
	SentinelDistance float32 = math.MaxFloat32
	SentinelIndex    uint32  = 0xFFFFFFFF
)

// Key is one sort entry: squared camera distance and the instance it names.
type Key struct {
	Distance float32
	Index    uint32
}

// Sentinel pads the key buffer up to a power of two; it sorts last.
func Sentinel() Key { return Key{Distance: SentinelDistance, Index: SentinelIndex} }

func (k Key) IsSentinel() bool { return k.Index == SentinelIndex }

// Greater orders keys by distance, then by index.
func (k Key) Greater(o Key) bool {
	return k.Distance > o.Distance || (k.Distance == o.Distance && k.Index > o.Index)
}

// InOrder reports whether a at idx and b at its partner already satisfy
// the direction stage k wants for idx.
func InOrder(idx, k uint32, a, b Key) bool {
	if idx&k == 0 {
		return !a.Greater(b)
	}
	return !b.Greater(a)
}

// CompareExchange applies one bitonic comparator to keys in place. Only
// the lower index of a pair acts.
func CompareExchange(keys []Key, idx, k, j uint32) {
	l := idx ^ j
	if l <= idx || int(l) >= len(keys) {
		return
	}
	if !InOrder(idx, k, keys[idx], keys[l]) {
		keys[idx], keys[l] = keys[l], keys[idx]
	}
}

func EncodeKeys(keys []Key) []byte {
	out := make([]byte, len(keys)*KeyWords*4)
	for i, k := range keys {
		binary.LittleEndian.PutUint32(out[i*8:], math.Float32bits(k.Distance))
		binary.LittleEndian.PutUint32(out[i*8+4:], k.Index)
	}
	return out
}

func DecodeKeys(data []byte) []Key {
	out := make([]Key, len(data)/8)
	for i := range out {
		out[i] = Key{
			Distance: math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:])),
			Index:    binary.LittleEndian.Uint32(data[i*8+4:]),
		}
	}
	return out
}
