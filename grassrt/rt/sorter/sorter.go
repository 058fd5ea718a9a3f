// Package sorter runs the bitonic network over a key buffer whose length is
// a power of two. Every (K, J) stage is its own dispatch followed by a
// barrier; stages are never batched.
package sorter

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/kernels"
)

// PadCount is the key buffer length for n live keys: the next power of two.
// PadCount(0) is 1 so an empty tile still has a valid buffer.
func PadCount(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Stage is one (K, J) step of the network.
type Stage struct {
	K uint32
	J uint32
}

// Stages lists the network for n = 2^m keys: K = 2..n doubling and, for
// each K, J = K/2..1 halving. The length is m(m+1)/2.
func Stages(n int) []Stage {
	if n < 2 || n&(n-1) != 0 {
		return nil
	}
	m := bits.Len(uint(n)) - 1
	out := make([]Stage, 0, m*(m+1)/2)
	for k := uint32(2); k <= uint32(n); k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			out = append(out, Stage{K: k, J: j})
		}
	}
	return out
}

// StageCount is len(Stages(n)) without building the slice.
func StageCount(n int) int {
	if n < 2 {
		return 0
	}
	m := bits.Len(uint(n)) - 1
	return m * (m + 1) / 2
}

// SortHost runs the same network on the CPU. len(keys) must be a power of
// two; pad with kernels.Sentinel first.
func SortHost(keys []kernels.Key) error {
	n := len(keys)
	if n != PadCount(n) {
		return core.NewConfigurationError("keys", n, "length must be a power of two")
	}
	for _, st := range Stages(n) {
		for idx := uint32(0); idx < uint32(n); idx++ {
			kernels.CompareExchange(keys, idx, st.K, st.J)
		}
	}
	return nil
}

// Pad appends sentinels up to PadCount(len(keys)).
func Pad(keys []kernels.Key) []kernels.Key {
	for len(keys) < PadCount(len(keys)) {
		keys = append(keys, kernels.Sentinel())
	}
	return keys
}

// Sorter owns the compiled bitonic step and sorts one key buffer in place.
type Sorter struct {
	dev    device.Context
	kernel device.Kernel
	keys   device.Buffer
	n      int
}

// New compiles the step kernel for a key buffer of n entries.
func New(dev device.Context, keys device.Buffer, n int) (*Sorter, error) {
	if n < 1 || n != PadCount(n) {
		return nil, core.NewConfigurationError("sortLength", n, "must be a positive power of two")
	}
	if keys.Size() < uint64(n*kernels.KeyWords*4) {
		return nil, core.NewConfigurationError("sortLength", n, fmt.Sprintf("key buffer %q holds only %d bytes", keys.Label(), keys.Size()))
	}
	k, err := dev.CreateKernel(kernels.BitonicStep())
	if err != nil {
		return nil, err
	}
	return &Sorter{dev: dev, kernel: k, keys: keys, n: n}, nil
}

func (s *Sorter) Len() int { return s.n }

// Sort dispatches every stage over all n items with a barrier after each.
// The context is only checked before the first stage: a started sort
// always runs to completion.
func (s *Sorter) Sort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bind := []device.Binding{{Slot: kernels.BitonicKeysSlot, Buffer: s.keys, Access: device.AccessReadWrite}}
	for _, st := range Stages(s.n) {
		err := s.dev.Dispatch(device.DispatchDescriptor{
			Kernel:    s.kernel,
			Bindings:  bind,
			Params:    kernels.BitonicParams{K: st.K, J: st.J, N: uint32(s.n)}.Bytes(),
			WorkItems: uint32(s.n),
		})
		if err != nil {
			return fmt.Errorf("bitonic stage k=%d j=%d: %w", st.K, st.J, err)
		}
		s.dev.Barrier()
	}
	return nil
}

func (s *Sorter) Release() error {
	if s.kernel == nil {
		return nil
	}
	err := s.dev.Release(s.kernel)
	s.kernel = nil
	return err
}
