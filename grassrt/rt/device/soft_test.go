package device

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillKernel(t *testing.T, s *Soft, group uint32) Kernel {
	t.Helper()
	k, err := s.CreateKernel(KernelDescriptor{
		Label:         "fill",
		EntryPoint:    "main",
		WorkgroupSize: group,
		Host: func(gid uint32, env *HostEnv) {
			if gid >= env.ParamUint(0) {
				return
			}
			env.SetUint(0, gid, gid*env.ParamUint(1))
		},
	})
	require.NoError(t, err)
	return k
}

func params(words ...uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func readUints(t *testing.T, s *Soft, b Buffer) []uint32 {
	t.Helper()
	data, err := s.ReadBuffer(b)
	require.NoError(t, err)
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}

func TestSoftDispatchCoversEveryItem(t *testing.T) {
	s := NewSoft(WithParallelism(4))
	buf, err := s.CreateBuffer(BufferDescriptor{Label: "out", Size: 1000 * 4, Usage: BufferUsageStorage})
	require.NoError(t, err)
	k := fillKernel(t, s, 64)

	require.NoError(t, s.Dispatch(DispatchDescriptor{
		Kernel:    k,
		Bindings:  []Binding{{Slot: 0, Buffer: buf, Access: AccessWrite}},
		Params:    params(1000, 3),
		WorkItems: 1000,
	}))

	got := readUints(t, s, buf)
	for i, v := range got {
		require.Equal(t, uint32(i*3), v)
	}
	trace := s.Trace()
	require.Len(t, trace, 1)
	assert.Equal(t, uint32(16), trace[0].Groups)
}

func TestSoftRequiresBarrierBetweenDependentDispatches(t *testing.T) {
	s := NewSoft()
	buf, err := s.CreateBuffer(BufferDescriptor{Label: "shared", Size: 64 * 4})
	require.NoError(t, err)
	k := fillKernel(t, s, 64)
	write := DispatchDescriptor{
		Kernel:    k,
		Bindings:  []Binding{{Slot: 0, Buffer: buf, Access: AccessWrite}},
		Params:    params(64, 1),
		WorkItems: 64,
	}
	read := write
	read.Bindings = []Binding{{Slot: 0, Buffer: buf, Access: AccessRead}}

	require.NoError(t, s.Dispatch(write))
	assert.ErrorIs(t, s.Dispatch(read), ErrMissingBarrier)
	assert.ErrorIs(t, s.Dispatch(write), ErrMissingBarrier)

	s.Barrier()
	require.NoError(t, s.Dispatch(DispatchDescriptor{
		Kernel: mustKernel(t, s, "reader", func(gid uint32, env *HostEnv) {
			_ = env.Uint(0, gid)
		}),
		Bindings:  read.Bindings,
		WorkItems: 64,
	}))
	// A write after an unfenced read is also a hazard.
	assert.ErrorIs(t, s.Dispatch(write), ErrMissingBarrier)
}

func mustKernel(t *testing.T, s *Soft, label string, fn HostKernel) Kernel {
	t.Helper()
	k, err := s.CreateKernel(KernelDescriptor{Label: label, WorkgroupSize: 64, Host: fn})
	require.NoError(t, err)
	return k
}

func TestSoftOutOfBoundsWriteFaults(t *testing.T) {
	s := NewSoft()
	buf, err := s.CreateBuffer(BufferDescriptor{Label: "small", Size: 10 * 4})
	require.NoError(t, err)
	k := mustKernel(t, s, "unguarded", func(gid uint32, env *HostEnv) {
		env.SetUint(0, gid, 1)
	})

	err = s.Dispatch(DispatchDescriptor{
		Kernel:    k,
		Bindings:  []Binding{{Slot: 0, Buffer: buf, Access: AccessWrite}},
		WorkItems: 10,
	})
	assert.ErrorIs(t, err, ErrKernelFault)
}

func TestSoftReadOnlyBindingRejectsWrites(t *testing.T) {
	s := NewSoft()
	buf, err := s.CreateBuffer(BufferDescriptor{Label: "ro", Size: 64 * 4})
	require.NoError(t, err)
	k := fillKernel(t, s, 64)

	err = s.Dispatch(DispatchDescriptor{
		Kernel:    k,
		Bindings:  []Binding{{Slot: 0, Buffer: buf, Access: AccessRead}},
		Params:    params(64, 1),
		WorkItems: 64,
	})
	assert.ErrorIs(t, err, ErrKernelFault)
}

func TestSoftMemoryBudget(t *testing.T) {
	s := NewSoft(WithMemoryBudget(1024))
	a, err := s.CreateBuffer(BufferDescriptor{Label: "a", Size: 768})
	require.NoError(t, err)

	_, err = s.CreateBuffer(BufferDescriptor{Label: "b", Size: 512})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrResourceAllocation))
	var allocErr *core.ResourceAllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "b", allocErr.Label)

	require.NoError(t, s.Release(a))
	_, err = s.CreateBuffer(BufferDescriptor{Label: "b", Size: 512})
	assert.NoError(t, err)
}

func TestSoftDoubleRelease(t *testing.T) {
	s := NewSoft()
	buf, err := s.CreateBuffer(BufferDescriptor{Label: "once", Size: 16})
	require.NoError(t, err)
	require.Equal(t, 1, s.LiveResources())

	require.NoError(t, s.Release(buf))
	assert.ErrorIs(t, s.Release(buf), ErrReleased)
	assert.Equal(t, 0, s.LiveResources())
	assert.Equal(t, uint64(0), s.Allocated())

	assert.ErrorIs(t, s.WriteBuffer(buf, 0, make([]byte, 4)), ErrReleased)
}

func TestSoftCompilerFailure(t *testing.T) {
	s := NewSoft(WithCompiler(func(label, source string) error {
		return errors.New("1:1: unexpected token")
	}))
	_, err := s.CreateKernel(KernelDescriptor{Label: "bad", WorkgroupSize: 64, Host: func(uint32, *HostEnv) {}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrKernelCompilation))
	assert.Contains(t, err.Error(), "unexpected token")
	assert.Equal(t, 0, s.LiveResources())

	_, err = NewSoft().CreateKernel(KernelDescriptor{Label: "nohost", WorkgroupSize: 64})
	assert.True(t, errors.Is(err, core.ErrKernelCompilation))
}

func TestSoftDrawResolvesInstanceOrder(t *testing.T) {
	s := NewSoft()
	order, err := s.CreateBuffer(BufferDescriptor{Label: "order", Size: 4 * 4})
	require.NoError(t, err)
	require.NoError(t, s.WriteBuffer(order, 0, params(3, 1, 0, 2)))

	p, err := s.CreateRenderPipeline(RenderPipelineDescriptor{
		Label: "draw",
		Host: func(i uint32, env *HostEnv) uint32 {
			return env.Uint(0, i)
		},
	})
	require.NoError(t, err)

	desc := DrawDescriptor{
		Pipeline:      p,
		IndexCount:    6,
		InstanceCount: 4,
		Bindings:      []Binding{{Slot: 0, Buffer: order, Access: AccessRead}},
	}
	assert.Error(t, s.Draw(desc), "draw outside a frame")

	require.NoError(t, s.BeginFrame())
	require.NoError(t, s.Draw(desc))
	require.NoError(t, s.EndFrame())

	draws := s.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, []uint32{3, 1, 0, 2}, draws[0].Order)
}

func TestSoftTraceStaysBoundedAcrossFrames(t *testing.T) {
	run := func(s *Soft, frames int) {
		buf, err := s.CreateBuffer(BufferDescriptor{Label: "out", Size: 64 * 4, Usage: BufferUsageStorage})
		require.NoError(t, err)
		k := fillKernel(t, s, 64)
		p, err := s.CreateRenderPipeline(RenderPipelineDescriptor{Label: "draw"})
		require.NoError(t, err)
		for f := 0; f < frames; f++ {
			require.NoError(t, s.BeginFrame())
			require.NoError(t, s.Dispatch(DispatchDescriptor{
				Kernel:    k,
				Bindings:  []Binding{{Slot: 0, Buffer: buf, Access: AccessWrite}},
				Params:    params(64, uint32(f)),
				WorkItems: 64,
			}))
			s.Barrier()
			require.NoError(t, s.Draw(DrawDescriptor{Pipeline: p, IndexCount: 3, InstanceCount: uint32(f + 1)}))
			require.NoError(t, s.Submit())
			require.NoError(t, s.EndFrame())
		}
	}

	s := NewSoft(WithTraceLimit(16, 4))
	run(s, 200)
	trace, draws := s.Trace(), s.Draws()
	assert.LessOrEqual(t, len(trace), 16)
	assert.NotEmpty(t, trace)
	assert.Equal(t, OpSubmit, trace[len(trace)-1].Kind)
	require.NotEmpty(t, draws)
	assert.LessOrEqual(t, len(draws), 4)
	assert.Equal(t, uint32(200), draws[len(draws)-1].InstanceCount)

	def := NewSoft()
	run(def, 3000)
	assert.LessOrEqual(t, len(def.Trace()), DefaultTraceOps)
	assert.LessOrEqual(t, len(def.Draws()), DefaultTraceDraws)

	off := NewSoft(WithTraceLimit(0, 0))
	run(off, 10)
	assert.Empty(t, off.Trace())
	assert.Empty(t, off.Draws())
}

func TestSoftImageLoadWraps(t *testing.T) {
	s := NewSoft()
	texels := []float32{0, 1, 2, 3, 4, 5}
	im, err := s.CreateImage(ImageDescriptor{Label: "img", Width: 3, Height: 2, Format: ImageFormatR32Float}, texels)
	require.NoError(t, err)
	out, err := s.CreateBuffer(BufferDescriptor{Label: "out", Size: 4})
	require.NoError(t, err)

	k := mustKernel(t, s, "sample", func(gid uint32, env *HostEnv) {
		if gid > 0 {
			return
		}
		env.SetFloat(1, 0, env.Image(0).Load(-1, 3)[0])
	})
	require.NoError(t, s.Dispatch(DispatchDescriptor{
		Kernel: k,
		Bindings: []Binding{
			{Slot: 0, Image: im, Access: AccessRead},
			{Slot: 1, Buffer: out, Access: AccessWrite},
		},
		WorkItems: 1,
	}))
	data, err := s.ReadBuffer(out)
	require.NoError(t, err)
	assert.Equal(t, []float32{5}, Float32s(data))

	_, err = s.CreateImage(ImageDescriptor{Label: "short", Width: 3, Height: 2, Format: ImageFormatRGBA32Float}, texels)
	assert.True(t, errors.Is(err, core.ErrConfiguration))
}

func TestWorkgroups(t *testing.T) {
	assert.Equal(t, uint32(1), Workgroups(1, 256))
	assert.Equal(t, uint32(1), Workgroups(256, 256))
	assert.Equal(t, uint32(2), Workgroups(257, 256))
	assert.Equal(t, uint32(0), Workgroups(0, 256))
}
