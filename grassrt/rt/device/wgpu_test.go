package device

import (
	"errors"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingQueue struct {
	err   error
	calls int
}

func (q *failingQueue) WriteBuffer(buffer *wgpu.Buffer, offset uint64, data []byte) error {
	q.calls++
	return q.err
}

func TestQueueWriteReportsUploadFailure(t *testing.T) {
	lost := errors.New("device lost")
	q := &failingQueue{err: lost}

	err := queueWrite(q, "grass positions", nil, 0, make([]byte, 16))
	require.Error(t, err)
	assert.ErrorIs(t, err, lost)
	assert.Contains(t, err.Error(), `"grass positions"`)
	assert.Equal(t, 1, q.calls)

	q.err = nil
	assert.NoError(t, queueWrite(q, "grass positions", nil, 0, make([]byte, 16)))
}
