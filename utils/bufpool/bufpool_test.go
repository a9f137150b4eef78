package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGetSizesToClass(t *testing.T) {
	p := New(16, 64)

	b := p.Get(10)
	require.Len(t, *b, 10)
	assert.Equal(t, 16, cap(*b))

	b = p.Get(17)
	require.Len(t, *b, 17)
	assert.Equal(t, 64, cap(*b))
}

func TestPoolOversizedIsExact(t *testing.T) {
	p := New(16)

	b := p.Get(100)
	require.Len(t, *b, 100)
	assert.Equal(t, 100, cap(*b))

	// not retained, must not panic
	p.Put(b)
	p.Put(nil)
}

func TestPoolPutRestoresCapacity(t *testing.T) {
	p := New(32)

	b := p.Get(4)
	p.Put(b)
	assert.Len(t, *b, 32)

	b = p.Get(32)
	assert.Len(t, *b, 32)
}

func TestPoolDefaultSizes(t *testing.T) {
	p := New()
	b := p.Get(1000)
	assert.Equal(t, 4<<10, cap(*b))
}
