package cluster

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeDeactivateIsAbsorbing(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	node := newDetachedNode(t, c, "A1", "10.0.0.1")

	require.True(t, node.IsActive())
	assert.Equal(t, nodeStateActive, node.State())

	var wg sync.WaitGroup
	var transitions sync.Map
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if node.deactivate() {
				transitions.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	transitions.Range(func(key, value any) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count)
	assert.False(t, node.IsActive())
	assert.False(t, node.deactivate())
	assert.Equal(t, nodeStateInactive, node.State())
}

func TestNodeHealth(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	node := newDetachedNode(t, c, "A1", "10.0.0.1")

	assert.Equal(t, FullHealth, node.Health())
	assert.False(t, node.IsUnhealthy())

	for i := 0; i < FullHealth; i++ {
		node.DecreaseHealth()
	}
	assert.Equal(t, 0, node.Health())
	assert.True(t, node.IsUnhealthy())

	node.RestoreHealth()
	assert.Equal(t, FullHealth, node.Health())
	assert.False(t, node.IsUnhealthy())
}

func TestNodeAliases(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	node := newDetachedNode(t, c, "A1", "10.0.0.1")

	assert.False(t, node.addAlias(NewHost("10.0.0.1", 3000)))
	assert.True(t, node.addAlias(NewHost("db1", 3000)))
	assert.False(t, node.addAlias(Host{Name: "db1", Port: 3000, TLSName: "tls"}))

	assert.ElementsMatch(t, []Host{NewHost("10.0.0.1", 3000), NewHost("db1", 3000)}, node.Aliases())
}

func TestNodeRacks(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	node := newDetachedNode(t, c, "A1", "10.0.0.1")

	_, ok := node.Rack("test")
	assert.False(t, ok)
	assert.False(t, node.HasRack("test", 1))

	node.setRacks(map[string]int{"test": 1})
	rack, ok := node.Rack("test")
	assert.True(t, ok)
	assert.Equal(t, 1, rack)
	assert.True(t, node.HasRack("test", 1))
	assert.False(t, node.HasRack("test", 2))
}

func TestNodeGetConnectionInactive(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	node := newDetachedNode(t, c, "A1", "10.0.0.1")

	node.Close()

	_, err := node.GetConnection(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidNode)
}

func TestNodeGetConnectionDialFailure(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	node := newDetachedNode(t, c, "A1", "10.0.0.1")

	_, err := node.GetConnection(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, FullHealth-1, node.Health())
	assert.Equal(t, 0, node.ConnectionPool().Total())
}

func TestGeneration(t *testing.T) {
	g := newGeneration()
	assert.Equal(t, int64(unknownGeneration), g.Value())

	g.Observe(5)
	assert.True(t, g.Changed())
	assert.Equal(t, int64(unknownGeneration), g.Value())

	g.Commit()
	assert.False(t, g.Changed())
	assert.Equal(t, int64(5), g.Value())

	g.Observe(5)
	assert.False(t, g.Changed())

	g.Invalidate()
	assert.False(t, g.Changed())
	g.Observe(5)
	assert.True(t, g.Changed())
}
