package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ownAll(t *testing.T, owner *Node, others ...*Node) *PartitionMap {
	builder := newPartitionMapBuilder(newPartitionMap())
	bitmaps, err := parseReplicasMaster("test:" + encodePartitionBitmap([]int{0, 1, 2, 3}))
	require.NoError(t, err)
	builder.applyBitmaps(owner, bitmaps)

	for i, other := range others {
		bitmaps, err := parseReplicasMaster("test:" + encodePartitionBitmap([]int{100 + i}))
		require.NoError(t, err)
		builder.applyBitmaps(other, bitmaps)
	}
	return builder.build()
}

func TestRemovalSingleNode(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	a := newDetachedNode(t, c, "A", "10.0.0.1")

	assert.Empty(t, findNodesToRemove([]*Node{a}, 0, newPartitionMap()))

	for a.Health() > 0 {
		a.DecreaseHealth()
	}
	assert.Equal(t, []*Node{a}, findNodesToRemove([]*Node{a}, 0, newPartitionMap()))
}

func TestRemovalInactiveAlwaysRemoved(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	a := newDetachedNode(t, c, "A", "10.0.0.1")
	b := newDetachedNode(t, c, "B", "10.0.0.2")
	d := newDetachedNode(t, c, "D", "10.0.0.3")

	for _, n := range []*Node{a, b, d} {
		n.IncreaseReferenceCount()
		n.responded.Store(true)
	}
	b.deactivate()

	pmap := ownAll(t, a, b, d)
	assert.Equal(t, []*Node{b}, findNodesToRemove([]*Node{a, b, d}, 3, pmap))
	assert.Equal(t, []*Node{b}, findNodesToRemove([]*Node{a, b}, 0, pmap))
}

func TestRemovalTwoNodes(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	a := newDetachedNode(t, c, "A", "10.0.0.1")
	b := newDetachedNode(t, c, "B", "10.0.0.2")
	nodes := []*Node{a, b}

	a.responded.Store(true)
	pmap := ownAll(t, a)

	// only the other node answered and nobody references b
	assert.Equal(t, []*Node{b}, findNodesToRemove(nodes, 1, pmap))

	// both answered or neither did, keep waiting for corroboration
	assert.Empty(t, findNodesToRemove(nodes, 2, pmap))
	assert.Empty(t, findNodesToRemove(nodes, 0, pmap))

	b.IncreaseReferenceCount()
	assert.Empty(t, findNodesToRemove(nodes, 1, pmap))
}

func TestRemovalThreeNodes(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	owner := newDetachedNode(t, c, "A", "10.0.0.1")
	empty := newDetachedNode(t, c, "B", "10.0.0.2")
	silent := newDetachedNode(t, c, "C", "10.0.0.3")
	nodes := []*Node{owner, empty, silent}

	owner.IncreaseReferenceCount()
	owner.responded.Store(true)
	empty.responded.Store(true)

	pmap := ownAll(t, owner)

	removed := findNodesToRemove(nodes, 2, pmap)
	assert.Equal(t, []*Node{empty, silent}, removed)

	// a single corroborating node is not enough
	assert.Empty(t, findNodesToRemove(nodes, 1, pmap))

	// referenced nodes survive regardless of partitions
	empty.IncreaseReferenceCount()
	silent.IncreaseReferenceCount()
	assert.Empty(t, findNodesToRemove(nodes, 3, pmap))
}

func TestRemovalThreeNodesOwnerNotRemoved(t *testing.T) {
	c := newTestCluster(t, nil, []Host{NewHost("10.0.0.1", 3000)}, nil)
	a := newDetachedNode(t, c, "A", "10.0.0.1")
	b := newDetachedNode(t, c, "B", "10.0.0.2")
	d := newDetachedNode(t, c, "D", "10.0.0.3")
	nodes := []*Node{a, b, d}

	for _, n := range nodes {
		n.responded.Store(true)
	}

	// unreferenced but every node still owns partitions
	assert.Empty(t, findNodesToRemove(nodes, 3, ownAll(t, a, b, d)))
}
