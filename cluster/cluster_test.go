package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarkv/stellar-client/testutils"
)

type staticResolver map[string][]string

func (r staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	addrs, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func partitionRange(from, to int) []int {
	ids := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, i)
	}
	return ids
}

// newThreeNodeCluster returns a fake cluster whose nodes A, B and C split
// the partitions of namespace test between them.
func newThreeNodeCluster() *testutils.FakeCluster {
	fc := testutils.NewFakeCluster("prod")
	fc.AddNode("A", "10.0.0.1", 3000).SetPartitions("test", partitionRange(0, 1366)...)
	fc.AddNode("B", "10.0.0.2", 3000).SetPartitions("test", partitionRange(1366, 2731)...)
	fc.AddNode("C", "10.0.0.3", 3000).SetPartitions("test", partitionRange(2731, PartitionCount)...)
	return fc
}

func requireConverged(t *testing.T, c *Cluster) {
	tendOnce(t, c)
	tendOnce(t, c)
	require.Equal(t, []string{"A", "B", "C"}, nodeNames(c.GetNodes()))
}

func TestClusterSeedAndDiscoverPeers(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)

	tendOnce(t, c)
	assert.Equal(t, []string{"A", "B", "C"}, nodeNames(c.GetNodes()))
	assert.True(t, c.IsConnected())

	// only the seed had its partitions fetched so far
	node, err := c.GetNode(NewPartition("test", 0))
	require.NoError(t, err)
	assert.Equal(t, "A", node.Name())
	_, err = c.GetNode(NewPartition("test", 2000))
	require.ErrorIs(t, err, ErrInvalidNode)

	tendOnce(t, c)

	for _, tc := range []struct {
		partition int
		owner     string
	}{{0, "A"}, {1365, "A"}, {1366, "B"}, {2730, "B"}, {2731, "C"}, {4095, "C"}} {
		node, err := c.GetNode(NewPartition("test", tc.partition))
		require.NoError(t, err)
		assert.Equal(t, tc.owner, node.Name(), "partition %d", tc.partition)
	}

	for _, node := range c.GetNodes() {
		assert.True(t, node.Responded())
		assert.Equal(t, 2, node.ReferenceCount())
		assert.Equal(t, 2, node.PeersCount())
		assert.Equal(t, FullHealth, node.Health())
	}

	// a quiet cycle neither refetches peers nor partitions
	a := fc.Node("A")
	peersRequests := a.RequestCount("peers-clear-std")
	partitionRequests := a.RequestCount("replicas-master")
	pmap := c.PartitionMap()

	tendOnce(t, c)
	assert.Equal(t, peersRequests, a.RequestCount("peers-clear-std"))
	assert.Equal(t, partitionRequests, a.RequestCount("replicas-master"))
	assert.Same(t, pmap, c.PartitionMap())
}

func TestClusterRemovesFailedNode(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)
	requireConverged(t, c)

	removed := c.GetNodeByName("C")
	require.NotNil(t, removed)
	before := c.PartitionMap()

	fc.RemoveNode(fc.Node("C"))
	tendOnce(t, c)

	assert.Equal(t, []string{"A", "B"}, nodeNames(c.GetNodes()))
	assert.False(t, removed.IsActive())
	assert.Equal(t, 0, removed.ConnectionPool().Total())

	_, err := c.GetNode(NewPartition("test", 4095))
	require.ErrorIs(t, err, ErrInvalidNode)

	// readers holding the old snapshot still see the old owner
	assert.Same(t, removed, before.Owner("test", 4095))
	assert.Nil(t, c.PartitionMap().Owner("test", 4095))
}

func TestClusterNodeNameChange(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)
	requireConverged(t, c)

	old := c.GetNodeByName("A")
	fc.Node("A").SetName("Z")

	tendOnce(t, c)

	assert.False(t, old.IsActive())
	assert.Nil(t, c.GetNodeByName("A"))
	assert.Equal(t, []string{"B", "C", "Z"}, nodeNames(c.GetNodes()))
}

func TestClusterNameMismatch(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, func(opts *Options) {
		opts.ClusterName = "prod"
	})
	requireConverged(t, c)

	b := c.GetNodeByName("B")
	fc.Node("B").SetClusterName("staging")

	tendOnce(t, c)
	assert.False(t, b.IsActive())
	assert.NotContains(t, nodeNames(c.GetNodes()), "B")
}

func TestClusterSeedWrongClusterName(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, func(opts *Options) {
		opts.ClusterName = "staging"
	})

	err := c.tend(context.Background())
	require.ErrorIs(t, err, ErrConnectFailed)
	assert.Empty(t, c.GetNodes())
	assert.False(t, c.IsConnected())
}

func TestClusterMalformedPeersKeepsState(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)
	requireConverged(t, c)

	pmap := c.PartitionMap()
	fc.Node("A").SetInfo("peers-clear-std", ",,")
	fc.BumpPeersGeneration()

	tendOnce(t, c)

	assert.Same(t, pmap, c.PartitionMap())
	assert.Equal(t, []string{"A", "B", "C"}, nodeNames(c.GetNodes()))

	a := c.GetNodeByName("A")
	assert.Equal(t, FullHealth-1, a.Health())
	assert.Equal(t, 1, a.Failures())
	assert.True(t, a.IsActive())
}

func TestClusterLegacyServices(t *testing.T) {
	fc := newThreeNodeCluster()
	for _, name := range []string{"A", "B", "C"} {
		fc.Node(name).SetLegacy()
	}
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)

	requireConverged(t, c)

	a := fc.Node("A")
	assert.Positive(t, a.RequestCount("services"))
	assert.Zero(t, a.RequestCount("peers-clear-std"))

	node, err := c.GetNode(NewPartition("test", 4095))
	require.NoError(t, err)
	assert.Equal(t, "C", node.Name())
}

func TestClusterSingleNodeReseeds(t *testing.T) {
	fc := testutils.NewFakeCluster("prod")
	fa := fc.AddNode("A", "10.0.0.1", 3000)
	fa.SetPartitions("test", testutils.AllPartitions()...)

	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)
	tendOnce(t, c)
	a := c.GetNodeByName("A")
	require.NotNil(t, a)

	fa.SetDown(true)
	for i := 0; i < FullHealth-1; i++ {
		tendOnce(t, c)
	}
	require.Equal(t, []string{"A"}, nodeNames(c.GetNodes()))
	assert.Equal(t, 1, a.Health())

	tendOnce(t, c)
	assert.Empty(t, c.GetNodes())
	assert.False(t, a.IsActive())

	fa.SetDown(false)
	tendOnce(t, c)

	reseeded := c.GetNodeByName("A")
	require.NotNil(t, reseeded)
	assert.NotSame(t, a, reseeded)

	node, err := c.GetNode(NewPartition("test", 100))
	require.NoError(t, err)
	assert.Same(t, reseeded, node)
}

func TestClusterSeedAliases(t *testing.T) {
	fc := testutils.NewFakeCluster("prod")
	fc.AddNode("A", "10.0.0.1", 3000)

	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000), NewHost("db-a", 3000)}, func(opts *Options) {
		opts.Resolver = staticResolver{"db-a": {"10.0.0.1"}}
	})
	tendOnce(t, c)

	nodes := c.GetNodes()
	require.Len(t, nodes, 1)
	assert.ElementsMatch(t, []Host{NewHost("10.0.0.1", 3000), NewHost("db-a", 3000)}, nodes[0].Aliases())
	assert.Same(t, nodes[0], c.aliasIndex()[NewHost("db-a", 3000).key()])
}

func TestClusterRackAware(t *testing.T) {
	fc := newThreeNodeCluster()
	fc.Node("A").SetRacks("ns=test:rack_1=A:rack_2=B,C")
	fc.Node("B").SetRacks("ns=test:rack_1=A:rack_2=B,C")

	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, func(opts *Options) {
		opts.RackAware = true
	})
	requireConverged(t, c)

	assert.True(t, c.GetNodeByName("A").HasRack("test", 1))
	assert.True(t, c.GetNodeByName("B").HasRack("test", 2))

	_, ok := c.GetNodeByName("C").Rack("test")
	assert.False(t, ok)
}

func TestClusterGetRandomNode(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)

	_, err := c.GetRandomNode()
	require.ErrorIs(t, err, ErrNoNodes)

	requireConverged(t, c)

	seen := make(map[string]bool)
	for i := 0; i < 6; i++ {
		node, err := c.GetRandomNode()
		require.NoError(t, err)
		seen[node.Name()] = true
	}
	assert.Len(t, seen, 3)
}

func TestClusterWatchNodes(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchCh := c.WatchNodes(ctx)
	assert.Empty(t, <-watchCh)

	tendOnce(t, c)

	select {
	case nodes := <-watchCh:
		assert.Equal(t, []string{"A", "B", "C"}, nodeNames(nodes))
	case <-time.After(time.Second):
		t.Fatalf("no node update received")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-watchCh:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestClusterClose(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)
	requireConverged(t, c)

	watchCh := c.WatchNodes(context.Background())
	<-watchCh

	nodes := c.GetNodes()
	c.Close()
	c.Close()

	for _, node := range nodes {
		assert.False(t, node.IsActive())
	}
	assert.False(t, c.IsConnected())

	_, err := c.GetNode(NewPartition("test", 0))
	require.ErrorIs(t, err, ErrClusterClosed)
	require.ErrorIs(t, c.tend(context.Background()), ErrClusterClosed)

	_, ok := <-watchCh
	assert.False(t, ok)
}

func TestNewClusterFailIfNotConnected(t *testing.T) {
	_, err := NewCluster(context.Background(), &Options{
		Seeds:              []Host{NewHost("10.0.0.1", 3000)},
		Dialer:             refusingDialer(),
		ConnectionTimeout:  50 * time.Millisecond,
		FailIfNotConnected: true,
	})
	require.ErrorIs(t, err, ErrConnectFailed)
}

func TestNewClusterStartsTending(t *testing.T) {
	fc := newThreeNodeCluster()

	c, err := NewCluster(context.Background(), &Options{
		Seeds:              []Host{NewHost("10.0.0.1", 3000)},
		Dialer:             fakeDialer(fc),
		TendInterval:       10 * time.Millisecond,
		FailIfNotConnected: true,
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{"A", "B", "C"}, nodeNames(c.GetNodes()))

	fc.AddNode("D", "10.0.0.4", 3000)
	require.Eventually(t, func() bool {
		return c.GetNodeByName("D") != nil
	}, 5*time.Second, 10*time.Millisecond)

	count := c.TendCount()
	require.Eventually(t, func() bool {
		return c.TendCount() > count
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewClusterWithoutNodes(t *testing.T) {
	c, err := NewCluster(context.Background(), &Options{
		Seeds:             []Host{NewHost("10.0.0.1", 3000)},
		Dialer:            refusingDialer(),
		ConnectionTimeout: 50 * time.Millisecond,
		TendInterval:      time.Hour,
	})
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.IsConnected())
	_, err = c.GetNode(NewPartition("test", 0))
	require.ErrorIs(t, err, ErrInvalidNamespace)
}

func TestClusterSeedProviderAndAddSeeds(t *testing.T) {
	fc := newThreeNodeCluster()

	c := newTestCluster(t, fc, nil, func(opts *Options) {
		opts.SeedProvider = SeedProviderFunc(func(ctx context.Context) ([]Host, error) {
			return []Host{{Name: "10.0.0.2"}}, nil
		})
	})

	c.AddSeeds(NewHost("10.0.0.9", 3000), NewHost("10.0.0.9", 3000))
	assert.Equal(t, []Host{NewHost("10.0.0.9", 3000)}, c.Seeds())

	tendOnce(t, c)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, nodeNames(c.GetNodes()))
	assert.Equal(t, "B", c.GetNodes()[0].Name())
}

func TestOptionsValidation(t *testing.T) {
	_, err := newCluster(nil)
	require.Error(t, err)

	_, err = newCluster(&Options{})
	require.Error(t, err)

	_, err = newCluster(&Options{Seeds: []Host{{Port: 3000}}})
	require.ErrorIs(t, err, ErrInvalidHost)

	_, err = newCluster(&Options{Seeds: []Host{{Name: "a"}}, ConnectionTimeout: -1})
	require.Error(t, err)

	c, err := newCluster(&Options{Seeds: []Host{{Name: "a"}}})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DefaultConnectionTimeout, c.opts.ConnectionTimeout)
	assert.Equal(t, DefaultTendInterval, c.opts.TendInterval)
	assert.Equal(t, DefaultConnectionPoolSize, c.opts.ConnectionPoolSize)
	assert.Equal(t, 3000, c.Seeds()[0].Port)
	assert.NotEmpty(t, c.ClientID())
}

func TestValidateNodeRejectsWildcardAddress(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)

	_, err := c.validateNode(context.Background(), NewHost("0.0.0.0", 3000))
	require.ErrorIs(t, err, ErrInvalidHost)

	nv, err := c.validateNode(context.Background(), NewHost("10.0.0.2", 3000))
	require.NoError(t, err)
	defer nv.close()
	assert.Equal(t, "B", nv.name)
}

func newFourNodeCluster() *testutils.FakeCluster {
	fc := newThreeNodeCluster()
	// D has joined but owns nothing yet
	fc.AddNode("D", "10.0.0.4", 3000)
	return fc
}

func TestClusterPartitionFetchFailureKeepsNodes(t *testing.T) {
	fc := newFourNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)
	tendOnce(t, c)
	tendOnce(t, c)
	require.Equal(t, []string{"A", "B", "C", "D"}, nodeNames(c.GetNodes()))

	nodeA := c.GetNodeByName("A")
	fc.Node("A").SetInfo("replicas-master", "test:!!!")
	fc.Node("A").SetPartitions("test", partitionRange(0, 1366)...)

	tendOnce(t, c)
	assert.Equal(t, []string{"A", "B", "C", "D"}, nodeNames(c.GetNodes()))
	assert.True(t, c.GetNodeByName("D").IsActive())
	assert.Less(t, nodeA.Health(), FullHealth)
	assert.Same(t, nodeA, c.PartitionMap().Owner("test", 0))

	// the invalidated generations make the next cycle read peers again
	tendOnce(t, c)
	assert.Equal(t, []string{"A", "B", "C", "D"}, nodeNames(c.GetNodes()))
	assert.Equal(t, 3, c.GetNodeByName("D").ReferenceCount())
}

func TestClusterRacksFetchFailureKeepsNodes(t *testing.T) {
	fc := newFourNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, func(opts *Options) {
		opts.RackAware = true
	})
	tendOnce(t, c)
	tendOnce(t, c)
	require.Equal(t, []string{"A", "B", "C", "D"}, nodeNames(c.GetNodes()))

	fc.Node("A").SetInfo("racks:", "garbage")
	fc.Node("A").SetRacks("ns=test:rack_1=A")

	tendOnce(t, c)
	assert.Equal(t, []string{"A", "B", "C", "D"}, nodeNames(c.GetNodes()))
	assert.Less(t, c.GetNodeByName("A").Health(), FullHealth)
	assert.True(t, c.GetNodeByName("A").Responded())
}

func TestClusterSnapshotsStableWhileTending(t *testing.T) {
	fc := newThreeNodeCluster()
	c := newTestCluster(t, fc, []Host{NewHost("10.0.0.1", 3000)}, nil)
	requireConverged(t, c)

	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopCh:
					return
				default:
				}

				snap := c.PartitionMap()
				owners := make([]*Node, 100)
				for id := range owners {
					owners[id] = snap.Owner("test", id)
				}

				for id := range owners {
					if !assert.Same(t, owners[id], snap.Owner("test", id)) {
						return
					}
					assert.NotNil(t, owners[id])
				}
			}
		}()
	}

	nodeA := fc.Node("A")
	nodeB := fc.Node("B")
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			nodeB.SetPartitions("test", append(partitionRange(0, 100), partitionRange(1366, 2731)...)...)
			nodeA.SetPartitions("test", partitionRange(100, 1366)...)
		} else {
			nodeA.SetPartitions("test", partitionRange(0, 1366)...)
			nodeB.SetPartitions("test", partitionRange(1366, 2731)...)
		}
		tendOnce(t, c)
	}

	close(stopCh)
	wg.Wait()

	assert.Same(t, c.GetNodeByName("A"), c.PartitionMap().Owner("test", 0))
}
