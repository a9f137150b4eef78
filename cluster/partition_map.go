package cluster

import (
	"sort"

	"github.com/pkg/errors"
)

// Partition identifies one partition of a namespace.
type Partition struct {
	Namespace   string
	PartitionID int
}

func NewPartition(namespace string, partitionID int) Partition {
	return Partition{Namespace: namespace, PartitionID: partitionID}
}

// PartitionForDigest maps a record digest onto its partition.
func PartitionForDigest(namespace string, digest []byte) Partition {
	return Partition{Namespace: namespace, PartitionID: PartitionIDForDigest(digest)}
}

// PartitionIDForDigest uses the low 12 bits of the first two digest bytes,
// read little-endian.
func PartitionIDForDigest(digest []byte) int {
	if len(digest) < 2 {
		return 0
	}
	return (int(digest[0]) | int(digest[1])<<8) & (PartitionCount - 1)
}

type partitionTable struct {
	owners [PartitionCount]*Node
}

// PartitionMap is an immutable snapshot of partition ownership.  Readers
// may hold on to a snapshot for as long as they like; the tend goroutine
// never modifies a published map.
type PartitionMap struct {
	tables map[string]*partitionTable
}

func newPartitionMap() *PartitionMap {
	return &PartitionMap{
		tables: make(map[string]*partitionTable),
	}
}

// Owner returns the node owning a partition, or nil if unknown.
func (m *PartitionMap) Owner(namespace string, partitionID int) *Node {
	if partitionID < 0 || partitionID >= PartitionCount {
		return nil
	}
	table := m.tables[namespace]
	if table == nil {
		return nil
	}
	return table.owners[partitionID]
}

func (m *PartitionMap) lookup(p Partition) (*Node, error) {
	if p.PartitionID < 0 || p.PartitionID >= PartitionCount {
		return nil, errors.Wrapf(ErrInvalidPartition, "partition %d", p.PartitionID)
	}

	table := m.tables[p.Namespace]
	if table == nil {
		return nil, errors.Wrapf(ErrInvalidNamespace, "namespace %s", p.Namespace)
	}

	node := table.owners[p.PartitionID]
	if node == nil || !node.IsActive() {
		return nil, errors.Wrapf(ErrInvalidNode, "partition %s/%d", p.Namespace, p.PartitionID)
	}
	return node, nil
}

func (m *PartitionMap) Namespaces() []string {
	namespaces := make([]string, 0, len(m.tables))
	for ns := range m.tables {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	return namespaces
}

// PartitionCountForNode returns how many partitions of namespace node owns.
func (m *PartitionMap) PartitionCountForNode(namespace string, node *Node) int {
	table := m.tables[namespace]
	if table == nil {
		return 0
	}

	count := 0
	for _, owner := range table.owners {
		if owner == node {
			count++
		}
	}
	return count
}

func (m *PartitionMap) containsNode(node *Node) bool {
	for _, table := range m.tables {
		for _, owner := range table.owners {
			if owner == node {
				return true
			}
		}
	}
	return false
}

// partitionMapBuilder collects the partition updates of one tend cycle.
// The published map is only cloned the first time something changes, and
// each namespace table is copied at most once per cycle.
type partitionMapBuilder struct {
	base   *PartitionMap
	next   *PartitionMap
	copied map[string]bool
}

func newPartitionMapBuilder(base *PartitionMap) *partitionMapBuilder {
	return &partitionMapBuilder{
		base: base,
	}
}

func (b *partitionMapBuilder) ensureCloned() {
	if b.next != nil {
		return
	}

	b.next = &PartitionMap{
		tables: make(map[string]*partitionTable, len(b.base.tables)),
	}
	for ns, table := range b.base.tables {
		b.next.tables[ns] = table
	}
	b.copied = make(map[string]bool)
}

func (b *partitionMapBuilder) table(namespace string) *partitionTable {
	b.ensureCloned()

	table := b.next.tables[namespace]
	if b.copied[namespace] {
		return table
	}

	copiedTable := &partitionTable{}
	if table != nil {
		copiedTable.owners = table.owners
	}
	b.next.tables[namespace] = copiedTable
	b.copied[namespace] = true
	return copiedTable
}

func (b *partitionMapBuilder) current() *PartitionMap {
	if b.next != nil {
		return b.next
	}
	return b.base
}

// applyBitmaps assigns every partition whose bit is set to node.
func (b *partitionMapBuilder) applyBitmaps(node *Node, bitmaps map[string][]byte) int {
	updated := 0
	for ns, bitmap := range bitmaps {
		var table *partitionTable
		current := b.current().tables[ns]

		for id := 0; id < PartitionCount; id++ {
			if !partitionOwned(bitmap, id) {
				continue
			}
			if table == nil {
				if current != nil && current.owners[id] == node {
					continue
				}
				table = b.table(ns)
			}
			if table.owners[id] != node {
				table.owners[id] = node
				updated++
			}
		}

		if table == nil && current == nil {
			// namespace present but owning nothing yet
			b.table(ns)
		}
	}
	return updated
}

// removeNodes clears every partition owned by one of nodes.
func (b *partitionMapBuilder) removeNodes(nodes []*Node) {
	if len(nodes) == 0 {
		return
	}

	removed := make(map[*Node]bool, len(nodes))
	for _, node := range nodes {
		removed[node] = true
	}

	for _, ns := range b.current().Namespaces() {
		var table *partitionTable
		current := b.current().tables[ns]

		for id, owner := range current.owners {
			if owner == nil || !removed[owner] {
				continue
			}
			if table == nil {
				table = b.table(ns)
			}
			table.owners[id] = nil
		}
	}
}

func (b *partitionMapBuilder) changed() bool {
	return b.next != nil
}

func (b *partitionMapBuilder) build() *PartitionMap {
	return b.current()
}
