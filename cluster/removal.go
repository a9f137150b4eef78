package cluster

// findNodesToRemove applies the graduated removal policy to the nodes that
// were just refreshed.  refreshCount is the number of nodes successfully
// contacted this cycle.
func findNodesToRemove(nodes []*Node, refreshCount int, pmap *PartitionMap) []*Node {
	var removeList []*Node

	for _, node := range nodes {
		if !node.IsActive() {
			removeList = append(removeList, node)
			continue
		}

		switch len(nodes) {
		case 1:
			// the only node left, drop it once it stops responding so the
			// cluster can reseed
			if node.IsUnhealthy() {
				removeList = append(removeList, node)
			}

		case 2:
			// only the other node answered and nobody references this one
			if refreshCount == 1 && node.ReferenceCount() == 0 && !node.Responded() {
				removeList = append(removeList, node)
			}

		default:
			if refreshCount >= 2 && node.ReferenceCount() == 0 {
				if !node.Responded() {
					removeList = append(removeList, node)
				} else if pmap == nil || !pmap.containsNode(node) {
					removeList = append(removeList, node)
				}
			}
		}
	}

	return removeList
}
