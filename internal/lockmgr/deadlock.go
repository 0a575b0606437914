package lockmgr

import (
	"go.uber.org/zap"

	"dbkernel/internal/storage"
)

// DetectDeadlock builds the wait-for graph over currently pending
// transactions, reduces it to its cyclic core, and extracts one victim per
// cycle until the graph is empty. It does not itself roll anything back;
// call Rollback on each returned victim.
func (m *Manager) DetectDeadlock() []storage.TransactionId {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph := m.buildWaitForGraph()
	reduceWaitForGraph(graph)

	var victims []storage.TransactionId
	for len(graph) > 0 {
		cycle, victim, ok := extractCycle(graph)
		if !ok {
			break
		}
		victims = append(victims, victim)
		ids := make([]uint64, len(cycle))
		for i, t := range cycle {
			ids[i] = t.Index()
		}
		m.logger.Warn("deadlock detected",
			zap.Uint64s("cycle", ids),
			zap.Uint64("victim", victim.Index()))
		delete(graph, victim)
		for node, edges := range graph {
			graph[node] = removeTxn(edges, victim)
		}
		reduceWaitForGraph(graph)
	}
	return victims
}

// buildWaitForGraph adds an edge p -> q for every pending transaction p
// (waiting on target t at mode r) and every other transaction q that holds
// an acquired lock on the same object at a mode h where compat[r][h] is
// false.
func (m *Manager) buildWaitForGraph() map[storage.TransactionId][]storage.TransactionId {
	graph := make(map[storage.TransactionId][]storage.TransactionId)
	for _, group := range m.pending {
		for _, p := range group.transactions {
			pinfo, ok := m.transactions[p]
			if !ok || pinfo.pending == nil {
				continue
			}
			target := pinfo.pending.target
			mode := pinfo.pending.mode
			if _, ok := graph[p]; !ok {
				graph[p] = nil
			}
			for q, qinfo := range m.transactions {
				if q == p {
					continue
				}
				for _, al := range qinfo.acquiredLocks {
					if al.target.Equal(target) && conflictsWith(mode, al.mode) {
						graph[p] = append(graph[p], q)
						break
					}
				}
			}
		}
	}
	return graph
}

// reduceWaitForGraph repeatedly removes nodes with no incoming or no
// outgoing edges, since such a node cannot participate in a cycle.
func reduceWaitForGraph(graph map[storage.TransactionId][]storage.TransactionId) {
	for {
		incoming := make(map[storage.TransactionId]int, len(graph))
		for node := range graph {
			incoming[node] = 0
		}
		for _, edges := range graph {
			for _, to := range edges {
				if _, ok := incoming[to]; ok {
					incoming[to]++
				}
			}
		}
		var dead []storage.TransactionId
		for node, edges := range graph {
			if len(edges) == 0 || incoming[node] == 0 {
				dead = append(dead, node)
			}
		}
		if len(dead) == 0 {
			return
		}
		for _, node := range dead {
			delete(graph, node)
		}
		for node, edges := range graph {
			graph[node] = removeTxns(edges, dead)
		}
	}
}

// extractCycle runs a DFS from any remaining node, tracking the current
// path; a back-edge to a node already on the path exposes a cycle. The
// victim is the node at which the cycle closes (the back-edge's target),
// per the source implementation -- any cycle member would preserve
// correctness. cycle holds the closed loop, starting and ending at victim.
func extractCycle(graph map[storage.TransactionId][]storage.TransactionId) (cycle []storage.TransactionId, victim storage.TransactionId, ok bool) {
	visited := make(map[storage.TransactionId]bool, len(graph))
	for start := range graph {
		if visited[start] {
			continue
		}
		onPath := make(map[storage.TransactionId]int)
		path := []storage.TransactionId{}
		var walk func(node storage.TransactionId) ([]storage.TransactionId, storage.TransactionId, bool)
		walk = func(node storage.TransactionId) ([]storage.TransactionId, storage.TransactionId, bool) {
			if pos, ok := onPath[node]; ok {
				loop := append([]storage.TransactionId{}, path[pos:]...)
				loop = append(loop, node)
				return loop, node, true
			}
			if visited[node] {
				return nil, storage.InvalidTransactionId, false
			}
			visited[node] = true
			onPath[node] = len(path)
			path = append(path, node)
			for _, next := range graph[node] {
				if c, v, ok := walk(next); ok {
					return c, v, true
				}
			}
			delete(onPath, node)
			path = path[:len(path)-1]
			return nil, storage.InvalidTransactionId, false
		}
		if c, v, ok := walk(start); ok {
			return c, v, true
		}
	}
	return nil, storage.InvalidTransactionId, false
}

func removeTxn(edges []storage.TransactionId, victim storage.TransactionId) []storage.TransactionId {
	out := edges[:0]
	for _, t := range edges {
		if t != victim {
			out = append(out, t)
		}
	}
	return out
}

func removeTxns(edges []storage.TransactionId, dead []storage.TransactionId) []storage.TransactionId {
	out := edges[:0]
	for _, t := range edges {
		drop := false
		for _, d := range dead {
			if t == d {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, t)
		}
	}
	return out
}

// Rollback releases every lock acquired by trans, in reverse order, and
// clears its pending entry. Lock-info emptiness, parent unlinking, and
// pending-group shrinkage follow the same rules as ordinary release.
func (m *Manager) Rollback(trans storage.TransactionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tinfo, ok := m.transactions[trans]
	if !ok {
		return ErrInvalidTransaction
	}
	for i := len(tinfo.acquiredLocks) - 1; i >= 0; i-- {
		target := tinfo.acquiredLocks[i].target
		table, ok := m.tables[target.Table]
		if !ok {
			continue
		}
		m.releaseLocked(trans, tinfo, table, target)
	}
	if tinfo.pending != nil {
		importance := tinfo.importance
		tinfo.pending = nil
		m.removePending(trans, importance)
	}
	return nil
}
