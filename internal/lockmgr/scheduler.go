package lockmgr

import (
	"sort"

	"dbkernel/internal/storage"
)

// PickTransaction scans pending groups in descending importance order and,
// within each group, round-robins starting from lastTryIndex+1. The first
// candidate whose pending request can now be granted is removed from the
// pending queue and returned with ok=true. If no candidate can proceed,
// it returns (InvalidTransactionId, false).
func (m *Manager) PickTransaction() (storage.TransactionId, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	importances := make([]uint64, 0, len(m.pending))
	for imp := range m.pending {
		importances = append(importances, imp)
	}
	sort.Slice(importances, func(i, j int) bool { return importances[i] > importances[j] })

	for _, imp := range importances {
		group := m.pending[imp]
		n := len(group.transactions)
		if n == 0 {
			continue
		}
		for step := 1; step <= n; step++ {
			idx := (group.lastTryIndex + step) % n
			txn := group.transactions[idx]
			tinfo, ok := m.transactions[txn]
			if !ok || tinfo.pending == nil {
				continue
			}
			target := tinfo.pending.target
			mode := tinfo.pending.mode
			table, ok := m.tables[target.Table]
			if !ok {
				continue
			}
			blocked, err := m.acquireLocked(txn, tinfo, table, target, mode, false)
			if err != nil || blocked {
				continue
			}
			tinfo.pending = nil
			group.transactions = append(group.transactions[:idx], group.transactions[idx+1:]...)
			// Removing idx shifts everything after it left by one, so the
			// next scan should resume at idx-1 to land on the same slot.
			group.lastTryIndex = idx - 1
			if len(group.transactions) == 0 {
				delete(m.pending, imp)
			}
			return txn, true
		}
	}
	return storage.InvalidTransactionId, false
}
