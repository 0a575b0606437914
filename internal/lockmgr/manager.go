package lockmgr

import (
	"sync"

	"go.uber.org/zap"

	"dbkernel/internal/storage"
)

// Manager is the Lock Manager's public contract: one top-level mutex
// guards the whole lock table, matching spec.md §5's "simplest faithful
// implementation" choice of a single spin lock (here, sync.Mutex). bm
// decodes a row target's Pointer into the page it actually lives on, so
// row locks are indexed beneath the correct PageLockInfo per spec.md:153.
type Manager struct {
	mu     sync.Mutex
	logger *zap.Logger
	bm     *storage.Manager

	tables       map[storage.TableId]*TableLockInfo
	transactions map[storage.TransactionId]*TransInfo
	pending      map[uint64]*pendingGroup
}

// NewManager returns an empty Lock Manager. bm is used only to decode row
// Pointers into (page, offset); it may be the same Buffer Manager the
// locked rows actually live in, or any Manager configured with the same
// page size.
func NewManager(bm *storage.Manager, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:       logger,
		bm:           bm,
		tables:       make(map[storage.TableId]*TableLockInfo),
		transactions: make(map[storage.TransactionId]*TransInfo),
		pending:      make(map[uint64]*pendingGroup),
	}
}

// RegisterTable makes table a valid lock target.
func (m *Manager) RegisterTable(table storage.TableId) error {
	if !table.IsValid() {
		return ErrInvalidTable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; ok {
		return ErrAlreadyRegistered
	}
	m.tables[table] = &TableLockInfo{pages: make(map[storage.PageId]*PageLockInfo)}
	return nil
}

// UnregisterTable removes table, which must hold no locks.
func (m *Manager) UnregisterTable(table storage.TableId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.tables[table]
	if !ok {
		return ErrInvalidTable
	}
	if !info.empty() {
		return ErrHasAcquiredLocks
	}
	delete(m.tables, table)
	return nil
}

// RegisterTransaction makes txn eligible to acquire locks, at the given
// scheduling importance.
func (m *Manager) RegisterTransaction(txn storage.TransactionId, importance uint64) error {
	if !txn.IsValid() {
		return ErrInvalidTransaction
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[txn]; ok {
		return ErrAlreadyRegistered
	}
	m.transactions[txn] = &TransInfo{importance: importance}
	return nil
}

// UnregisterTransaction removes txn, which must hold no acquired locks
// and have no pending request.
func (m *Manager) UnregisterTransaction(txn storage.TransactionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.transactions[txn]
	if !ok {
		return ErrInvalidTransaction
	}
	if len(info.acquiredLocks) != 0 || info.pending != nil {
		return ErrHasAcquiredLocks
	}
	delete(m.transactions, txn)
	return nil
}

// TableHasLocks reports whether table currently has any acquired lock at
// any granularity beneath it.
func (m *Manager) TableHasLocks(table storage.TableId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.tables[table]
	if !ok {
		return false
	}
	return !info.empty()
}

// PendingCount returns how many transactions are waiting at the given
// importance level.
func (m *Manager) PendingCount(importance uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.pending[importance]
	if !ok {
		return 0
	}
	return len(g.transactions)
}

// checkInput validates a transaction/target pair per spec.md §4.F.3 and
// returns a resolved copy of target: for a Row target, target.Page is
// populated by decoding target.Row through bm, since the caller-supplied
// LockTarget only carries the raw Pointer. Every operation must use the
// resolved target returned here, not its own target argument, so row
// locks descend into the PageLockInfo node for the row's real page.
func (m *Manager) checkInput(txn storage.TransactionId, target LockTarget) (*TransInfo, *TableLockInfo, LockTarget, error) {
	if !txn.IsValid() {
		return nil, nil, LockTarget{}, ErrInvalidTransaction
	}
	tinfo, ok := m.transactions[txn]
	if !ok {
		return nil, nil, LockTarget{}, ErrInvalidTransaction
	}
	if !target.Table.IsValid() {
		return nil, nil, LockTarget{}, ErrInvalidTable
	}
	table, ok := m.tables[target.Table]
	if !ok {
		return nil, nil, LockTarget{}, ErrInvalidTable
	}
	switch target.Kind {
	case TargetPage:
		if !target.Page.IsValid() {
			return nil, nil, LockTarget{}, ErrInvalidTarget
		}
	case TargetRow:
		if !target.Row.IsValid() {
			return nil, nil, LockTarget{}, ErrInvalidTarget
		}
		page, _, ok := m.bm.DecodePointer(target.Row)
		if !ok {
			return nil, nil, LockTarget{}, ErrInvalidTarget
		}
		target.Page = page
	}
	return tinfo, table, target, nil
}

// resolveNode locates (creating lazily, if allowed) the lock-info node's
// acquired-count array for target.
func (m *Manager) resolveNode(table *TableLockInfo, target LockTarget, create bool) *[6]int {
	switch target.Kind {
	case TargetTable:
		return &table.acquired
	case TargetPage:
		page, ok := table.pages[target.Page]
		if !ok {
			if !create {
				return nil
			}
			page = &PageLockInfo{rows: make(map[storage.Pointer]*RowLockInfo)}
			table.pages[target.Page] = page
		}
		return &page.acquired
	case TargetRow:
		page, ok := table.pages[target.Page]
		if !ok {
			if !create {
				return nil
			}
			page = &PageLockInfo{rows: make(map[storage.Pointer]*RowLockInfo)}
			table.pages[target.Page] = page
		}
		row, ok := page.rows[target.Row]
		if !ok {
			if !create {
				return nil
			}
			row = &RowLockInfo{}
			page.rows[target.Row] = row
		}
		return &row.acquired
	}
	return nil
}

// reap removes now-empty lock-info nodes for target, walking up from the
// most specific granularity.
func (m *Manager) reap(table *TableLockInfo, target LockTarget) {
	if target.Kind == TargetRow {
		if page, ok := table.pages[target.Page]; ok {
			if row, ok := page.rows[target.Row]; ok && row.empty() {
				delete(page.rows, target.Row)
			}
		}
	}
	if target.Kind == TargetRow || target.Kind == TargetPage {
		if page, ok := table.pages[target.Page]; ok && page.empty() {
			delete(table.pages, target.Page)
		}
	}
}

// AcquireLock requests mode on target for txn. blocked reports whether the
// request conflicted with an existing acquisition; a blocked request is
// still a successful API call and is registered in the pending queue,
// unless txn already has a different pending request outstanding.
func (m *Manager) AcquireLock(txn storage.TransactionId, target LockTarget, mode Mode) (blocked bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tinfo, table, resolved, err := m.checkInput(txn, target)
	if err != nil {
		return false, err
	}
	return m.acquireLocked(txn, tinfo, table, resolved, mode, true)
}

// acquireLocked is the shared descent-and-compatibility-check logic behind
// AcquireLock, UpgradeLock, and the scheduler's retry path. When
// registerPending is false (the scheduler's retry), a blocked outcome is
// reported but no pending entry is created or touched.
func (m *Manager) acquireLocked(txn storage.TransactionId, tinfo *TransInfo, table *TableLockInfo, target LockTarget, mode Mode, registerPending bool) (blocked bool, err error) {
	if registerPending && tinfo.pending != nil {
		return false, ErrAlreadyPending
	}
	node := m.resolveNode(table, target, true)
	if compatible(mode, *node) {
		node[mode]++
		tinfo.acquiredLocks = append(tinfo.acquiredLocks, acquiredLock{target: target, mode: mode})
		return false, nil
	}
	m.logger.Debug("lock acquire blocked",
		zap.Uint64("transaction", txn.Index()),
		zap.String("mode", mode.String()))
	if !registerPending {
		return true, nil
	}
	tinfo.pending = &pendingLock{target: target, mode: mode}
	m.addPending(txn, tinfo.importance)
	return true, nil
}

// ReleaseLock releases txn's lock on target, or removes its matching
// pending request if it never held the lock. ok is false when neither was
// found; that is not itself an error.
func (m *Manager) ReleaseLock(txn storage.TransactionId, target LockTarget) (ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tinfo, table, resolved, err := m.checkInput(txn, target)
	if err != nil {
		return false, err
	}
	return m.releaseLocked(txn, tinfo, table, resolved), nil
}

func (m *Manager) releaseLocked(txn storage.TransactionId, tinfo *TransInfo, table *TableLockInfo, target LockTarget) bool {
	for i, al := range tinfo.acquiredLocks {
		if !al.target.Equal(target) {
			continue
		}
		if node := m.resolveNode(table, target, false); node != nil {
			node[al.mode]--
		}
		tinfo.acquiredLocks = append(tinfo.acquiredLocks[:i], tinfo.acquiredLocks[i+1:]...)
		m.reap(table, target)
		return true
	}
	if tinfo.pending != nil && tinfo.pending.target.Equal(target) {
		tinfo.pending = nil
		m.removePending(txn, tinfo.importance)
		return true
	}
	return false
}

// UpgradeLock releases txn's current lock on target (if any) and
// reacquires it at newMode, as a single atomic step under the manager's
// lock so no other transaction can interleave between the two halves.
func (m *Manager) UpgradeLock(txn storage.TransactionId, target LockTarget, newMode Mode) (blocked bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tinfo, table, resolved, err := m.checkInput(txn, target)
	if err != nil {
		return false, err
	}
	m.releaseLocked(txn, tinfo, table, resolved)
	return m.acquireLocked(txn, tinfo, table, resolved, newMode, true)
}

// addPending registers txn in the pending group for importance, creating
// the group if needed.
func (m *Manager) addPending(txn storage.TransactionId, importance uint64) {
	group, ok := m.pending[importance]
	if !ok {
		group = &pendingGroup{lastTryIndex: -1}
		m.pending[importance] = group
	}
	for _, t := range group.transactions {
		if t == txn {
			return
		}
	}
	group.transactions = append(group.transactions, txn)
}

// removePending removes txn from its importance group, deleting the group
// when it becomes empty.
func (m *Manager) removePending(txn storage.TransactionId, importance uint64) {
	group, ok := m.pending[importance]
	if !ok {
		return
	}
	for i, t := range group.transactions {
		if t != txn {
			continue
		}
		group.transactions = append(group.transactions[:i], group.transactions[i+1:]...)
		if i <= group.lastTryIndex {
			group.lastTryIndex--
		}
		break
	}
	if len(group.transactions) == 0 {
		delete(m.pending, importance)
	}
}
