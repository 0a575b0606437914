package lockmgr

import (
	"testing"

	"dbkernel/internal/storage"
)

// newTestLockManager builds a Lock Manager backed by a real Buffer
// Manager, so row targets can be decoded into their actual page.
func newTestLockManager(t *testing.T) *Manager {
	t.Helper()
	bm, err := storage.NewManager(storage.Config{PageSize: 4096, CachePageCount: 64}, nil)
	if err != nil {
		t.Fatalf("storage.NewManager: %v", err)
	}
	return NewManager(bm, nil)
}

func mustRegisterTable(t *testing.T, m *Manager, table storage.TableId) {
	t.Helper()
	if err := m.RegisterTable(table); err != nil {
		t.Fatalf("RegisterTable(%v): %v", table, err)
	}
}

func mustRegisterTxn(t *testing.T, m *Manager, txn storage.TransactionId, importance uint64) {
	t.Helper()
	if err := m.RegisterTransaction(txn, importance); err != nil {
		t.Fatalf("RegisterTransaction(%v): %v", txn, err)
	}
}

func TestAcquireRejectsUnregisteredInputs(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	txn := storage.NewTransactionId(1)

	if _, err := m.AcquireLock(txn, TableTarget(table), IS); err != ErrInvalidTransaction {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
	mustRegisterTxn(t, m, txn, 0)
	if _, err := m.AcquireLock(txn, TableTarget(table), IS); err != ErrInvalidTable {
		t.Fatalf("expected ErrInvalidTable, got %v", err)
	}
	mustRegisterTable(t, m, table)
	if _, err := m.AcquireLock(txn, PageTarget(table, storage.InvalidPageId), IS); err != ErrInvalidTarget {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

// TestCompatibilityMatrix is scenario 6: for every (i, j) mode pair, T1
// acquires mode i on a table, T2 acquires mode j; T2's blocked outcome
// must equal the matrix's negation, and after both release, the table
// holds no locks.
func TestCompatibilityMatrix(t *testing.T) {
	for i := 0; i < int(modeCount); i++ {
		for j := 0; j < int(modeCount); j++ {
			m := newTestLockManager(t)
			table := storage.NewTableId(1)
			t1 := storage.NewTransactionId(1)
			t2 := storage.NewTransactionId(2)
			mustRegisterTable(t, m, table)
			mustRegisterTxn(t, m, t1, 0)
			mustRegisterTxn(t, m, t2, 0)

			target := TableTarget(table)
			if blocked, err := m.AcquireLock(t1, target, Mode(i)); err != nil || blocked {
				t.Fatalf("mode %d: T1 acquire failed or blocked: blocked=%v err=%v", i, blocked, err)
			}
			blocked, err := m.AcquireLock(t2, target, Mode(j))
			if err != nil {
				t.Fatalf("mode (%d,%d): T2 acquire error: %v", i, j, err)
			}
			want := !compat[j][i]
			if blocked != want {
				t.Fatalf("mode request=%d existing=%d: blocked=%v want=%v", j, i, blocked, want)
			}

			if _, err := m.ReleaseLock(t1, target); err != nil {
				t.Fatalf("release t1: %v", err)
			}
			if _, err := m.ReleaseLock(t2, target); err != nil {
				t.Fatalf("release t2: %v", err)
			}
			if m.TableHasLocks(table) {
				t.Fatalf("mode (%d,%d): table still holds locks after both released", i, j)
			}
		}
	}
}

// TestReleaseInvertsAcquire is invariant 8.
func TestReleaseInvertsAcquire(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	txn := storage.NewTransactionId(1)
	mustRegisterTable(t, m, table)
	mustRegisterTxn(t, m, txn, 0)

	target := TableTarget(table)
	if m.TableHasLocks(table) {
		t.Fatalf("table has locks before any acquire")
	}
	if blocked, err := m.AcquireLock(txn, target, X); err != nil || blocked {
		t.Fatalf("acquire: blocked=%v err=%v", blocked, err)
	}
	if ok, err := m.ReleaseLock(txn, target); err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	if m.TableHasLocks(table) {
		t.Fatalf("table still has locks after release")
	}
}

func TestUpgradeLock(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	txn := storage.NewTransactionId(1)
	mustRegisterTable(t, m, table)
	mustRegisterTxn(t, m, txn, 0)

	target := TableTarget(table)
	if blocked, err := m.AcquireLock(txn, target, IX); err != nil || blocked {
		t.Fatalf("initial acquire: blocked=%v err=%v", blocked, err)
	}
	if blocked, err := m.UpgradeLock(txn, target, X); err != nil || blocked {
		t.Fatalf("upgrade: blocked=%v err=%v", blocked, err)
	}
	if ok, err := m.ReleaseLock(txn, target); err != nil || !ok {
		t.Fatalf("release after upgrade: ok=%v err=%v", ok, err)
	}
	if m.TableHasLocks(table) {
		t.Fatalf("table still has locks after upgrade+release")
	}
}

func TestBlockedAcquireRegistersPending(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	t1 := storage.NewTransactionId(1)
	t2 := storage.NewTransactionId(2)
	mustRegisterTable(t, m, table)
	mustRegisterTxn(t, m, t1, 5)
	mustRegisterTxn(t, m, t2, 5)

	target := TableTarget(table)
	if blocked, err := m.AcquireLock(t1, target, X); err != nil || blocked {
		t.Fatalf("t1 acquire: blocked=%v err=%v", blocked, err)
	}
	blocked, err := m.AcquireLock(t2, target, S)
	if err != nil || !blocked {
		t.Fatalf("t2 acquire: expected blocked, got blocked=%v err=%v", blocked, err)
	}
	if n := m.PendingCount(5); n != 1 {
		t.Fatalf("PendingCount(5) = %d, want 1", n)
	}

	if _, err := m.AcquireLock(t2, RowTarget(table, storage.PointerFromRaw(1)), S); err != ErrAlreadyPending {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
}

func TestPickTransactionUnblocksWaiter(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	t1 := storage.NewTransactionId(1)
	t2 := storage.NewTransactionId(2)
	mustRegisterTable(t, m, table)
	mustRegisterTxn(t, m, t1, 0)
	mustRegisterTxn(t, m, t2, 0)

	target := TableTarget(table)
	if _, err := m.AcquireLock(t1, target, X); err != nil {
		t.Fatal(err)
	}
	if blocked, err := m.AcquireLock(t2, target, X); err != nil || !blocked {
		t.Fatalf("t2 acquire: blocked=%v err=%v", blocked, err)
	}

	if _, ok := m.PickTransaction(); ok {
		t.Fatalf("PickTransaction should fail while T1 still holds the conflicting lock")
	}

	if _, err := m.ReleaseLock(t1, target); err != nil {
		t.Fatal(err)
	}
	winner, ok := m.PickTransaction()
	if !ok || winner != t2 {
		t.Fatalf("PickTransaction() = (%v, %v), want (t2, true)", winner, ok)
	}
	if m.PendingCount(0) != 0 {
		t.Fatalf("pending group should be empty after T2 is picked")
	}
}

func TestSchedulerRoundRobinFairness(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	holder := storage.NewTransactionId(1)
	t2 := storage.NewTransactionId(2)
	t3 := storage.NewTransactionId(3)
	mustRegisterTable(t, m, table)
	mustRegisterTxn(t, m, holder, 0)
	mustRegisterTxn(t, m, t2, 0)
	mustRegisterTxn(t, m, t3, 0)

	target := TableTarget(table)
	if _, err := m.AcquireLock(holder, target, X); err != nil {
		t.Fatal(err)
	}
	if blocked, err := m.AcquireLock(t2, target, S); err != nil || !blocked {
		t.Fatalf("t2: blocked=%v err=%v", blocked, err)
	}
	if blocked, err := m.AcquireLock(t3, target, S); err != nil || !blocked {
		t.Fatalf("t3: blocked=%v err=%v", blocked, err)
	}

	if _, err := m.ReleaseLock(holder, target); err != nil {
		t.Fatal(err)
	}

	first, ok := m.PickTransaction()
	if !ok {
		t.Fatalf("expected a winner")
	}
	if _, err := m.ReleaseLock(first, target); err != nil {
		t.Fatal(err)
	}
	second, ok := m.PickTransaction()
	if !ok {
		t.Fatalf("expected a second winner")
	}
	if first == second {
		t.Fatalf("same transaction picked twice: %v", first)
	}
}

// TestDeadlockDetectionAndRollback is scenario 7.
func TestDeadlockDetectionAndRollback(t *testing.T) {
	m := newTestLockManager(t)
	a := storage.NewTableId(1)
	b := storage.NewTableId(2)
	t1 := storage.NewTransactionId(1)
	t2 := storage.NewTransactionId(2)
	mustRegisterTable(t, m, a)
	mustRegisterTable(t, m, b)
	mustRegisterTxn(t, m, t1, 0)
	mustRegisterTxn(t, m, t2, 0)

	at := TableTarget(a)
	bt := TableTarget(b)

	if blocked, err := m.AcquireLock(t1, at, S); err != nil || blocked {
		t.Fatalf("t1 acquire A@S: blocked=%v err=%v", blocked, err)
	}
	if blocked, err := m.AcquireLock(t2, bt, S); err != nil || blocked {
		t.Fatalf("t2 acquire B@S: blocked=%v err=%v", blocked, err)
	}
	if blocked, err := m.AcquireLock(t1, bt, X); err != nil || !blocked {
		t.Fatalf("t1 request B@X: blocked=%v err=%v", blocked, err)
	}
	if blocked, err := m.AcquireLock(t2, at, X); err != nil || !blocked {
		t.Fatalf("t2 request A@X: blocked=%v err=%v", blocked, err)
	}

	if _, ok := m.PickTransaction(); ok {
		t.Fatalf("PickTransaction should return no winner: both waiters conflict")
	}

	victims := m.DetectDeadlock()
	if len(victims) != 1 {
		t.Fatalf("DetectDeadlock() = %v, want exactly one victim", victims)
	}
	victim := victims[0]
	if victim != t1 && victim != t2 {
		t.Fatalf("victim %v is neither T1 nor T2", victim)
	}

	if err := m.Rollback(victim); err != nil {
		t.Fatalf("Rollback(%v): %v", victim, err)
	}

	survivor := t2
	if victim == t2 {
		survivor = t1
	}
	winner, ok := m.PickTransaction()
	if !ok || winner != survivor {
		t.Fatalf("PickTransaction() after rollback = (%v, %v), want (%v, true)", winner, ok, survivor)
	}
}

func TestGranularityHierarchyIndependentTargets(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	t1 := storage.NewTransactionId(1)
	t2 := storage.NewTransactionId(2)
	mustRegisterTable(t, m, table)
	mustRegisterTxn(t, m, t1, 0)
	mustRegisterTxn(t, m, t2, 0)

	page1 := storage.NewPageId(10)
	page2 := storage.NewPageId(11)

	if blocked, err := m.AcquireLock(t1, PageTarget(table, page1), X); err != nil || blocked {
		t.Fatalf("t1 on page1: blocked=%v err=%v", blocked, err)
	}
	if blocked, err := m.AcquireLock(t2, PageTarget(table, page2), X); err != nil || blocked {
		t.Fatalf("t2 on page2 (disjoint target): blocked=%v err=%v", blocked, err)
	}

	if _, err := m.ReleaseLock(t1, PageTarget(table, page1)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReleaseLock(t2, PageTarget(table, page2)); err != nil {
		t.Fatal(err)
	}
	if m.TableHasLocks(table) {
		t.Fatalf("table still reports locks after both page locks released")
	}
}

// TestRowTargetResolvesToOwningPage covers the granularity-hierarchy
// requirement that a row lock is indexed beneath the PageLockInfo for the
// page its Pointer actually decodes to, not a single shared node: two rows
// encoded on different real pages must not contend with each other under
// conflicting modes, and a row's lock must be visible beneath a PageTarget
// acquired on that row's true page.
func TestRowTargetResolvesToOwningPage(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	t1 := storage.NewTransactionId(1)
	t2 := storage.NewTransactionId(2)
	mustRegisterTable(t, m, table)
	mustRegisterTxn(t, m, t1, 0)
	mustRegisterTxn(t, m, t2, 0)

	src := m.bm.LoadMemorySource()
	page1, ok := m.bm.AllocatePage(src)
	if !ok {
		t.Fatalf("AllocatePage(page1) failed")
	}
	page2, ok := m.bm.AllocatePage(src)
	if !ok {
		t.Fatalf("AllocatePage(page2) failed")
	}
	row1, err := m.bm.EncodePointer(page1, 0)
	if err != nil {
		t.Fatalf("EncodePointer(page1): %v", err)
	}
	row2, err := m.bm.EncodePointer(page2, 0)
	if err != nil {
		t.Fatalf("EncodePointer(page2): %v", err)
	}

	if blocked, err := m.AcquireLock(t1, RowTarget(table, row1), X); err != nil || blocked {
		t.Fatalf("t1 on row1 (page1): blocked=%v err=%v", blocked, err)
	}
	if blocked, err := m.AcquireLock(t2, RowTarget(table, row2), X); err != nil || blocked {
		t.Fatalf("t2 on row2 (page2), expected independent node: blocked=%v err=%v", blocked, err)
	}

	// A lock on row2's real page must see the row lock beneath it, and
	// therefore conflict with an incompatible request.
	if blocked, err := m.AcquireLock(t1, PageTarget(table, page2), X); err != nil || !blocked {
		t.Fatalf("t1 request X on page2 (holds row2@X): blocked=%v err=%v", blocked, err)
	}

	if _, err := m.ReleaseLock(t1, RowTarget(table, row1)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReleaseLock(t2, RowTarget(table, row2)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReleaseLock(t1, PageTarget(table, page2)); err != nil {
		t.Fatal(err)
	}
	if m.TableHasLocks(table) {
		t.Fatalf("table still reports locks after all releases")
	}
}

func TestUnregisterTransactionRejectsHeldLocks(t *testing.T) {
	m := newTestLockManager(t)
	table := storage.NewTableId(1)
	txn := storage.NewTransactionId(1)
	mustRegisterTable(t, m, table)
	mustRegisterTxn(t, m, txn, 0)

	if blocked, err := m.AcquireLock(txn, TableTarget(table), S); err != nil || blocked {
		t.Fatalf("acquire: blocked=%v err=%v", blocked, err)
	}
	if err := m.UnregisterTransaction(txn); err != ErrHasAcquiredLocks {
		t.Fatalf("expected ErrHasAcquiredLocks, got %v", err)
	}
	if _, err := m.ReleaseLock(txn, TableTarget(table)); err != nil {
		t.Fatal(err)
	}
	if err := m.UnregisterTransaction(txn); err != nil {
		t.Fatalf("UnregisterTransaction after release: %v", err)
	}
}
