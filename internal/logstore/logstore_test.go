package logstore

import (
	"testing"

	"dbkernel/internal/storage"
)

func newTestStorage(t *testing.T) (*storage.Manager, storage.SourceId) {
	t.Helper()
	bm, err := storage.NewManager(storage.Config{PageSize: 4096, CachePageCount: 256}, nil)
	if err != nil {
		t.Fatalf("storage.NewManager: %v", err)
	}
	src := bm.LoadMemorySource()
	return bm, src
}

func writeItem(t *testing.T, mgr *Manager, txn storage.TransactionId, payload []byte) {
	t.Helper()
	w, err := mgr.OpenLogItem(txn)
	if err != nil {
		t.Fatalf("OpenLogItem: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Writer.Close: %v", err)
	}
}

func TestOpenCloseTransaction(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, err := NewManager(bm, src, true, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	txn, err := mgr.OpenTransaction()
	if err != nil {
		t.Fatalf("OpenTransaction: %v", err)
	}
	if !mgr.IsActive(txn) {
		t.Fatalf("expected transaction to be active")
	}
	if err := mgr.CloseTransaction(txn); err != nil {
		t.Fatalf("CloseTransaction: %v", err)
	}
	if mgr.IsActive(txn) {
		t.Fatalf("expected transaction to be inactive after close")
	}
}

func TestCloseTransactionFailsWithOpenWriter(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)
	txn, _ := mgr.OpenTransaction()

	if _, err := mgr.OpenLogItem(txn); err != nil {
		t.Fatalf("OpenLogItem: %v", err)
	}
	if err := mgr.CloseTransaction(txn); err != ErrWriterStillOpen {
		t.Fatalf("expected ErrWriterStillOpen, got %v", err)
	}
}

func TestOpenLogItemRejectsSecondWriter(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)
	txn, _ := mgr.OpenTransaction()

	if _, err := mgr.OpenLogItem(txn); err != nil {
		t.Fatalf("OpenLogItem: %v", err)
	}
	if _, err := mgr.OpenLogItem(txn); err != ErrWriterAlreadyOpen {
		t.Fatalf("expected ErrWriterAlreadyOpen, got %v", err)
	}
}

func TestWriteAndEnumerateSingleItem(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)
	txn, _ := mgr.OpenTransaction()

	writeItem(t, mgr, txn, []byte("hello log"))

	r, err := mgr.EnumLogItem(txn)
	if err != nil {
		t.Fatalf("EnumLogItem: %v", err)
	}
	ok, err := r.NextItem()
	if err != nil {
		t.Fatalf("NextItem: %v", err)
	}
	if !ok {
		t.Fatalf("expected one item")
	}
	if string(r.Item()) != "hello log" {
		t.Errorf("expected %q, got %q", "hello log", r.Item())
	}
	ok, err = r.NextItem()
	if err != nil {
		t.Fatalf("NextItem: %v", err)
	}
	if ok {
		t.Fatalf("expected enumeration to stop after one item")
	}
}

func TestWriteMultipleItemsPreservesOrder(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)
	txn, _ := mgr.OpenTransaction()

	items := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, it := range items {
		writeItem(t, mgr, txn, it)
	}

	r, err := mgr.EnumLogItem(txn)
	if err != nil {
		t.Fatalf("EnumLogItem: %v", err)
	}
	for _, want := range items {
		ok, err := r.NextItem()
		if err != nil {
			t.Fatalf("NextItem: %v", err)
		}
		if !ok {
			t.Fatalf("expected item %q, got end of chain", want)
		}
		if string(r.Item()) != string(want) {
			t.Errorf("expected %q, got %q", want, r.Item())
		}
	}
	if ok, _ := r.NextItem(); ok {
		t.Fatalf("expected enumeration to end after %d items", len(items))
	}
}

func TestEmptyItemConsumesOneBlock(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)
	txn, _ := mgr.OpenTransaction()

	writeItem(t, mgr, txn, nil)

	count, err := mgr.ItemCount(txn)
	if err != nil {
		t.Fatalf("ItemCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 item, got %d", count)
	}
}

func TestLargeItemSpansMultipleBlocks(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)
	txn, _ := mgr.OpenTransaction()

	payload := make([]byte, 4096*3)
	for i := range payload {
		payload[i] = byte(i)
	}
	writeItem(t, mgr, txn, payload)

	r, err := mgr.EnumLogItem(txn)
	if err != nil {
		t.Fatalf("EnumLogItem: %v", err)
	}
	ok, err := r.NextItem()
	if err != nil {
		t.Fatalf("NextItem: %v", err)
	}
	if !ok {
		t.Fatalf("expected an item")
	}
	if len(r.Item()) != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), len(r.Item()))
	}
	for i := range payload {
		if r.Item()[i] != payload[i] {
			t.Fatalf("byte %d mismatch: want %x got %x", i, payload[i], r.Item()[i])
		}
	}
}

func TestEnumInactiveLogItemAfterClose(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)
	txn, _ := mgr.OpenTransaction()
	writeItem(t, mgr, txn, []byte("persisted"))
	if err := mgr.CloseTransaction(txn); err != nil {
		t.Fatalf("CloseTransaction: %v", err)
	}

	r, err := mgr.EnumInactiveLogItem(txn)
	if err != nil {
		t.Fatalf("EnumInactiveLogItem: %v", err)
	}
	ok, err := r.NextItem()
	if err != nil {
		t.Fatalf("NextItem: %v", err)
	}
	if !ok || string(r.Item()) != "persisted" {
		t.Fatalf("expected %q, got ok=%v item=%q", "persisted", ok, r.Item())
	}
}

func TestEnumInactiveLogItemRejectsUnknownTransaction(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)

	never := storage.NewTransactionId(0)
	if _, err := mgr.EnumInactiveLogItem(never); err != ErrTransactionNotActive {
		t.Fatalf("never-opened transaction: got err=%v, want ErrTransactionNotActive", err)
	}

	txn, _ := mgr.OpenTransaction()
	writeItem(t, mgr, txn, []byte("still active"))
	if _, err := mgr.EnumInactiveLogItem(txn); err != ErrTransactionNotActive {
		t.Fatalf("still-active transaction: got err=%v, want ErrTransactionNotActive", err)
	}

	if err := mgr.CloseTransaction(txn); err != nil {
		t.Fatalf("CloseTransaction: %v", err)
	}
	future := storage.NewTransactionId(txn.Index() + 1)
	if _, err := mgr.EnumInactiveLogItem(future); err != ErrTransactionNotActive {
		t.Fatalf("never-issued future ordinal: got err=%v, want ErrTransactionNotActive", err)
	}
}

func TestItemCountAcrossMultipleTransactions(t *testing.T) {
	bm, src := newTestStorage(t)
	mgr, _ := NewManager(bm, src, true, nil)

	txnA, _ := mgr.OpenTransaction()
	txnB, _ := mgr.OpenTransaction()

	writeItem(t, mgr, txnA, []byte("a1"))
	writeItem(t, mgr, txnB, []byte("b1"))
	writeItem(t, mgr, txnA, []byte("a2"))

	countA, err := mgr.ItemCount(txnA)
	if err != nil {
		t.Fatalf("ItemCount(A): %v", err)
	}
	if countA != 2 {
		t.Errorf("expected 2 items for txnA, got %d", countA)
	}
	countB, err := mgr.ItemCount(txnB)
	if err != nil {
		t.Fatalf("ItemCount(B): %v", err)
	}
	if countB != 1 {
		t.Errorf("expected 1 item for txnB, got %d", countB)
	}
}
