package logstore

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"dbkernel/internal/storage"
)

// Manager is the Log Manager's public contract: transaction lifecycle,
// item writers, and item readers, all layered on one storage.Manager
// source. Grounded on the teacher's pkg/wal lifecycle shape
// (Open/Close, sentinel errors) and original_source's Log.cpp.
type Manager struct {
	bm     *storage.Manager
	source storage.SourceId
	logger *zap.Logger

	mu                   sync.Mutex
	active               map[storage.TransactionId]*LogTransDesc
	usedTransactionCount atomic.Uint64

	cursorPage   storage.PageId
	cursorOffset int
}

// NewManager attaches a Log Manager to an already-loaded source.
// createNew initializes a fresh address index; otherwise the existing
// index-page chain is walked to recover usedTransactionCount.
func NewManager(bm *storage.Manager, source storage.SourceId, createNew bool, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mgr := &Manager{
		bm:           bm,
		source:       source,
		logger:       logger,
		active:       make(map[storage.TransactionId]*LogTransDesc),
		cursorPage:   storage.InvalidPageId,
		cursorOffset: 0,
	}
	if createNew {
		if err := initIndexPage(bm, source, bm.GetIndexPage(source)); err != nil {
			return nil, err
		}
	} else {
		count, err := recoverUsedTransactionCount(bm, source)
		if err != nil {
			return nil, err
		}
		mgr.usedTransactionCount.Store(count)
	}
	return mgr, nil
}

// OpenTransaction registers a new transaction, reserving its address
// index slot, and returns its id.
func (mgr *Manager) OpenTransaction() (storage.TransactionId, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	ordinal := mgr.usedTransactionCount.Add(1) - 1
	txn := storage.NewTransactionId(ordinal)

	if err := setAddressItem(mgr.bm, mgr.source, int(ordinal), storage.InvalidPointer); err != nil {
		return storage.InvalidTransactionId, err
	}
	mgr.active[txn] = &LogTransDesc{
		FirstItem:             storage.InvalidPointer,
		LastItem:              storage.InvalidPointer,
		lastBlockNextAddrPage: storage.InvalidPageId,
	}

	mgr.logger.Debug("transaction opened", zap.Uint64("transaction", ordinal))
	return txn, nil
}

// CloseTransaction removes t from the active set, failing if an item
// writer is still open.
func (mgr *Manager) CloseTransaction(t storage.TransactionId) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	desc, ok := mgr.active[t]
	if !ok {
		return ErrTransactionNotActive
	}
	if desc.WriterOpen {
		return ErrWriterStillOpen
	}
	delete(mgr.active, t)
	mgr.logger.Debug("transaction closed", zap.Uint64("transaction", t.Index()))
	return nil
}

// IsActive reports whether t is currently registered.
func (mgr *Manager) IsActive(t storage.TransactionId) bool {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	_, ok := mgr.active[t]
	return ok
}

// OpenLogItem returns a writer for a new item in t, failing if t is not
// active or a writer is already open for it.
func (mgr *Manager) OpenLogItem(t storage.TransactionId) (*Writer, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	desc, ok := mgr.active[t]
	if !ok {
		return nil, ErrTransactionNotActive
	}
	if desc.WriterOpen {
		return nil, ErrWriterAlreadyOpen
	}
	desc.WriterOpen = true
	return &Writer{mgr: mgr, txn: t}, nil
}

// EnumLogItem returns a reader over an active transaction's items.
func (mgr *Manager) EnumLogItem(t storage.TransactionId) (*Reader, error) {
	mgr.mu.Lock()
	desc, ok := mgr.active[t]
	mgr.mu.Unlock()
	if !ok {
		return nil, ErrTransactionNotActive
	}
	return newReader(mgr, desc.FirstItem), nil
}

// EnumInactiveLogItem returns a reader over a closed transaction's items,
// looked up through the address index. t must be a previously issued,
// currently-inactive transaction id; an unknown or still-active id is
// rejected before the index chain is touched.
func (mgr *Manager) EnumInactiveLogItem(t storage.TransactionId) (*Reader, error) {
	mgr.mu.Lock()
	_, active := mgr.active[t]
	known := !active && t.IsValid() && t.Index() < mgr.usedTransactionCount.Load()
	mgr.mu.Unlock()
	if !known {
		return nil, ErrTransactionNotActive
	}

	ptr, err := getAddressItem(mgr.bm, mgr.source, int(t.Index()))
	if err != nil {
		return nil, err
	}
	return newReader(mgr, ptr), nil
}

// ItemCount walks t's item chain (active or inactive) and returns how
// many items it holds.
func (mgr *Manager) ItemCount(t storage.TransactionId) (int, error) {
	var r *Reader
	var err error
	if mgr.IsActive(t) {
		r, err = mgr.EnumLogItem(t)
	} else {
		r, err = mgr.EnumInactiveLogItem(t)
	}
	if err != nil {
		return 0, err
	}
	count := 0
	for {
		ok, err := r.NextItem()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		count++
	}
	return count, nil
}
