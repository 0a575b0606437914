package logstore

import (
	"bytes"

	"dbkernel/internal/storage"
)

// Writer accumulates one item's payload and, on Close, splits it into a
// chain of blocks written onto the log's shared write cursor. Mirrors
// spec §4.E steps 1-4, grounded on original_source's Log.cpp
// AllocateBlock.
type Writer struct {
	mgr    *Manager
	txn    storage.TransactionId
	buf    bytes.Buffer
	closed bool
}

// Write appends p to the item's in-memory payload buffer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterAlreadyClosed
	}
	return w.buf.Write(p)
}

// Close splits the accumulated payload into a block chain, persists it,
// links it into the transaction's item chain, and releases the writer.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterAlreadyClosed
	}
	w.closed = true
	return w.mgr.finishItem(w.txn, w.buf.Bytes())
}

// finishItem implements the block-chain allocation algorithm described in
// spec §4.E. It holds mgr.mu for its entire body, matching the documented
// concurrency model ("the writer holds it while finalizing a close").
func (mgr *Manager) finishItem(txn storage.TransactionId, payload []byte) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	desc, ok := mgr.active[txn]
	if !ok {
		return ErrTransactionNotActive
	}

	isFirstItemOfTxn := !desc.FirstItem.IsValid()
	itemLen := len(payload)
	pageSize := mgr.bm.GetPageSize()

	var firstBlockAddr storage.Pointer
	// Start from the dangling link left by the transaction's previous
	// item (if any), so this item's first block gets linked in.
	prevNextAddrPage := desc.lastBlockNextAddrPage
	prevNextAddrOffset := desc.lastBlockNextAddrOffset

	remaining := payload
	first := true
	for {
		var headerWords int
		switch {
		case first && isFirstItemOfTxn:
			headerWords = 4
		case first:
			headerWords = 3
		default:
			headerWords = 2
		}
		headerBytes := headerWords * wordSize

		if err := mgr.ensureCursorRoom(headerBytes); err != nil {
			return err
		}
		avail := pageSize - mgr.cursorOffset
		capacity := avail - headerBytes
		n := len(remaining)
		if n > capacity {
			n = capacity
		}
		blockLen := n

		blockPage := mgr.cursorPage
		blockOffset := mgr.cursorOffset

		data, ok := mgr.bm.LockPage(mgr.source, blockPage)
		if !ok {
			return ErrPageAccessFailed
		}

		switch headerWords {
		case 4:
			writeWord(data, blockOffset+0*wordSize, txn.Index())
			writeWord(data, blockOffset+1*wordSize, uint64(itemLen))
			writeWord(data, blockOffset+2*wordSize, uint64(blockLen))
			writeWord(data, blockOffset+3*wordSize, ^uint64(0))
			prevNextAddrOffset = blockOffset + 3*wordSize
		case 3:
			writeWord(data, blockOffset+0*wordSize, uint64(itemLen))
			writeWord(data, blockOffset+1*wordSize, uint64(blockLen))
			writeWord(data, blockOffset+2*wordSize, ^uint64(0))
			prevNextAddrOffset = blockOffset + 2*wordSize
		case 2:
			writeWord(data, blockOffset+0*wordSize, uint64(blockLen))
			writeWord(data, blockOffset+1*wordSize, ^uint64(0))
			prevNextAddrOffset = blockOffset + 1*wordSize
		}
		if blockLen > 0 {
			copy(data[blockOffset+headerBytes:blockOffset+headerBytes+blockLen], remaining[:blockLen])
		}
		if err := mgr.bm.UnlockPage(mgr.source, blockPage, data, storage.ChangedAndPersist); err != nil {
			return ErrPageAccessFailed
		}

		addr, err := mgr.bm.EncodePointer(blockPage, blockOffset)
		if err != nil {
			return err
		}
		if first {
			firstBlockAddr = addr
		}
		if prevNextAddrPage.IsValid() {
			if err := mgr.patchNextAddress(prevNextAddrPage, prevNextAddrOffset, addr); err != nil {
				return err
			}
		}
		prevNextAddrPage = blockPage

		mgr.cursorOffset = blockOffset + headerBytes + alignUp(blockLen)
		remaining = remaining[blockLen:]
		first = false
		if len(remaining) == 0 {
			break
		}
	}

	if isFirstItemOfTxn {
		desc.FirstItem = firstBlockAddr
		if err := setAddressItem(mgr.bm, mgr.source, int(txn.Index()), firstBlockAddr); err != nil {
			return err
		}
	}
	desc.LastItem = firstBlockAddr
	desc.lastBlockNextAddrPage = prevNextAddrPage
	desc.lastBlockNextAddrOffset = prevNextAddrOffset
	desc.WriterOpen = false
	mgr.active[txn] = desc

	mgr.logger.Debug("log item written")
	return nil
}

// ensureCursorRoom allocates a fresh page and resets the write cursor to
// it if the current page cannot hold a block header of headerBytes.
func (mgr *Manager) ensureCursorRoom(headerBytes int) error {
	pageSize := mgr.bm.GetPageSize()
	if mgr.cursorPage.IsValid() && pageSize-mgr.cursorOffset >= headerBytes {
		return nil
	}
	page, ok := mgr.bm.AllocatePage(mgr.source)
	if !ok {
		return ErrAllocationFailed
	}
	mgr.cursorPage = page
	mgr.cursorOffset = 0
	return nil
}

// patchNextAddress rewrites the nextAddress word of a previously written
// block once the address of the following block is known.
func (mgr *Manager) patchNextAddress(page storage.PageId, offset int, next storage.Pointer) error {
	data, ok := mgr.bm.LockPage(mgr.source, page)
	if !ok {
		return ErrPageAccessFailed
	}
	writeWord(data, offset, next.Raw())
	return mgr.bm.UnlockPage(mgr.source, page, data, storage.Changed)
}
