package logstore

import "dbkernel/internal/storage"

// Reader enumerates a transaction's items in write order. Grounded on
// spec §4.E "Reading".
type Reader struct {
	mgr           *Manager
	nextItemPtr   storage.Pointer
	consumedFirst bool
	current       []byte
}

func newReader(mgr *Manager, start storage.Pointer) *Reader {
	return &Reader{mgr: mgr, nextItemPtr: start}
}

// NextItem advances to the next item, returning false once the chain is
// exhausted.
func (r *Reader) NextItem() (bool, error) {
	if !r.nextItemPtr.IsValid() {
		r.current = nil
		return false, nil
	}
	bm := r.mgr.bm
	source := r.mgr.source

	page, offset, ok := bm.DecodePointer(r.nextItemPtr)
	if !ok {
		return false, ErrPageAccessFailed
	}
	data, ok := bm.LockPage(source, page)
	if !ok {
		return false, ErrPageAccessFailed
	}

	var itemLen, blockLen, headerBytes int
	var nextRaw uint64
	if !r.consumedFirst {
		// The transaction's very first item uses the 4-word header
		// [transaction, itemLength, blockLength, nextAddress].
		itemLen = int(readWord(data, offset+1*wordSize))
		blockLen = int(readWord(data, offset+2*wordSize))
		nextRaw = readWord(data, offset+3*wordSize)
		headerBytes = 4 * wordSize
	} else {
		// Every later item's first block uses the 3-word header
		// [itemLength, blockLength, nextAddress].
		itemLen = int(readWord(data, offset+0*wordSize))
		blockLen = int(readWord(data, offset+1*wordSize))
		nextRaw = readWord(data, offset+2*wordSize)
		headerBytes = 3 * wordSize
	}
	r.consumedFirst = true

	payload := make([]byte, itemLen)
	copy(payload[:blockLen], data[offset+headerBytes:offset+headerBytes+blockLen])
	bm.UnlockPage(source, page, data, storage.NoChanging)

	written := blockLen
	curNext := nextRaw
	for written < itemLen {
		contPtr := storage.PointerFromRaw(curNext)
		if !contPtr.IsValid() {
			break
		}
		cp, co, ok := bm.DecodePointer(contPtr)
		if !ok {
			return false, ErrPageAccessFailed
		}
		cdata, ok := bm.LockPage(source, cp)
		if !ok {
			return false, ErrPageAccessFailed
		}
		// Continuation blocks use the 2-word header [blockLength, nextAddress].
		cBlockLen := int(readWord(cdata, co+0*wordSize))
		cNext := readWord(cdata, co+1*wordSize)
		copy(payload[written:written+cBlockLen], cdata[co+2*wordSize:co+2*wordSize+cBlockLen])
		bm.UnlockPage(source, cp, cdata, storage.NoChanging)
		written += cBlockLen
		curNext = cNext
	}

	r.current = payload
	r.nextItemPtr = storage.PointerFromRaw(curNext)
	return true, nil
}

// Item returns the payload produced by the most recent successful
// NextItem call.
func (r *Reader) Item() []byte { return r.current }
