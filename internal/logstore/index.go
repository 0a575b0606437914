package logstore

import "dbkernel/internal/storage"

// indexPageForOrdinal walks the index-page chain rooted at the Buffer
// Manager's reserved index page, extending it with freshly allocated
// pages when ordinal is beyond the current chain length. Mirrors
// original_source's WriteAddressItem chain-walk/extend loop.
func indexPageForOrdinal(bm *storage.Manager, source storage.SourceId, ordinal int) (storage.PageId, error) {
	page := bm.GetIndexPage(source)
	for i := 0; i < ordinal; i++ {
		data, ok := bm.LockPage(source, page)
		if !ok {
			return storage.InvalidPageId, ErrPageAccessFailed
		}
		next := readWord(data, idxNextPage*wordSize)
		if next == (^uint64(0)) {
			newPage, ok := bm.AllocatePage(source)
			if !ok {
				bm.UnlockPage(source, page, data, storage.NoChanging)
				return storage.InvalidPageId, ErrAllocationFailed
			}
			if err := initIndexPage(bm, source, newPage); err != nil {
				bm.UnlockPage(source, page, data, storage.NoChanging)
				return storage.InvalidPageId, err
			}
			writeWord(data, idxNextPage*wordSize, newPage.Index())
			bm.UnlockPage(source, page, data, storage.Changed)
			page = newPage
			continue
		}
		bm.UnlockPage(source, page, data, storage.NoChanging)
		page = storage.NewPageId(next)
	}
	return page, nil
}

func initIndexPage(bm *storage.Manager, source storage.SourceId, page storage.PageId) error {
	data, ok := bm.LockPage(source, page)
	if !ok {
		return ErrPageAccessFailed
	}
	writeWord(data, idxUsedCount*wordSize, 0)
	writeWord(data, idxNextPage*wordSize, ^uint64(0))
	bm.UnlockPage(source, page, data, storage.Changed)
	return nil
}

// setAddressItem writes transaction ordinal's address slot on its index
// page to ptr, and bumps that page's used-count if this is a newly
// touched slot (slotOrdinal >= the page's current used count).
func setAddressItem(bm *storage.Manager, source storage.SourceId, ordinal int, ptr storage.Pointer) error {
	itemsPerPage := addressItemsPerIndexPage(bm.GetPageSize())
	pageOrdinal := ordinal / itemsPerPage
	slot := ordinal % itemsPerPage

	page, err := indexPageForOrdinal(bm, source, pageOrdinal)
	if err != nil {
		return err
	}
	data, ok := bm.LockPage(source, page)
	if !ok {
		return ErrPageAccessFailed
	}
	writeWord(data, (idxAddressBegin+slot)*wordSize, ptr.Raw())
	used := int(readWord(data, idxUsedCount*wordSize))
	if slot+1 > used {
		writeWord(data, idxUsedCount*wordSize, uint64(slot+1))
	}
	bm.UnlockPage(source, page, data, storage.Changed)
	return nil
}

func getAddressItem(bm *storage.Manager, source storage.SourceId, ordinal int) (storage.Pointer, error) {
	itemsPerPage := addressItemsPerIndexPage(bm.GetPageSize())
	pageOrdinal := ordinal / itemsPerPage
	slot := ordinal % itemsPerPage

	page, err := indexPageForOrdinal(bm, source, pageOrdinal)
	if err != nil {
		return storage.InvalidPointer, err
	}
	data, ok := bm.LockPage(source, page)
	if !ok {
		return storage.InvalidPointer, ErrPageAccessFailed
	}
	raw := readWord(data, (idxAddressBegin+slot)*wordSize)
	bm.UnlockPage(source, page, data, storage.NoChanging)
	return storage.PointerFromRaw(raw), nil
}

// recoverUsedTransactionCount walks the full index-page chain summing
// each page's used-count field, recovering the total transaction count
// for a reopened (not freshly created) log source.
func recoverUsedTransactionCount(bm *storage.Manager, source storage.SourceId) (uint64, error) {
	itemsPerPage := uint64(addressItemsPerIndexPage(bm.GetPageSize()))
	var total uint64
	page := bm.GetIndexPage(source)
	for {
		data, ok := bm.LockPage(source, page)
		if !ok {
			return 0, ErrPageAccessFailed
		}
		used := readWord(data, idxUsedCount*wordSize)
		next := readWord(data, idxNextPage*wordSize)
		bm.UnlockPage(source, page, data, storage.NoChanging)

		if used < itemsPerPage {
			total += used
			break
		}
		total += used
		if next == (^uint64(0)) {
			break
		}
		page = storage.NewPageId(next)
	}
	return total, nil
}
