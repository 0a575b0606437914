package storage

import "sort"

// runEvictionPass implements spec.md §4.B: collect unlocked mapped-page
// candidates from every source, merge-sort by ascending lastAccessTime,
// and unmap the oldest until the cached-page counter is back at or below
// target, or candidates run out. Unmap failures (a dirty flush that
// fails) abort that candidate only; the pass continues with the next.
func runEvictionPass(sources []*sourceEntry, currentlyCached int, target int) int {
	if currentlyCached <= target {
		return currentlyCached
	}
	need := currentlyCached - target

	var candidates []struct {
		entry *sourceEntry
		tuple BufferPageTimeTuple
	}
	for _, e := range sources {
		tuples := e.impl.fillUnmapCandidates(nil, need)
		for _, t := range tuples {
			t.Source = e.id
			candidates = append(candidates, struct {
				entry *sourceEntry
				tuple BufferPageTimeTuple
			}{e, t})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].tuple.LastAccessTime < candidates[j].tuple.LastAccessTime
	})

	for _, c := range candidates {
		if currentlyCached <= target {
			break
		}
		if c.entry.impl.unmapPage(c.tuple.Page) {
			currentlyCached--
		}
	}
	return currentlyCached
}
