// Package lockmgr implements the Lock Manager: six-mode hierarchical
// multi-granularity locking over Table/Page/Row targets, a priority
// scheduler for blocked acquires, and wait-for-graph deadlock detection.
//
// Grounded on original_source's Lock.h/Lock.cpp for the register/acquire/
// release structure (with one Manager-wide mutex in place of that
// code's per-node locks), generalized from that
// snapshot's older two-mode (shared/exclusive) lattice to the six-mode
// lattice fixed by spec.md §4.F.1; and on the teacher's
// pkg/mvcc/deadlock.go for the wait-for graph and DFS cycle detection,
// generalized from a single-edge-per-waiter graph to a multi-edge one.
package lockmgr

// Mode is one of the six lock modes.
type Mode int

const (
	IS Mode = iota
	S
	U
	IX
	SIX
	X
	modeCount
)

func (m Mode) String() string {
	switch m {
	case IS:
		return "IS"
	case S:
		return "S"
	case U:
		return "U"
	case IX:
		return "IX"
	case SIX:
		return "SIX"
	case X:
		return "X"
	default:
		return "?"
	}
}

// compat[requested][existing] reports whether a request for `requested`
// is compatible with an already-granted `existing` mode. Row/columns
// order: IS, S, U, IX, SIX, X -- transcribed directly from spec.md
// §4.F.1's matrix.
var compat = [6][6]bool{
	/*        IS     S      U      IX     SIX    X   */
	/* IS  */ {true, true, true, true, true, false},
	/* S   */ {true, true, true, false, false, false},
	/* U   */ {true, true, false, false, false, false},
	/* IX  */ {true, false, false, true, false, false},
	/* SIX */ {true, false, false, false, false, false},
	/* X   */ {false, false, false, false, false, false},
}

// compatible reports whether requesting `request` is allowed against a
// lock-info node that already has `existing[h] > 0` acquisitions.
func compatible(request Mode, existing [6]int) bool {
	for h := 0; h < int(modeCount); h++ {
		if existing[h] > 0 && !compat[request][h] {
			return false
		}
	}
	return true
}

// conflictsWith reports whether `request` is blocked specifically by mode
// `held`, used by deadlock wait-for edge construction.
func conflictsWith(request, held Mode) bool {
	return !compat[request][held]
}
