package jit

import "sort"

// Allocation is the outcome of register allocation for one trace: for each
// IR Reg, either a host register index (Spilled == false) or a stack-slot
// index (Spilled == true).
type Allocation struct {
	Slot     int
	Spilled  bool
}

// Allocator assigns host registers to IR Regs with a linear-scan pass over
// each Reg's live range, spilling to a stack slot once the host register
// budget (NumRegs) is exhausted. Linear scan rather than graph-coloring
// because traces are straight-line: live ranges are simple integer
// intervals with no control-flow merges to reconcile.
type Allocator struct {
	NumRegs int
}

type liveRange struct {
	reg        Reg
	start, end int
}

// Allocate computes host-register/spill-slot assignments for every Reg
// defined in ops.
func (a *Allocator) Allocate(ops []Op) map[Reg]Allocation {
	if a.NumRegs <= 0 {
		a.NumRegs = 8
	}

	ranges := computeLiveRanges(ops)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	result := make(map[Reg]Allocation, len(ranges))
	active := make([]liveRange, 0, a.NumRegs)
	freeRegs := make([]int, a.NumRegs)
	for i := range freeRegs {
		freeRegs[i] = a.NumRegs - 1 - i
	}
	nextSpill := 0

	popReg := func() (int, bool) {
		if len(freeRegs) == 0 {
			return 0, false
		}
		r := freeRegs[len(freeRegs)-1]
		freeRegs = freeRegs[:len(freeRegs)-1]
		return r, true
	}

	for _, lr := range ranges {
		// Expire any active ranges that ended before this one starts,
		// returning their host register to the free pool.
		kept := active[:0]
		for _, a2 := range active {
			if a2.end < lr.start {
				freeRegs = append(freeRegs, result[a2.reg].Slot)
			} else {
				kept = append(kept, a2)
			}
		}
		active = kept

		if reg, ok := popReg(); ok {
			result[lr.reg] = Allocation{Slot: reg}
			active = append(active, lr)
		} else {
			result[lr.reg] = Allocation{Slot: nextSpill, Spilled: true}
			nextSpill++
		}
	}

	return result
}

func computeLiveRanges(ops []Op) []liveRange {
	starts := make(map[Reg]int)
	ends := make(map[Reg]int)

	record := func(r Reg, idx int) {
		if _, ok := starts[r]; !ok {
			starts[r] = idx
		}
		ends[r] = idx
	}

	for i, op := range ops {
		if !op.A.IsImm && op.A.Reg != 0 {
			record(op.A.Reg, i)
		}
		if !op.B.IsImm && op.B.Reg != 0 {
			record(op.B.Reg, i)
		}
		switch op.Kind {
		case OpStore, OpGuardEq, OpGuardNeq, OpReturn, OpWriteReg:
		default:
			starts[op.Dst] = minInt(valueOr(starts, op.Dst, i), i)
			if ends[op.Dst] < i {
				ends[op.Dst] = i
			}
		}
	}

	ranges := make([]liveRange, 0, len(starts))
	for r, s := range starts {
		ranges = append(ranges, liveRange{reg: r, start: s, end: ends[r]})
	}
	return ranges
}

func valueOr(m map[Reg]int, k Reg, def int) int {
	if v, ok := m[k]; ok {
		return v
	}
	return def
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
