package jit

import "testing"

func TestAllocatorAssignsDistinctRegsForOverlappingRanges(t *testing.T) {
	trace := NewTrace(0x1000)
	a := trace.EmitConst(1)
	b := trace.EmitConst(2)
	trace.Emit(OpAdd, RegOperand(a), RegOperand(b))

	alloc := (&Allocator{NumRegs: 8}).Allocate(trace.Ops)
	if alloc[a].Spilled || alloc[b].Spilled {
		t.Fatalf("expected no spills with 8 host regs, got %+v", alloc)
	}
	if alloc[a].Slot == alloc[b].Slot {
		t.Fatalf("a and b are live simultaneously but share slot %d", alloc[a].Slot)
	}
}

func TestAllocatorSpillsWhenOutOfRegisters(t *testing.T) {
	trace := NewTrace(0x1000)
	var regs []Reg
	for i := 0; i < 4; i++ {
		regs = append(regs, trace.EmitConst(int64(i)))
	}
	// keep every one of them alive simultaneously
	acc := regs[0]
	for _, r := range regs[1:] {
		acc = trace.Emit(OpAdd, RegOperand(acc), RegOperand(r))
	}
	_ = acc

	alloc := (&Allocator{NumRegs: 2}).Allocate(trace.Ops)
	spilled := 0
	for _, a := range alloc {
		if a.Spilled {
			spilled++
		}
	}
	if spilled == 0 {
		t.Fatal("expected at least one spill with only 2 host regs")
	}
}

func TestTraceValidateCatchesUndefinedReg(t *testing.T) {
	trace := NewTrace(0x1000)
	trace.Ops = append(trace.Ops, Op{Kind: OpAdd, Dst: 5, A: RegOperand(99), B: ImmOperand(1)})
	if err := trace.Validate(); err == nil {
		t.Fatal("expected Validate to reject a reference to an undefined reg")
	}
}

func TestTracerHotnessPromotion(t *testing.T) {
	tr := &Tracer{HotnessThreshold: 3, counts: make(map[uint64]int)}
	if tr.RecordExecution(0x1000) {
		t.Fatal("should not be hot after 1 execution")
	}
	if tr.RecordExecution(0x1000) {
		t.Fatal("should not be hot after 2 executions")
	}
	if !tr.RecordExecution(0x1000) {
		t.Fatal("should become hot on the 3rd execution")
	}
	if tr.RecordExecution(0x1000) {
		t.Fatal("should only report hot once, at the crossing point")
	}
}
