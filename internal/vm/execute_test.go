package vm

import (
	"context"
	"testing"
	"time"
)

func newTestMachine(t *testing.T, ramSize uint64) *Machine {
	t.Helper()
	return NewMachine(Config{
		HartCount:   1,
		RAMSize:     ramSize,
		ResetVector: RAMBase,
		XLen:        XLEN64,
	})
}

func loadProgram(t *testing.T, m *Machine, code []uint32) {
	t.Helper()
	for i, insn := range code {
		if err := m.Bus.Write(RAMBase+uint64(i*4), Width32, uint64(insn)); err != nil {
			t.Fatalf("load program: %v", err)
		}
	}
}

func TestALUOperations(t *testing.T) {
	m := newTestMachine(t, 1<<20)

	// li a0, 10; li a1, 3; add a2,a0,a1; sub a3,a0,a1; and a4,a0,a1;
	// or a5,a0,a1; xor a6,a0,a1; ebreak
	code := []uint32{
		0x00a00513,
		0x00300593,
		0x00b50633,
		0x40b506b3,
		0x00b57733,
		0x00b567b3,
		0x00b54833,
		0x00100073,
	}
	loadProgram(t, m, code)

	h := m.Harts[0]
	for i := 0; i < len(code)-1; i++ {
		if err := m.step(h); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if got := h.ReadReg(12); got != 13 {
		t.Errorf("a2 = %d, want 13", got)
	}
	if got := h.ReadReg(13); got != 7 {
		t.Errorf("a3 = %d, want 7", got)
	}
	if got := h.ReadReg(14); got != 2 {
		t.Errorf("a4 = %d, want 2", got)
	}
	if got := h.ReadReg(15); got != 11 {
		t.Errorf("a5 = %d, want 11", got)
	}
	if got := h.ReadReg(16); got != 9 {
		t.Errorf("a6 = %d, want 9", got)
	}
}

func TestDivByZero(t *testing.T) {
	m := newTestMachine(t, 1<<16)
	h := m.Harts[0]

	h.WriteReg(10, 5)
	h.WriteReg(11, 0)
	// div a2, a0, a1
	if err := h.Execute(0x02b54633); err != nil {
		t.Fatalf("div: %v", err)
	}
	if got := h.ReadReg(12); got != ^uint64(0) {
		t.Errorf("div by zero = %#x, want all-ones", got)
	}

	// rem a3, a0, a1
	if err := h.Execute(0x02b566b3); err != nil {
		t.Fatalf("rem: %v", err)
	}
	if got := h.ReadReg(13); got != 5 {
		t.Errorf("rem by zero = %d, want dividend 5", got)
	}
}

func TestAMOMisalignedRaisesStoreFault(t *testing.T) {
	m := newTestMachine(t, 1<<16)
	h := m.Harts[0]
	h.WriteReg(10, RAMBase+1) // misaligned

	// amoadd.w x0, x0, (a0): funct7=0000000 rs2=0 f3=010 rd=0 op=0101111
	insn := uint32(0b0000000_00000_01010_010_00000_0101111)
	err := h.Execute(insn)
	trap, ok := AsTrap(err)
	if !ok {
		t.Fatalf("expected trap, got %v", err)
	}
	if trap.Cause != CauseStoreAddrMisaligned {
		t.Errorf("cause = %#x, want misaligned store", trap.Cause)
	}
}

func TestWriteRegIgnoresX0(t *testing.T) {
	h := NewHart(0, nil, XLEN64)
	h.WriteReg(0, 0xdead)
	if h.ReadReg(0) != 0 {
		t.Errorf("x0 = %#x, want 0", h.ReadReg(0))
	}
}

func TestRunStops(t *testing.T) {
	m := newTestMachine(t, 1<<16)
	loadProgram(t, m, []uint32{0x00100073}) // ebreak

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.RequestStop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after RequestStop")
	}
}
