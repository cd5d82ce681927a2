package vm

import (
	"context"
	"testing"
	"time"
)

func TestHSMHartStartWakesStoppedHart(t *testing.T) {
	m := newTestMachine(t, 1<<20)
	m.Config.HartCount = 2
	h1 := NewHart(1, m, XLEN64)
	h1.State = Stopped
	m.Harts = append(m.Harts, h1)
	m.requests = append(m.requests, make(chan hartRequest, 4))

	const startAddr = RAMBase + 0x100
	loadProgramAt(t, m, startAddr, []uint32{0x00100073}) // ebreak, so the woken hart parks quickly

	errCode, _ := m.handleSBIHSM(SBIHSMHartStart, 1, startAddr, 0x2a)
	if errCode != SBISuccess {
		t.Fatalf("handleSBIHSM start = %d, want success", errCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go m.runHart(ctx, h1)

	deadline := time.After(time.Second)
	for {
		errCode, status := m.handleSBIHSM(SBIHSMHartStatus, 1, 0, 0)
		if errCode == SBISuccess && status == HSMStarted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("hart 1 never transitioned to started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if h1.PC != startAddr {
		t.Errorf("hart 1 PC = %#x, want start addr %#x", h1.PC, startAddr)
	}
	if h1.X[11] != 0x2a {
		t.Errorf("hart 1 a1 = %#x, want opaque value 0x2a", h1.X[11])
	}
}

func TestIPISetsSSIPOnSelectedHarts(t *testing.T) {
	m := newTestMachine(t, 1<<16)
	m.Harts = append(m.Harts, NewHart(1, m, XLEN64))
	m.requests = append(m.requests, make(chan hartRequest, 4))

	errCode := m.sbiSendIPI(0b10, 0) // select hart 1 only
	if errCode != SBISuccess {
		t.Fatalf("sbiSendIPI = %d, want success", errCode)
	}
	if m.Harts[0].Mip&MipSSIP != 0 {
		t.Error("hart 0 should not have received the IPI")
	}
	if m.Harts[1].Mip&MipSSIP == 0 {
		t.Error("hart 1 should have SSIP pending after the IPI")
	}
}

func TestHartSelectedAllHartsConvention(t *testing.T) {
	if !hartSelected(7, 0, ^uint64(0)) {
		t.Error("hartMaskBase=all-ones should select every hart id")
	}
	if hartSelected(3, 0b0010, 0) {
		t.Error("hart 3 should not be selected by mask 0b0010 based at 0")
	}
	if !hartSelected(1, 0b0010, 0) {
		t.Error("hart 1 should be selected by mask 0b0010 based at 0")
	}
}

func loadProgramAt(t *testing.T, m *Machine, base uint64, code []uint32) {
	t.Helper()
	for i, insn := range code {
		if err := m.Bus.Write(base+uint64(i*4), Width32, uint64(insn)); err != nil {
			t.Fatalf("load program: %v", err)
		}
	}
}
