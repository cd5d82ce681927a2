package vm

import "testing"

// identityMapSv39 installs a single top-level (gigapage) Sv39 leaf that
// identity-maps the 1 GiB region holding RAMBase with the given PTE permission
// bits, so translation tests can exercise the walk without building a
// full three-level page table.
func identityMapSv39(t *testing.T, m *Machine, flags uint64) uint64 {
	t.Helper()
	rootPPN := uint64(RAMBase) >> PageShift
	pte := (rootPPN << 10) | flags | PteV | PteA | PteD

	// RAM-resident test addresses all share the same top-level (1GB) VPN,
	// so a single gigapage leaf at that index identity-maps every address
	// the tests in this file exercise.
	vpn2 := (uint64(RAMBase) >> 30) & 0x1ff
	pteAddr := RAMBase + vpn2*8
	if err := m.Bus.Write(pteAddr, Width64, pte); err != nil {
		t.Fatalf("write root pte: %v", err)
	}
	satp := (SatpModeSv39 << 60) | rootPPN
	return satp
}

func TestTranslateOffWhenSatpModeOff(t *testing.T) {
	m := newTestMachine(t, 1<<20)
	h := m.Harts[0]
	h.Priv = PrivSupervisor

	paddr, err := h.Translate(0x1234, AccessRead)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if paddr != 0x1234 {
		t.Fatalf("paddr = %#x, want identity 0x1234", paddr)
	}
}

func TestTranslateMachineModeBypassesMMU(t *testing.T) {
	m := newTestMachine(t, 1<<20)
	h := m.Harts[0]
	h.Satp = identityMapSv39(t, m, PteR|PteW|PteX)
	// h.Priv is PrivMachine by default after Reset; MMU must be bypassed.

	paddr, err := h.Translate(RAMBase+0x2000, AccessRead)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if paddr != RAMBase+0x2000 {
		t.Fatalf("paddr = %#x, want identity", paddr)
	}
}

func TestTranslateSv39Gigapage(t *testing.T) {
	m := newTestMachine(t, 1<<20)
	h := m.Harts[0]
	h.Priv = PrivSupervisor
	h.Satp = identityMapSv39(t, m, PteR|PteW|PteX)

	vaddr := RAMBase + 0x3000
	paddr, err := h.Translate(vaddr, AccessRead)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if paddr != vaddr {
		t.Fatalf("paddr = %#x, want identity %#x", paddr, vaddr)
	}

	// second translation should hit the TLB and return the same result
	paddr2, err := h.Translate(vaddr, AccessRead)
	if err != nil {
		t.Fatalf("Translate (cached): %v", err)
	}
	if paddr2 != vaddr {
		t.Fatalf("cached paddr = %#x, want identity %#x", paddr2, vaddr)
	}
}

func TestTranslateRaisesPageFaultWithoutPermission(t *testing.T) {
	m := newTestMachine(t, 1<<20)
	h := m.Harts[0]
	h.Priv = PrivSupervisor
	h.Satp = identityMapSv39(t, m, PteR) // no write permission

	_, err := h.Translate(RAMBase+0x1000, AccessWrite)
	trap, ok := AsTrap(err)
	if !ok {
		t.Fatalf("expected trap, got %v", err)
	}
	if trap.Cause != CauseStorePageFault {
		t.Errorf("cause = %#x, want store page fault", trap.Cause)
	}
}

func TestSfenceVMAFlushesTLB(t *testing.T) {
	m := newTestMachine(t, 1<<20)
	h := m.Harts[0]
	h.Priv = PrivSupervisor
	h.Satp = identityMapSv39(t, m, PteR|PteW|PteX)

	if _, err := h.Translate(RAMBase+0x1000, AccessRead); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if e := h.TLB.lookup((RAMBase+0x1000)>>PageShift, 0, AccessRead); e == nil {
		t.Fatal("expected a cached TLB entry before sfence.vma")
	}

	h.SfenceVMA(0, 0, false, false)
	if e := h.TLB.lookup((RAMBase+0x1000)>>PageShift, 0, AccessRead); e != nil {
		t.Fatal("expected sfence.vma to clear the TLB entry")
	}
}

func TestCSRSatpWriteFlushesTLB(t *testing.T) {
	m := newTestMachine(t, 1<<20)
	h := m.Harts[0]
	h.Priv = PrivSupervisor
	h.Satp = identityMapSv39(t, m, PteR|PteW|PteX)

	if _, err := h.Translate(RAMBase+0x1000, AccessRead); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if err := h.CSRWrite(CSRSatp, 0); err != nil {
		t.Fatalf("CSRWrite: %v", err)
	}
	if e := h.TLB.lookup((RAMBase+0x1000)>>PageShift, 0, AccessRead); e != nil {
		t.Fatal("expected satp write to flush the TLB")
	}
}

func TestCSRUnknownRaisesIllegalInsn(t *testing.T) {
	h := NewHart(0, nil, XLEN64)
	_, err := h.CSRRead(0x7ff) // unassigned CSR address
	trap, ok := AsTrap(err)
	if !ok {
		t.Fatalf("expected trap for unknown CSR, got %v", err)
	}
	if trap.Cause != CauseIllegalInsn {
		t.Errorf("cause = %#x, want illegal instruction", trap.Cause)
	}
}

func TestCheckInterruptPriority(t *testing.T) {
	h := NewHart(0, nil, XLEN64)
	h.Priv = PrivMachine
	h.Mstatus |= MstatusMIE
	h.Mie = MipMEIP | MipMTIP
	h.Mip = MipMEIP | MipMTIP

	pending, cause := h.CheckInterrupt()
	if !pending {
		t.Fatal("expected a pending interrupt")
	}
	if cause != CauseMExternalInt {
		t.Errorf("cause = %#x, want M-external (highest priority)", cause)
	}
}

func TestDeliverTrapSwitchesToMMode(t *testing.T) {
	h := NewHart(0, nil, XLEN64)
	h.Priv = PrivSupervisor
	h.Mtvec = 0x1000
	h.PC = 0x2000

	h.DeliverTrap(CauseIllegalInsn, 0xbeef)

	if h.Priv != PrivMachine {
		t.Errorf("priv = %d, want machine mode after an undelegated trap", h.Priv)
	}
	if h.Mepc != 0x2000 {
		t.Errorf("mepc = %#x, want 0x2000", h.Mepc)
	}
	if h.Mcause != CauseIllegalInsn {
		t.Errorf("mcause = %#x, want illegal insn", h.Mcause)
	}
	if h.PC != 0x1000 {
		t.Errorf("pc = %#x, want mtvec base 0x1000", h.PC)
	}
}
