package vm

// CheckInterrupt reports whether a pending, enabled interrupt should be
// taken before the next instruction, and which one, in RISC-V priority
// order: machine external > software > timer, then supervisor external >
// software > timer (§4.9).
func (h *Hart) CheckInterrupt() (bool, uint64) {
	pending := h.Mip & h.Mie
	if pending == 0 {
		return false, 0
	}

	if h.Priv == PrivMachine {
		if h.Mstatus&MstatusMIE == 0 {
			return false, 0
		}
	} else if h.Priv == PrivSupervisor {
		if h.Mstatus&MstatusSIE == 0 {
			mOnly := pending &^ h.Mideleg
			if mOnly == 0 {
				return false, 0
			}
			pending = mOnly
		}
	}

	mEnabled := h.Priv < PrivMachine || h.Mstatus&MstatusMIE != 0
	if pending&MipMEIP != 0 && mEnabled {
		return true, CauseMExternalInt
	}
	if pending&MipMSIP != 0 && mEnabled {
		return true, CauseMSoftwareInt
	}
	if pending&MipMTIP != 0 && mEnabled {
		return true, CauseMTimerInt
	}

	sEnabled := h.Priv < PrivSupervisor || (h.Priv == PrivSupervisor && h.Mstatus&MstatusSIE != 0)
	if pending&MipSEIP != 0 && sEnabled {
		return true, CauseSExternalInt
	}
	if pending&MipSSIP != 0 && sEnabled {
		return true, CauseSSoftwareInt
	}
	if pending&MipSTIP != 0 && sEnabled {
		return true, CauseSTimerInt
	}

	return false, 0
}

// DeliverTrap performs the privileged-spec trap-entry sequence for cause,
// delegating to S-mode when medeleg/mideleg says so and the hart is
// currently at or below S-mode, and honoring vectored mode (stvec/mtvec
// bit 0) for interrupts (§4.9).
func (h *Hart) DeliverTrap(cause, tval uint64) {
	isInterrupt := cause>>63 != 0
	code := cause &^ (uint64(1) << 63)

	delegate := false
	if h.Priv <= PrivSupervisor {
		if isInterrupt {
			delegate = h.Mideleg&(uint64(1)<<code) != 0
		} else {
			delegate = h.Medeleg&(uint64(1)<<code) != 0
		}
	}

	if delegate {
		h.Sepc = h.PC
		h.Scause = cause
		h.Stval = tval

		if h.Mstatus&MstatusSIE != 0 {
			h.Mstatus |= MstatusSPIE
		} else {
			h.Mstatus &^= MstatusSPIE
		}
		h.Mstatus &^= MstatusSIE

		if h.Priv == PrivSupervisor {
			h.Mstatus |= MstatusSPP
		} else {
			h.Mstatus &^= MstatusSPP
		}
		h.Priv = PrivSupervisor

		if h.Stvec&1 == 1 && isInterrupt {
			h.PC = (h.Stvec &^ 1) + 4*code
		} else {
			h.PC = h.Stvec &^ 3
		}
		return
	}

	h.Mepc = h.PC
	h.Mcause = cause
	h.Mtval = tval

	if h.Mstatus&MstatusMIE != 0 {
		h.Mstatus |= MstatusMPIE
	} else {
		h.Mstatus &^= MstatusMPIE
	}
	h.Mstatus &^= MstatusMIE

	h.Mstatus &^= MstatusMPP
	h.Mstatus |= uint64(h.Priv) << MstatusMPPShift
	h.Priv = PrivMachine

	if h.Mtvec&1 == 1 && isInterrupt {
		h.PC = (h.Mtvec &^ 1) + 4*code
	} else {
		h.PC = h.Mtvec &^ 3
	}
}
