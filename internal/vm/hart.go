package vm

import (
	"fmt"
	"io"
)

// XLEN selects the guest's native integer width.
type XLEN int

const (
	XLEN32 XLEN = 32
	XLEN64 XLEN = 64
)

// Privilege levels.
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// misa extension bits.
const (
	MisaA uint64 = 1 << 0
	MisaC uint64 = 1 << 2
	MisaD uint64 = 1 << 3
	MisaF uint64 = 1 << 5
	MisaI uint64 = 1 << 8
	MisaM uint64 = 1 << 12
	MisaS uint64 = 1 << 18
	MisaU uint64 = 1 << 20
)

const (
	MXL32 uint64 = 1
	MXL64 uint64 = 2
)

// mstatus bits.
const (
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11
	MstatusFS   uint64 = 3 << 13
	MstatusMPRV uint64 = 1 << 17
	MstatusSUM  uint64 = 1 << 18
	MstatusMXR  uint64 = 1 << 19
	MstatusTVM  uint64 = 1 << 20
	MstatusTW   uint64 = 1 << 21
	MstatusTSR  uint64 = 1 << 22
	MstatusSD   uint64 = 1 << 63
)

const (
	MstatusSPPShift = 8
	MstatusMPPShift = 11
	MstatusFSShift  = 13
)

// mip/mie bits.
const (
	MipSSIP uint64 = 1 << 1
	MipMSIP uint64 = 1 << 3
	MipSTIP uint64 = 1 << 5
	MipMTIP uint64 = 1 << 7
	MipSEIP uint64 = 1 << 9
	MipMEIP uint64 = 1 << 11
)

// Exception causes.
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseBreakpoint          uint64 = 3
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
	CauseEcallFromU          uint64 = 8
	CauseEcallFromS          uint64 = 9
	CauseEcallFromM          uint64 = 11
	CauseInsnPageFault       uint64 = 12
	CauseLoadPageFault       uint64 = 13
	CauseStorePageFault      uint64 = 15
)

// Interrupt causes (bit 63 set).
const (
	CauseSSoftwareInt uint64 = (1 << 63) | 1
	CauseMSoftwareInt uint64 = (1 << 63) | 3
	CauseSTimerInt    uint64 = (1 << 63) | 5
	CauseMTimerInt    uint64 = (1 << 63) | 7
	CauseSExternalInt uint64 = (1 << 63) | 9
	CauseMExternalInt uint64 = (1 << 63) | 11
)

// HartState is the top-level state-machine position of a hart's loop (§4.9).
type HartState int

const (
	Running HartState = iota
	Trapped
	WaitingForInterrupt
	Paused
	Stopped
)

func (s HartState) String() string {
	switch s {
	case Running:
		return "running"
	case Trapped:
		return "trapped"
	case WaitingForInterrupt:
		return "wfi"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Hart is a single RISC-V hardware thread: integer/float register files,
// PC, privilege, CSR bank, TLB, reservation set, and a back-reference to
// the shared Machine (§3).
type Hart struct {
	ID int

	X [32]uint64 // integer registers, x0 hardwired to zero at the access points
	F [32]uint64 // floating registers, NaN-boxed for single precision

	PC   uint64
	Priv uint8
	XLen XLEN

	Cycle   uint64
	Instret uint64

	// Machine-mode CSRs
	Mstatus, Misa, Medeleg, Mideleg uint64
	Mie, Mtvec, Mcounteren          uint64
	Mscratch, Mepc, Mcause, Mtval   uint64
	Mip, Mhartid                    uint64

	// Supervisor-mode CSRs
	Stvec, Scounteren, Sscratch uint64
	Sepc, Scause, Stval, Satp   uint64

	Fflags uint8
	Frm    uint8

	// Load-reserved/store-conditional reservation.
	Reservation      uint64
	ReservationWidth AccessWidth
	ReservationValid bool

	WFI bool

	State HartState

	TLB *TLB

	Machine *Machine

	DebugLog io.Writer
}

// NewHart creates a hart attached to m, reset to architectural defaults and
// parked in M-mode at the machine's reset vector.
func NewHart(id int, m *Machine, xlen XLEN) *Hart {
	h := &Hart{
		ID:      id,
		Machine: m,
		XLen:    xlen,
		TLB:     NewTLB(),
	}
	h.Reset()
	return h
}

// Reset restores architectural reset state: all GPRs zero, PC at the
// configured reset vector, M-mode, misa reporting the implemented
// extensions (§6 "Guest boundary").
func (h *Hart) Reset() {
	for i := range h.X {
		h.X[i] = 0
	}
	for i := range h.F {
		h.F[i] = 0
	}
	h.Priv = PrivMachine
	mxl := MXL64
	if h.XLen == XLEN32 {
		mxl = MXL32
	}
	shift := uint64(62)
	if h.XLen == XLEN32 {
		shift = 30
	}
	h.Misa = (mxl << shift) | MisaI | MisaM | MisaA | MisaF | MisaD | MisaC | MisaS | MisaU
	h.Mhartid = uint64(h.ID)
	h.Cycle, h.Instret = 0, 0
	h.Mstatus, h.Mie, h.Mip = 0, 0, 0
	h.Mtvec, h.Mepc, h.Mcause, h.Mtval, h.Mscratch = 0, 0, 0, 0, 0
	h.Medeleg, h.Mideleg = 0, 0
	h.Stvec, h.Sepc, h.Scause, h.Stval, h.Sscratch, h.Satp = 0, 0, 0, 0, 0, 0
	h.WFI = false
	h.ReservationValid = false
	h.State = Running
	if h.Machine != nil {
		h.PC = h.Machine.ResetVector
	}
	h.TLB.FlushAll()
}

// ReadReg reads integer register reg; x0 always reads zero (§3 invariant).
func (h *Hart) ReadReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	v := h.X[reg]
	if h.XLen == XLEN32 {
		return uint64(uint32(v))
	}
	return v
}

// WriteReg writes integer register reg; writes to x0 are discarded.
func (h *Hart) WriteReg(reg uint32, val uint64) {
	if reg == 0 {
		return
	}
	if h.XLen == XLEN32 {
		val = uint64(uint32(val))
	}
	h.X[reg] = val
}

func signExtend(val uint64, bits int) int64 {
	shift := 64 - bits
	return int64(val<<shift) >> shift
}

func signExtend32(val uint32) int64 {
	return int64(int32(val))
}

// Trap represents a precise synchronous exception or an asynchronous
// interrupt, carried as a Go error through the interpreter and MMU.
type Trap struct {
	Cause uint64
	Tval  uint64
}

func (t *Trap) Error() string {
	return fmt.Sprintf("vm: trap cause=%#x tval=%#x", t.Cause, t.Tval)
}

// Exception constructs a Trap error for the given cause/tval pair.
func Exception(cause, tval uint64) error {
	return &Trap{Cause: cause, Tval: tval}
}

// AsTrap reports whether err is a *Trap, for callers that need to branch on
// guest-visible faults versus host-level errors (§7).
func AsTrap(err error) (*Trap, bool) {
	t, ok := err.(*Trap)
	return t, ok
}
