package vm

import "fmt"

// SBI extension IDs.
const (
	SBIExtBase          = 0x10
	SBIExtTimer         = 0x54494D45
	SBIExtIPI           = 0x735049
	SBIExtRFence        = 0x52464E43
	SBIExtHSM           = 0x48534D
	SBIExtSRST          = 0x53525354
	SBIExtLegacyPutchar = 0x01
	SBIExtLegacyGetchar = 0x02
)

const (
	SBIBaseGetSpecVersion = 0
	SBIBaseGetImplID      = 1
	SBIBaseGetImplVersion = 2
	SBIBaseProbeExtension = 3
	SBIBaseGetMvendorID   = 4
	SBIBaseGetMarchID     = 5
	SBIBaseGetMimplID     = 6
)

const SBITimerSetTimer = 0

const (
	SBIHSMHartStart  = 0
	SBIHSMHartStop   = 1
	SBIHSMHartStatus = 2
)

const (
	SBISuccess           int64 = 0
	SBIErrFailed         int64 = -1
	SBIErrNotSupported   int64 = -2
	SBIErrInvalidParam   int64 = -3
	SBIErrDenied         int64 = -4
	SBIErrInvalidAddress int64 = -5
	SBIErrAlreadyAvail   int64 = -6
)

const (
	HSMStopped      uint64 = 0
	HSMStarted      uint64 = 1
	HSMStartPending uint64 = 2
	HSMStopPending  uint64 = 3
)

// HandleSBI services an SBI ecall trapped from S-mode, reading the
// extension/function ID out of a7/a6 and the arguments out of a0-a5 per
// the SBI calling convention, and generalizes the legacy single-hart
// implementation to the HSM/IPI/RFENCE calls a multi-hart guest actually
// issues (§4.9, §6).
func (h *Hart) HandleSBI() error {
	ext := h.X[17]
	fid := h.X[16]

	if h.Machine.Log != nil {
		h.Machine.Log(fmt.Sprintf("sbi: hart=%d ext=%#x fid=%d a0=%#x a1=%#x pc=%#x", h.ID, ext, fid, h.X[10], h.X[11], h.PC))
	}

	var errCode = SBISuccess
	var val uint64

	switch ext {
	case SBIExtLegacyPutchar:
		if h.Machine.Console != nil {
			h.Machine.Console.Write([]byte{byte(h.X[10])})
		}
	case SBIExtLegacyGetchar:
		if h.Machine.Console != nil {
			buf := make([]byte, 1)
			if n, _ := h.Machine.Console.Read(buf); n == 1 {
				val = uint64(buf[0])
			} else {
				val = ^uint64(0)
			}
		} else {
			val = ^uint64(0)
		}
	case SBIExtBase:
		errCode, val = h.handleSBIBase(fid)
	case SBIExtTimer:
		errCode, val = h.handleSBITimer(fid)
	case SBIExtIPI:
		errCode = h.Machine.sbiSendIPI(h.X[10], h.X[11])
	case SBIExtRFence:
		errCode = h.Machine.sbiRemoteFence(fid, h.X[10], h.X[11])
	case SBIExtHSM:
		errCode, val = h.Machine.handleSBIHSM(fid, h.X[10], h.X[11], h.X[12])
	case SBIExtSRST:
		h.Machine.RequestStop()
		errCode = SBISuccess
	default:
		errCode = SBIErrNotSupported
	}

	h.X[10] = uint64(errCode)
	h.X[11] = val
	return nil
}

func (h *Hart) handleSBIBase(fid uint64) (int64, uint64) {
	switch fid {
	case SBIBaseGetSpecVersion:
		return SBISuccess, 0x2 << 24
	case SBIBaseGetImplID:
		return SBISuccess, 0
	case SBIBaseGetImplVersion:
		return SBISuccess, 1
	case SBIBaseProbeExtension:
		return SBISuccess, 1
	case SBIBaseGetMvendorID, SBIBaseGetMarchID, SBIBaseGetMimplID:
		return SBISuccess, 0
	default:
		return SBIErrNotSupported, 0
	}
}

func (h *Hart) handleSBITimer(fid uint64) (int64, uint64) {
	switch fid {
	case SBITimerSetTimer:
		h.Mip &^= MipSTIP
		if h.Machine.InterruptController != nil {
			h.Machine.InterruptController.SetTimer(h.ID, h.X[10])
		}
		return SBISuccess, 0
	default:
		return SBIErrNotSupported, 0
	}
}

// sbiSendIPI sets the supervisor-software-interrupt pending bit on every
// hart selected by the hart mask.
func (m *Machine) sbiSendIPI(hartMask, hartMaskBase uint64) int64 {
	for _, h := range m.Harts {
		if hartSelected(h.ID, hartMask, hartMaskBase) {
			h.Mip |= MipSSIP
		}
	}
	return SBISuccess
}

// sbiRemoteFence services RFENCE.I / SFENCE.VMA requests by routing a
// cross-hart request (§5) to each targeted hart. It does not wait for a
// target hart to apply the request.
func (m *Machine) sbiRemoteFence(fid, hartMask, hartMaskBase uint64) int64 {
	for _, h := range m.Harts {
		if !hartSelected(h.ID, hartMask, hartMaskBase) {
			continue
		}
		switch fid {
		case 0: // REMOTE_FENCE_I
			m.sendRequest(h.ID, reqFenceI{})
		default: // REMOTE_SFENCE_VMA / VMA_ASID and friends
			m.sendRequest(h.ID, reqFence{})
		}
	}
	return SBISuccess
}

func (m *Machine) handleSBIHSM(fid, hartID, startAddr, opaque uint64) (int64, uint64) {
	target := m.Hart(int(hartID))
	if target == nil {
		return SBIErrInvalidParam, 0
	}
	switch fid {
	case SBIHSMHartStart:
		if target.State == Running {
			return SBIErrAlreadyAvail, 0
		}
		m.sendRequest(target.ID, reqHartStart{pc: startAddr, a1: opaque})
		return SBISuccess, 0
	case SBIHSMHartStop:
		m.sendRequest(target.ID, reqStop{})
		return SBISuccess, 0
	case SBIHSMHartStatus:
		if target.State == Stopped {
			return SBISuccess, HSMStopped
		}
		return SBISuccess, HSMStarted
	default:
		return SBIErrNotSupported, 0
	}
}

func hartSelected(hartID int, hartMask, hartMaskBase uint64) bool {
	if hartMaskBase == ^uint64(0) {
		return true
	}
	if uint64(hartID) < hartMaskBase {
		return false
	}
	bit := uint64(hartID) - hartMaskBase
	if bit >= 64 {
		return false
	}
	return hartMask&(1<<bit) != 0
}
