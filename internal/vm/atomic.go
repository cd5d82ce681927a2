package vm

// execAMO executes the A-extension load-reserved/store-conditional and
// read-modify-write instructions. Misalignment is checked before any MMU
// translation or bus access: amoadd.w at a misaligned address raises a
// misaligned-store exception, never a load fault (§8 boundary case).
func (h *Hart) execAMO(insn uint32) error {
	f3 := funct3(insn)
	f5 := funct7(insn) >> 2

	vaddr := h.ReadReg(rs1(insn))
	rs2Val := h.ReadReg(rs2(insn))

	switch f3 {
	case 0b010:
		if vaddr&3 != 0 {
			return Exception(CauseStoreAddrMisaligned, vaddr)
		}
		return h.execAMO32(insn, vaddr, rs2Val, f5)
	case 0b011:
		if vaddr&7 != 0 {
			return Exception(CauseStoreAddrMisaligned, vaddr)
		}
		return h.execAMO64(insn, vaddr, rs2Val, f5)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
}

func (h *Hart) execAMO32(insn uint32, vaddr, rs2Val uint64, f5 uint32) error {
	rdReg := rd(insn)

	switch f5 {
	case 0b00010: // LR.W
		paddr, err := h.Translate(vaddr, AccessRead)
		if err != nil {
			return err
		}
		val, err := h.Machine.Bus.Read(paddr, Width32)
		if err != nil {
			return Exception(CauseLoadAccessFault, vaddr)
		}
		h.WriteReg(rdReg, uint64(int32(uint32(val))))
		h.Reservation = paddr
		h.ReservationWidth = Width32
		h.ReservationValid = true
		h.PC += 4
		return nil

	case 0b00011: // SC.W
		paddr, err := h.Translate(vaddr, AccessWrite)
		if err != nil {
			return err
		}
		if !h.ReservationValid || h.Reservation != paddr {
			h.WriteReg(rdReg, 1)
			h.PC += 4
			return nil
		}
		if err := h.Machine.Bus.Write(paddr, Width32, rs2Val&0xffffffff); err != nil {
			return Exception(CauseStoreAccessFault, vaddr)
		}
		h.WriteReg(rdReg, 0)
		h.ReservationValid = false
		h.PC += 4
		return nil

	default:
		paddr, err := h.Translate(vaddr, AccessWrite)
		if err != nil {
			return err
		}
		arg := uint32(rs2Val)
		var amoErr error
		old, err := h.Machine.Bus.AtomicRMW(paddr, Width32, func(old uint64) uint64 {
			oldVal := uint32(old)
			var newVal uint32
			switch f5 {
			case 0b00001:
				newVal = arg
			case 0b00000:
				newVal = oldVal + arg
			case 0b00100:
				newVal = oldVal ^ arg
			case 0b01100:
				newVal = oldVal & arg
			case 0b01000:
				newVal = oldVal | arg
			case 0b10000:
				if int32(oldVal) < int32(arg) {
					newVal = oldVal
				} else {
					newVal = arg
				}
			case 0b10100:
				if int32(oldVal) > int32(arg) {
					newVal = oldVal
				} else {
					newVal = arg
				}
			case 0b11000:
				if oldVal < arg {
					newVal = oldVal
				} else {
					newVal = arg
				}
			case 0b11100:
				if oldVal > arg {
					newVal = oldVal
				} else {
					newVal = arg
				}
			default:
				amoErr = Exception(CauseIllegalInsn, uint64(insn))
				return old
			}
			return uint64(newVal)
		})
		if amoErr != nil {
			return amoErr
		}
		if err != nil {
			return Exception(CauseStoreAccessFault, vaddr)
		}
		h.WriteReg(rdReg, uint64(int32(uint32(old))))
		h.PC += 4
		return nil
	}
}

func (h *Hart) execAMO64(insn uint32, vaddr, rs2Val uint64, f5 uint32) error {
	rdReg := rd(insn)

	switch f5 {
	case 0b00010: // LR.D
		paddr, err := h.Translate(vaddr, AccessRead)
		if err != nil {
			return err
		}
		val, err := h.Machine.Bus.Read(paddr, Width64)
		if err != nil {
			return Exception(CauseLoadAccessFault, vaddr)
		}
		h.WriteReg(rdReg, val)
		h.Reservation = paddr
		h.ReservationWidth = Width64
		h.ReservationValid = true
		h.PC += 4
		return nil

	case 0b00011: // SC.D
		paddr, err := h.Translate(vaddr, AccessWrite)
		if err != nil {
			return err
		}
		if !h.ReservationValid || h.Reservation != paddr {
			h.WriteReg(rdReg, 1)
			h.PC += 4
			return nil
		}
		if err := h.Machine.Bus.Write(paddr, Width64, rs2Val); err != nil {
			return Exception(CauseStoreAccessFault, vaddr)
		}
		h.WriteReg(rdReg, 0)
		h.ReservationValid = false
		h.PC += 4
		return nil

	default:
		paddr, err := h.Translate(vaddr, AccessWrite)
		if err != nil {
			return err
		}
		var amoErr error
		old, err := h.Machine.Bus.AtomicRMW(paddr, Width64, func(oldVal uint64) uint64 {
			var newVal uint64
			switch f5 {
			case 0b00001:
				newVal = rs2Val
			case 0b00000:
				newVal = oldVal + rs2Val
			case 0b00100:
				newVal = oldVal ^ rs2Val
			case 0b01100:
				newVal = oldVal & rs2Val
			case 0b01000:
				newVal = oldVal | rs2Val
			case 0b10000:
				if int64(oldVal) < int64(rs2Val) {
					newVal = oldVal
				} else {
					newVal = rs2Val
				}
			case 0b10100:
				if int64(oldVal) > int64(rs2Val) {
					newVal = oldVal
				} else {
					newVal = rs2Val
				}
			case 0b11000:
				if oldVal < rs2Val {
					newVal = oldVal
				} else {
					newVal = rs2Val
				}
			case 0b11100:
				if oldVal > rs2Val {
					newVal = oldVal
				} else {
					newVal = rs2Val
				}
			default:
				amoErr = Exception(CauseIllegalInsn, uint64(insn))
				return oldVal
			}
			return newVal
		})
		if amoErr != nil {
			return amoErr
		}
		if err != nil {
			return Exception(CauseStoreAccessFault, vaddr)
		}
		h.WriteReg(rdReg, old)
		h.PC += 4
		return nil
	}
}
