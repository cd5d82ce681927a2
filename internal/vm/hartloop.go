package vm

import "context"

// hartRequest is the closed set of cross-hart messages a Machine routes
// to a hart's request channel (§5): fence/fence.i TLB+code-heap
// invalidation, pause/resume, reset, stop, and HSM hart start.
type hartRequest interface{ isHartRequest() }

type reqFence struct{}
type reqFenceI struct{}
type reqPause struct{}
type reqResume struct{}
type reqReset struct{}
type reqStop struct{}
type reqHartStart struct {
	pc uint64
	a1 uint64
}

func (reqFence) isHartRequest()     {}
func (reqFenceI) isHartRequest()    {}
func (reqPause) isHartRequest()     {}
func (reqResume) isHartRequest()    {}
func (reqReset) isHartRequest()     {}
func (reqStop) isHartRequest()      {}
func (reqHartStart) isHartRequest() {}

// runHart drives hart h's fetch-decode-execute loop until the machine is
// stopped or ctx is cancelled, servicing cross-hart requests between
// instructions (§4.9, §5).
func (m *Machine) runHart(ctx context.Context, h *Hart) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			h.State = Stopped
			return nil
		default:
		}

		if h.State == Stopped {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.stop:
				return nil
			case req := <-m.requests[h.ID]:
				m.applyRequest(h, req)
			}
			continue
		}

		select {
		case req := <-m.requests[h.ID]:
			m.applyRequest(h, req)
			continue
		default:
		}

		if h.State == Paused {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.stop:
				return nil
			case req := <-m.requests[h.ID]:
				m.applyRequest(h, req)
			}
			continue
		}

		if err := m.step(h); err != nil {
			return err
		}
	}
}

func (m *Machine) applyRequest(h *Hart, req hartRequest) {
	switch r := req.(type) {
	case reqFence:
		h.TLB.FlushAll()
	case reqFenceI:
		h.TLB.FlushAll()
		m.Dirty.Clear()
		if m.JIT != nil {
			m.JIT.Invalidate(RAMBase, m.Config.RAMSize)
		}
	case reqPause:
		h.State = Paused
	case reqResume:
		if h.State == Paused {
			h.State = Running
		}
	case reqReset:
		h.Reset()
	case reqStop:
		h.State = Stopped
	case reqHartStart:
		h.Reset()
		h.PC = r.pc
		h.X[11] = r.a1
		h.State = Running
	}
}

// step executes a single instruction on h, handling interrupt delivery,
// WFI, fetch, compressed expansion, and trap/SBI entry exactly as the
// single-hart interpreter loop this was generalized from (§4.3, §4.9).
func (m *Machine) step(h *Hart) error {
	if !h.WFI {
		if pending, cause := h.CheckInterrupt(); pending {
			h.DeliverTrap(cause, 0)
			return nil
		}
	} else {
		if pending, _ := h.CheckInterrupt(); pending {
			h.WFI = false
		} else {
			return nil
		}
	}

	pc := h.PC

	// Block-cache dispatch: a hit runs a whole compiled trace in one host
	// call instead of one guest instruction at a time (§4.9 step 4).
	// Interrupts are only observed at block boundaries this way, the usual
	// tracing-JIT tradeoff of per-instruction precision for throughput.
	if m.JIT != nil {
		if block, ok := m.JIT.Lookup(pc); ok {
			nextPC, err := block.Enter(&h.X)
			if err == nil {
				h.PC = nextPC
				h.Cycle++
				h.Instret++
				return nil
			}
			// Fall through to the interpreter for this PC; a failed Enter
			// (host call trampoline unavailable, say) must never be fatal.
		}
	}

	paddr, err := h.Translate(pc, AccessExecute)
	if err != nil {
		if t, ok := AsTrap(err); ok {
			h.DeliverTrap(t.Cause, pc)
			return nil
		}
		return err
	}

	if m.JIT != nil {
		m.JIT.RecordExecution(pc, func(fpc uint64) (uint32, int, error) {
			return m.fetchForJIT(h, fpc)
		})
	}

	raw, compressed, err := h.Machine.Bus.Fetch(paddr)
	if err != nil {
		h.DeliverTrap(CauseInsnAccessFault, pc)
		return nil
	}

	insn := raw
	if compressed {
		expanded, err := h.ExpandCompressed(uint16(raw))
		if err != nil {
			if t, ok := AsTrap(err); ok {
				h.DeliverTrap(t.Cause, pc)
				return nil
			}
			return err
		}
		insn = expanded
	}

	oldPC := h.PC
	if err := h.Execute(insn); err != nil {
		if t, ok := AsTrap(err); ok {
			h.PC = oldPC
			if t.Cause == CauseEcallFromS {
				if err := h.HandleSBI(); err != nil {
					return err
				}
				h.PC += 4
				return nil
			}
			h.DeliverTrap(t.Cause, t.Tval)
			return nil
		}
		return err
	}

	if h.PC == oldPC {
		if compressed {
			h.PC += 2
		} else {
			h.PC += 4
		}
	}

	h.Cycle++
	h.Instret++
	return nil
}

// fetchForJIT translates and fetches the instruction at pc exactly like
// step's own fetch path, but returns errors to the caller instead of
// delivering a trap: it's used by the JIT frontend (internal/jit.BuildTrace)
// to decode instructions starting partway through a hart's execution, where
// a translation or access fault just means "stop tracing here, let the
// interpreter take it from there" rather than a real guest exception.
func (m *Machine) fetchForJIT(h *Hart, pc uint64) (uint32, int, error) {
	paddr, err := h.Translate(pc, AccessExecute)
	if err != nil {
		return 0, 0, err
	}
	raw, compressed, err := m.Bus.Fetch(paddr)
	if err != nil {
		return 0, 0, err
	}
	if compressed {
		expanded, err := h.ExpandCompressed(uint16(raw))
		if err != nil {
			return 0, 0, err
		}
		return expanded, 2, nil
	}
	return raw, 4, nil
}
