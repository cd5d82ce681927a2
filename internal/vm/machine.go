package vm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// IRQController is the external interrupt source a device model drives;
// Machine only needs to raise/clear levels and arm the timer, everything
// else (PLIC priority, CLINT mtime) lives outside this core (§6).
type IRQController interface {
	Raise(irq int)
	Clear(irq int)
	SetTimer(hartID int, deadline uint64)
}

// Config holds the engine tunables loaded via internal/config (§4.7).
type Config struct {
	HartCount        int
	RAMSize          uint64
	ResetVector      uint64
	XLen             XLEN
	CodeHeapSize     int
	HotnessThresh    int
	EnableDirectLink bool
}

// Machine is the container for every hart sharing one guest physical
// address space: the bus, the dirty tracker, the interrupt controller
// handle, and the per-hart cross-request channels used for TLB
// shootdown, fence.i, pause/resume/reset, and HSM hart start/stop (§3,
// §5).
type Machine struct {
	Harts []*Hart
	Bus   *Bus
	Dirty *DirtyTracker

	ResetVector uint64
	Config      Config

	InterruptController IRQController
	Console              interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
	}
	Log func(string)

	// JIT is the optional tracing-JIT hook step() consults on every
	// instruction (§4.9); nil means pure interpretation, the same way a
	// nil InterruptController means no external interrupt source.
	JIT JITHook

	requests []chan hartRequest
	flushSem *semaphore.Weighted

	stop chan struct{}
}

// NewMachine builds a machine with cfg.HartCount harts sharing ramSize
// bytes of RAM starting at RAMBase.
func NewMachine(cfg Config) *Machine {
	if cfg.HartCount < 1 {
		cfg.HartCount = 1
	}
	ram := NewRAM(RAMBase, cfg.RAMSize)
	dirty := NewDirtyTracker(RAMBase, cfg.RAMSize)
	bus := NewBus(ram, dirty)

	m := &Machine{
		Bus:         bus,
		Dirty:       dirty,
		ResetVector: cfg.ResetVector,
		Config:      cfg,
		flushSem:    semaphore.NewWeighted(int64(cfg.HartCount)),
		stop:        make(chan struct{}),
	}

	bus.InvalidateHook = func(addr, length uint64) {
		if m.JIT != nil {
			m.JIT.Invalidate(addr, length)
		}
	}

	for i := 0; i < cfg.HartCount; i++ {
		m.Harts = append(m.Harts, NewHart(i, m, cfg.XLen))
		m.requests = append(m.requests, make(chan hartRequest, 4))
	}
	if cfg.HartCount > 1 {
		for i := 1; i < cfg.HartCount; i++ {
			m.Harts[i].State = Stopped
		}
	}
	return m
}

// RAMBase is the guest-physical address of the start of RAM.
const RAMBase uint64 = 0x8000_0000

// Hart returns the hart with the given id, or nil.
func (m *Machine) Hart(id int) *Hart {
	if id < 0 || id >= len(m.Harts) {
		return nil
	}
	return m.Harts[id]
}

// Run starts every hart as a goroutine (a stopped hart's loop waits for a
// request) under an errgroup and
// blocks until every hart loop exits (§5: harts are goroutines in an
// errgroup.Group so one hart's fatal error cancels the rest).
func (m *Machine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range m.Harts {
		h := h
		g.Go(func() error {
			return m.runHart(ctx, h)
		})
	}
	return g.Wait()
}

// RequestStop asks every hart loop to exit at its next safe point.
func (m *Machine) RequestStop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

func (m *Machine) sendRequest(hartID int, req hartRequest) {
	if hartID < 0 || hartID >= len(m.requests) {
		return
	}
	select {
	case m.requests[hartID] <- req:
	default:
	}
}

func (m *Machine) logf(format string, args ...any) {
	if m.Log != nil {
		m.Log(fmt.Sprintf(format, args...))
	}
}
