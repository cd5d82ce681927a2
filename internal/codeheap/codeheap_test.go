package codeheap

import "testing"

func TestHeapEmitAndSeal(t *testing.T) {
	h, err := NewHeap(4096)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Close()

	code := []byte{0xc3} // ret
	addr, err := h.Emit(code)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if addr == 0 {
		t.Fatal("Emit returned a zero address")
	}

	if err := h.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := h.Emit(code); err == nil {
		t.Fatal("Emit after Seal should fail")
	}

	if err := h.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if _, err := h.Emit(code); err != nil {
		t.Fatalf("Emit after Reopen: %v", err)
	}
}

func TestHeapExhaustion(t *testing.T) {
	h, err := NewHeap(1) // rounds up to one page
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Close()

	big := make([]byte, h.Remaining()+1)
	if _, err := h.Emit(big); err == nil {
		t.Fatal("expected arena exhaustion error")
	}
}

func TestCacheInsertAndLookup(t *testing.T) {
	c := NewCache()
	b := &Block{GuestPC: 0x1000, HostAddr: 0xdead0000, HostLen: 16, GuestLen: 4}
	c.Insert(b)

	got, ok := c.Lookup(0x1000)
	if !ok || got.HostAddr != 0xdead0000 {
		t.Fatalf("Lookup = %+v, %v", got, ok)
	}
	if _, ok := c.Lookup(0x2000); ok {
		t.Fatal("Lookup of unregistered PC should miss")
	}
}

func TestCacheInvalidateOverlap(t *testing.T) {
	c := NewCache()
	c.Insert(&Block{GuestPC: 0x1000, GuestLen: 8})
	c.Insert(&Block{GuestPC: 0x2000, GuestLen: 8})

	removed := c.Invalidate(0x1004, 4)
	if len(removed) != 1 || removed[0].GuestPC != 0x1000 {
		t.Fatalf("Invalidate removed %+v, want just the 0x1000 block", removed)
	}
	if _, ok := c.Lookup(0x1000); ok {
		t.Fatal("invalidated block should be gone")
	}
	if _, ok := c.Lookup(0x2000); !ok {
		t.Fatal("non-overlapping block should survive")
	}
}

func TestLinkerDeferredThenResolved(t *testing.T) {
	h, err := NewHeap(4096)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer h.Close()

	callSite, err := h.Emit(make([]byte, 8))
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	c := NewCache()
	var patchedTarget uintptr
	encoder := func(patchAddr, target uintptr) []byte {
		patchedTarget = target
		return make([]byte, 8)
	}
	l := NewLinker(h, c, encoder)

	if err := l.LinkOrDefer(LinkSite{TargetPC: 0x4000, PatchAddr: callSite}); err != nil {
		t.Fatalf("LinkOrDefer: %v", err)
	}
	if patchedTarget != 0 {
		t.Fatal("patch should not apply before the target block exists")
	}

	target := &Block{GuestPC: 0x4000, HostAddr: 0xcafe0000}
	if err := l.Publish(target); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if patchedTarget != 0xcafe0000 {
		t.Fatalf("patch target = %#x, want 0xcafe0000", patchedTarget)
	}
}
