package codeheap

import "fmt"

// PatchEncoder produces the host bytes for a direct jump/call to target,
// written at a patch site whose final address is patchAddr. Each per-arch
// JIT backend supplies one (its direct-branch encoder), since the
// encoding of "jump to this absolute host address" differs across amd64,
// arm64, i386, arm and riscv64.
type PatchEncoder func(patchAddr, target uintptr) []byte

// Linker resolves direct links between compiled blocks: a block that ends
// by branching to a guest PC records a LinkSite rather than always
// returning to the tracer's dispatch loop, and the dispatch loop only pays
// that cost once per target instead of once per invocation (§5 "direct
// linking").
type Linker struct {
	heap    *Heap
	cache   *Cache
	encoder PatchEncoder
}

// NewLinker ties a Heap and Cache together behind a single arch-specific
// patch encoder.
func NewLinker(heap *Heap, cache *Cache, encoder PatchEncoder) *Linker {
	return &Linker{heap: heap, cache: cache, encoder: encoder}
}

// LinkOrDefer resolves site's target immediately if its block is already
// compiled, otherwise records it to be patched when that block arrives.
// The heap must be writable (Reopen) before a patch is applied.
func (l *Linker) LinkOrDefer(site LinkSite) error {
	b, ready := l.cache.AwaitLink(site.TargetPC, site)
	if !ready {
		return nil
	}
	return l.apply(site, b)
}

// Publish registers a freshly compiled block and resolves every link site
// that was waiting on it.
func (l *Linker) Publish(b *Block) error {
	ready := l.cache.Insert(b)
	for _, site := range ready {
		if err := l.apply(site, b); err != nil {
			return err
		}
	}
	return nil
}

func (l *Linker) apply(site LinkSite, target *Block) error {
	if l.encoder == nil {
		return fmt.Errorf("codeheap: no patch encoder configured")
	}
	code := l.encoder(site.PatchAddr, target.HostAddr)
	return l.heap.PatchAt(site.PatchAddr, code)
}
