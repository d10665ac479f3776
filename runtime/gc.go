package runtime

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Heap: arena of GC-managed object slots
// ---------------------------------------------------------------------------

// Object is implemented by every heap-resident type. Trace must invoke mark
// for each handle the object holds, so the collector can walk the object
// graph without knowing concrete types.
type Object interface {
	Trace(mark func(Handle))
}

// Finalizer is optionally implemented by heap objects that need teardown.
// Finalize runs during the sweep phase, immediately before the slot is
// reclaimed; it is the only context in which dereferencing handles during a
// sweep is permitted.
type Finalizer interface {
	Finalize(h *Heap)
}

// Handle is a non-owning reference to a heap slot. Handles are copyable and
// comparable; two handles are identical iff they name the same slot at the
// same generation. A handle never frees memory - only a sweep does.
type Handle struct {
	slot uint32
	gen  uint32
}

// pack encodes the handle into an int64 for storage inside a Variant.
func (h Handle) pack() int64 {
	return int64(uint64(h.slot)<<32 | uint64(h.gen))
}

func unpackHandle(n int64) Handle {
	return Handle{slot: uint32(uint64(n) >> 32), gen: uint32(uint64(n))}
}

// PtrEq reports whether two handles name the same underlying slot. This is
// reference identity, distinct from value equality, and is the fallback for
// equality of non-primitive objects.
func PtrEq(a, b Handle) bool {
	return a == b
}

type heapSlot struct {
	obj    Object
	gen    uint32
	marked bool
	live   bool
}

// Heap owns every GC slot. It is an explicitly passed allocator: allocation
// and collection require the caller to hold the Heap, and no two collection
// cycles or allocations may interleave on the same Heap.
//
// Not safe for concurrent use.
type Heap struct {
	id    uuid.UUID
	slots []heapSlot
	free  []uint32

	// deref gate: while sweeping, Get fails fast unless called from a
	// finalizer the sweep itself invoked.
	sweeping    bool
	inFinalizer bool

	liveCount  int
	sweepCount uint64
	lastStats  *HeapStats

	log commonlog.Logger
}

// HeapStats holds statistics from a single collection cycle.
type HeapStats struct {
	HeapID        uuid.UUID
	Live          int
	Freed         int
	Marked        int
	SweepDuration time.Duration
	Timestamp     time.Time
}

// NewHeap creates an empty heap with a fresh identity.
func NewHeap() *Heap {
	return &Heap{
		id:  uuid.New(),
		log: commonlog.GetLogger("sphinx.gc"),
	}
}

// ID returns the heap's identity, used to correlate stats and log lines.
func (h *Heap) ID() uuid.UUID {
	return h.id
}

// Alloc places obj in a heap slot and returns a handle to it. This is the
// only way to obtain a handle; there is no handle to stack data.
func (h *Heap) Alloc(obj Object) Handle {
	if obj == nil {
		panic("Heap.Alloc: nil object")
	}
	h.liveCount++

	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		slot := &h.slots[idx]
		slot.obj = obj
		slot.live = true
		slot.marked = false
		return Handle{slot: idx, gen: slot.gen}
	}

	idx := uint32(len(h.slots))
	h.slots = append(h.slots, heapSlot{obj: obj, live: true})
	return Handle{slot: idx, gen: 0}
}

// derefSafe reports whether dereferencing handles is currently permitted.
func (h *Heap) derefSafe() bool {
	return !h.sweeping || h.inFinalizer
}

// Get dereferences a handle. It panics if called mid-sweep (outside a
// finalizer) or if the handle is stale - both indicate collector misuse,
// not recoverable conditions.
func (h *Heap) Get(hdl Handle) Object {
	if !h.derefSafe() {
		panic("Heap.Get: deref during sweep")
	}
	if !h.Valid(hdl) {
		panic(fmt.Sprintf("Heap.Get: stale handle %d.%d", hdl.slot, hdl.gen))
	}
	return h.slots[hdl.slot].obj
}

// Valid reports whether hdl still names a live slot at its generation.
func (h *Heap) Valid(hdl Handle) bool {
	if int(hdl.slot) >= len(h.slots) {
		return false
	}
	slot := &h.slots[hdl.slot]
	return slot.live && slot.gen == hdl.gen
}

// Live returns the number of live objects.
func (h *Heap) Live() int {
	return h.liveCount
}

// SweepCount returns the total number of collection cycles performed.
func (h *Heap) SweepCount() uint64 {
	return h.sweepCount
}

// LastStats returns statistics from the most recent collection, or nil if
// no collection has run yet.
func (h *Heap) LastStats() *HeapStats {
	return h.lastStats
}

// ---------------------------------------------------------------------------
// Collection: trace then sweep
// ---------------------------------------------------------------------------

// Collect runs one full mark/sweep cycle. Everything reachable from roots
// survives; unmarked slots are finalized and reclaimed.
func (h *Heap) Collect(roots ...Handle) *HeapStats {
	start := time.Now()

	marked := h.markTrace(roots)
	freed := h.sweep()

	stats := &HeapStats{
		HeapID:        h.id,
		Live:          h.liveCount,
		Freed:         freed,
		Marked:        marked,
		SweepDuration: time.Since(start),
		Timestamp:     start,
	}
	h.sweepCount++
	h.lastStats = stats

	h.log.Debugf("heap %s: collected %d, %d live (%s)", h.id, freed, h.liveCount, stats.SweepDuration)
	return stats
}

// markTrace marks every slot reachable from roots using an iterative
// worklist. Returns the number of slots marked.
func (h *Heap) markTrace(roots []Handle) int {
	worklist := make([]Handle, 0, len(roots))
	worklist = append(worklist, roots...)

	marked := 0
	for len(worklist) > 0 {
		hdl := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if !h.Valid(hdl) {
			continue
		}
		slot := &h.slots[hdl.slot]
		if slot.marked {
			continue
		}
		slot.marked = true
		marked++

		slot.obj.Trace(func(ref Handle) {
			worklist = append(worklist, ref)
		})
	}
	return marked
}

// sweep frees every live unmarked slot and clears marks for the next cycle.
// Finalizers run here, with the deref gate opened only for their duration.
func (h *Heap) sweep() int {
	h.sweeping = true
	defer func() { h.sweeping = false }()

	freed := 0
	for i := range h.slots {
		slot := &h.slots[i]
		if !slot.live {
			continue
		}
		if slot.marked {
			slot.marked = false
			continue
		}

		if fin, ok := slot.obj.(Finalizer); ok {
			h.inFinalizer = true
			fin.Finalize(h)
			h.inFinalizer = false
		}

		slot.obj = nil
		slot.live = false
		slot.gen++
		h.free = append(h.free, uint32(i))
		h.liveCount--
		freed++
	}
	return freed
}
