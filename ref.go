// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"runtime"
	"sync"

	"moonwake.dev/lua/internal/lua54"
)

// A Ref is a counted reference to a value living in the interpreter's
// heap. The value is kept alive by a slot in an auxiliary registry
// table; the slot is freed when the last reference to it is released.
//
// A Ref belongs to the goroutine context that owns its [Runtime]. To
// hand a value to another goroutine, convert it to a [RegistryKey].
type Ref struct {
	rt       *Runtime
	slot     int
	released bool
	cleanup  runtime.Cleanup
}

// slotRelease carries what a leaked handle's cleanup needs without
// referencing the handle itself.
type slotRelease struct {
	pool *releasePool
	slot int
}

func releaseLeakedSlot(s slotRelease) {
	s.pool.enqueue(s.slot)
}

// newRef wraps slot in a fresh handle. The slot's count must already
// account for it.
func (r *Runtime) newRef(slot int) *Ref {
	ref := &Ref{rt: r, slot: slot}
	ref.cleanup = runtime.AddCleanup(ref, releaseLeakedSlot, slotRelease{r.pending, slot})
	return ref
}

// allocSlot reserves a slot number with a count of one.
func (r *Runtime) allocSlot() int {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	var slot int
	if n := len(r.freeSlots); n > 0 {
		slot = r.freeSlots[n-1]
		r.freeSlots = r.freeSlots[:n-1]
	} else {
		slot = r.nextSlot
		r.nextSlot++
	}
	r.refCounts[slot] = 1
	return slot
}

// storeSlot pins the stack value at idx into a fresh reference slot
// and returns the slot number. The value stays on the stack. The
// caller is responsible for two slots of stack headroom.
func (r *Runtime) storeSlot(l *lua54.State, idx int) int {
	slot := r.allocSlot()
	idx = l.AbsIndex(idx)
	l.RawField(lua54.RegistryIndex, refsKey)
	l.PushValue(idx)
	l.RawSetIndex(-2, int64(slot))
	l.Pop(1)
	return slot
}

// refAt pins the stack value at idx and returns a handle for it. The
// value stays on the stack.
func (r *Runtime) refAt(l *lua54.State, idx int) *Ref {
	return r.newRef(r.storeSlot(l, idx))
}

// Clone returns a new reference to the same interpreter value. It
// never enters the interpreter and cannot fail.
func (ref *Ref) Clone() *Ref {
	if ref.released {
		panic("lua: Clone of released Ref")
	}
	r := ref.rt
	r.refMu.Lock()
	r.refCounts[ref.slot]++
	r.refMu.Unlock()
	return r.newRef(ref.slot)
}

// Release drops this reference. When the last reference to a slot is
// released the slot is freed: immediately if no resume cycle is in
// flight, otherwise deferred until the next interpreter entry. Release
// is idempotent.
//
// Release must be called from the goroutine context that owns the
// runtime; see [RegistryKey] for cross-goroutine handoff. References
// that are never released are reclaimed when garbage collection
// notices the handle is unreachable.
func (ref *Ref) Release() {
	if ref.released {
		return
	}
	ref.released = true
	ref.cleanup.Stop()
	r := ref.rt
	if r.resumeMu.TryLock() {
		r.releaseSlot(ref.slot)
		r.resumeMu.Unlock()
	} else {
		r.pending.enqueue(ref.slot)
	}
}

// Equal reports whether both handles refer to the same interpreter
// value. Equality is identity of the referenced values, as by the
// interpreter's raw equality; no metamethods are consulted.
func (ref *Ref) Equal(other *Ref) bool {
	if ref == nil || other == nil {
		return ref == other
	}
	if ref.rt != other.rt || ref.released || other.released {
		return false
	}
	r := ref.rt
	if err := r.enter(); err != nil {
		return false
	}
	if ref.slot == other.slot {
		return true
	}
	l := &r.state
	l.SyncTop()
	if !l.CheckStack(3) {
		return false
	}
	l.RawField(lua54.RegistryIndex, refsKey)
	l.RawIndex(-1, int64(ref.slot))
	l.RawIndex(-2, int64(other.slot))
	eq := l.RawEqual(-1, -2)
	l.Pop(3)
	return eq
}

// releaseSlot drops one count for slot, freeing the registry slot when
// the count reaches zero. The caller must have exclusive interpreter
// access.
func (r *Runtime) releaseSlot(slot int) {
	r.refMu.Lock()
	n := r.refCounts[slot] - 1
	if n > 0 {
		r.refCounts[slot] = n
		r.refMu.Unlock()
		return
	}
	delete(r.refCounts, slot)
	r.refMu.Unlock()

	if r.isClosed() {
		return
	}
	l := &r.state
	l.SyncTop()
	if !l.CheckStack(2) {
		return
	}
	l.RawField(lua54.RegistryIndex, refsKey)
	l.PushNil()
	l.RawSetIndex(-2, int64(slot))
	l.Pop(1)

	r.refMu.Lock()
	r.freeSlots = append(r.freeSlots, slot)
	r.refMu.Unlock()
}

// drainPending frees slots whose release was requested away from the
// interpreter's context. The caller must have exclusive interpreter
// access.
func (r *Runtime) drainPending() {
	for _, slot := range r.pending.take() {
		r.releaseSlot(slot)
	}
}

// releasePool collects registry slots whose release could not enter
// the interpreter at the time it was requested: releases from foreign
// goroutines, garbage-collected handles, and releases racing a resume.
type releasePool struct {
	mu     sync.Mutex
	slots  []int
	closed bool
}

func (p *releasePool) enqueue(slot int) {
	p.mu.Lock()
	if !p.closed {
		p.slots = append(p.slots, slot)
	}
	p.mu.Unlock()
}

func (p *releasePool) take() []int {
	p.mu.Lock()
	slots := p.slots
	p.slots = nil
	p.mu.Unlock()
	return slots
}

func (p *releasePool) close() {
	p.mu.Lock()
	p.closed = true
	p.slots = nil
	p.mu.Unlock()
}
