package runtime

import (
	"fiberhost/trace"
	"fiberhost/types"
)

// resumeHandle is the one-shot continuation setupResume installs and
// getResume consumes. taken and fired guard at-most-once use:
// getResume must be called exactly once per setupResume before the next
// setupResume call, and the produced resume function itself must fire at
// most once.
type resumeHandle struct {
	s     *types.Frame
	retPC int
	fired bool
	taken bool
}

// ResumeFunc is the one-shot callback a native extension invokes with its
// result (or a types.FnWrapper tail-call request) to re-enter the loop.
type ResumeFunc func(v types.Value)

// SetupResume stores a one-shot resume function in rt.currResume, to be
// retrieved via GetResume. Calling SetupResume again before the previous
// one was consumed is a protocol error (checkResumeConsumed).
func (rt *Runtime) SetupResume(s *types.Frame, retPC int) {
	rt.checkResumeConsumed()

	rt.mu.Lock()
	rt.currResume = &resumeHandle{s: s, retPC: retPC}
	rt.mu.Unlock()
}

// checkResumeConsumed panics with oops("getResume() not called") if the
// previous setupResume site never had its resume handle retrieved.
func (rt *Runtime) checkResumeConsumed() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.currResume != nil && !rt.currResume.taken {
		panic(types.Oops("getResume() not called"))
	}
}

// GetResume consumes rt.currResume and returns a ResumeFunc the caller
// (a native extension) may invoke at most once, later, with the value to
// deliver. Calling GetResume twice for the same setupResume site panics
// with oops("noresume").
func (rt *Runtime) GetResume() ResumeFunc {
	rt.mu.Lock()
	h := rt.currResume
	if h == nil || h.taken {
		rt.mu.Unlock()
		panic(types.Oops("noresume"))
	}
	h.taken = true
	rt.mu.Unlock()

	trace.Event("resume", "consumed retPC=%d depth=%d", h.retPC, h.s.Depth)
	return func(v types.Value) {
		rt.deliverResume(h, v)
	}
}

// deliverResume implements the resume function's contract:
//   - dead runtime: drop silently.
//   - loop lock held: defer as a wait-list thunk.
//   - v is a types.FnWrapper: tail-dispatch it under a fresh lock/nextTick
//     bounce.
//   - otherwise: deposit v, assert pc == retPC, and re-enter the loop at s.
//
// At-most-once is enforced by h.fired: a second invocation of the same
// ResumeFunc is a silent no-op, matching "subsequent invocations are
// silent no-ops".
func (rt *Runtime) deliverResume(h *resumeHandle, v types.Value) {
	rt.enqueue(func() {
		if rt.IsDead() {
			return
		}

		rt.mu.Lock()
		if h.fired {
			rt.mu.Unlock()
			return
		}
		h.fired = true
		rt.mu.Unlock()

		if rt.deferOnLock(func() { rt.applyResume(h, v) }) {
			return
		}
		rt.applyResume(h, v)
	})
}

func (rt *Runtime) applyResume(h *resumeHandle, v types.Value) {
	if wrapper, ok := v.(types.FnWrapper); ok {
		rt.tailDispatch(h.s, wrapper)
		return
	}

	h.s.RetVal = v
	if h.s.PC != h.retPC {
		// A spurious re-entry runs outside dispatch's recover wrapper, so
		// surface it through the loop's failure path rather than panicking
		// on the serialized goroutine.
		rt.handleLoopError(h.s, types.AssertionError("resume: spurious re-entry at unexpected pc"))
		return
	}
	Loop(rt, h.s)
}

// tailDispatch builds a child frame from an FnWrapper's captures/args
// (rather than letting the extension build one itself, preserving the
// frame-chain invariants — FnWrapper tail dispatch), installs a fresh
// loop lock covering the gap up to the next tick, then on that tick
// re-enters the loop and only afterward releases the lock (flushing the
// wait list). The lock prevents unbounded synchronous stack growth when
// the tail-called function completes without suspending: any resume that
// arrives before the scheduled tick fires is deferred instead of
// recursing into another loop() call.
func (rt *Runtime) tailDispatch(parent *types.Frame, wrapper types.FnWrapper) {
	lock := rt.acquireLock()

	child, err := ActionCall(parent, wrapper.Fn, nil)
	if err != nil {
		rt.releaseLock(lock)
		rt.handleLoopError(parent, err)
		return
	}
	child.Caps = wrapper.Caps
	child.LambdaArgs = wrapper.Args

	rt.enqueue(func() {
		Loop(rt, child)
		rt.releaseLock(lock)
	})
}

// OverwriteResume is called by a native extension that set up a resume
// but discovered it did not actually need to suspend. It discards
// rt.currResume, patches s.pc to retPC when retPC >= 0, and raises
// s.OverwrittenPC so the interpreter re-dispatches the current frame at
// the new pc instead of following the child-frame pointer.
func (rt *Runtime) OverwriteResume(s *types.Frame, retPC int) {
	rt.mu.Lock()
	rt.currResume = nil
	rt.mu.Unlock()

	if retPC >= 0 {
		s.PC = retPC
	}
	s.OverwrittenPC = true
}

// scheduleNextTick models the host timer facility's "next tick" primitive
// used by runFiberAsync: it enqueues fn as a future turn of the
// serialized command queue rather than calling it inline, so the
// caller's own stack unwinds first — the same ordering guarantee a real
// setTimeout(fn, 0) gives in a JS host.
func (rt *Runtime) scheduleNextTick(fn func()) {
	rt.enqueue(fn)
}

// ScheduleNextTick is scheduleNextTick's exported form, for collaborators
// outside this package — the event queue's drain kickoff, specifically —
// that also need to defer work to a future turn rather than run it
// inline within the caller's own call stack.
func (rt *Runtime) ScheduleNextTick(fn func()) {
	rt.scheduleNextTick(fn)
}
