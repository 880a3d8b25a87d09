package runtime

import (
	"time"

	"fiberhost/types"
)

// yieldBudget is the "at least 20 ms elapsed" cooperation budget.
const yieldBudget = 20 * time.Millisecond

// yieldDelay is the ~5 ms continuation delay after a yield fires.
const yieldDelay = 5 * time.Millisecond

// MaybeYield is called by every label function at designated safepoints.
// If at least yieldBudget has elapsed since the last yield, it snapshots
// pc/r0, installs a fresh loop lock, schedules a continuation ~5ms later
// that re-enters the loop at s, releases the lock, and flushes the wait
// list, then returns true so the caller exits to the host. Otherwise it
// returns false and the caller continues inline.
func (rt *Runtime) MaybeYield(s *types.Frame, pc int, r0 types.Value) bool {
	now := time.Now()

	rt.mu.Lock()
	if rt.lastYield.IsZero() {
		rt.lastYield = rt.startedAt
	}
	elapsed := now.Sub(rt.lastYield)
	if elapsed < yieldBudget {
		rt.mu.Unlock()
		return false
	}
	rt.lastYield = now
	rt.mu.Unlock()

	s.PC = pc
	s.R0 = r0

	lock := rt.acquireLock()
	timer := time.AfterFunc(yieldDelay, func() {
		rt.enqueue(func() {
			if rt.IsDead() {
				rt.releaseLock(lock)
				return
			}
			Loop(rt, s)
			rt.releaseLock(lock)
		})
	})
	rt.trackTimer(timer)

	return true
}
