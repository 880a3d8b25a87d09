package runtime

// loopLock is a unique sentinel installed while the loop is quiescent but
// expected to resume shortly — during a scheduled yield tick or a
// no-pause tail dispatch. While held, resume callbacks
// that would otherwise re-enter the loop are deferred onto the wait
// list instead, and replayed in order once the lock is released.
type loopLock struct{}

// acquireLock installs a fresh lock, replacing any lock currently held.
// A continuation still holding the replaced lock then finds its
// releaseLock call to be a no-op.
func (rt *Runtime) acquireLock() *loopLock {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	l := &loopLock{}
	rt.lock = l
	return l
}

// releaseLock clears the lock if it is still the one passed in (a stale
// lock reference from a superseded continuation is a silent no-op) and
// flushes anything queued on the wait list while it was held.
func (rt *Runtime) releaseLock(l *loopLock) {
	rt.mu.Lock()
	if rt.lock != l {
		rt.mu.Unlock()
		return
	}
	rt.lock = nil
	pending := rt.waitList
	rt.waitList = nil
	rt.mu.Unlock()

	for _, thunk := range pending {
		thunk()
	}
}

// deferOnLock appends thunk to the wait list if a lock is held, returning
// true if it was deferred. If no lock is held, the caller should run
// thunk immediately instead.
func (rt *Runtime) deferOnLock(thunk func()) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.lock == nil {
		return false
	}
	rt.waitList = append(rt.waitList, thunk)
	return true
}
