package runtime

import "fiberhost/types"

// RegisterLiveObject hands obj a fresh, monotonically increasing id and,
// while refcount debugging is on, records it in the live-object table. It
// is a debug-only aid: the runtime enforces no collection policy and
// performs no cycle detection.
func (rt *Runtime) RegisterLiveObject(obj types.RefObject) int64 {
	rt.refMu.Lock()
	defer rt.refMu.Unlock()

	rt.nextRefID++
	id := rt.nextRefID
	if rt.refDebug.Load() {
		rt.refObjects[id] = obj
	}
	return id
}

// UnregisterLiveObject removes id from the live-object table. Unless
// keepAlive is set, obj's refcount must already be zero — violating that
// is an assertion failure, not a silent fixup.
func (rt *Runtime) UnregisterLiveObject(id int64, keepAlive bool) {
	rt.refMu.Lock()
	obj, ok := rt.refObjects[id]
	if ok {
		delete(rt.refObjects, id)
	}
	rt.refMu.Unlock()

	if ok && !keepAlive && obj.RefCount() != 0 {
		panic(types.AssertionError("unregisterLiveObject: nonzero refcount"))
	}
}

// LivePointer is one entry of a dumpLivePointers report.
type LivePointer struct {
	ID       int64
	RefCount int32
	Describe string
}

// DumpLivePointers enumerates the live-object table for leak diagnosis.
// Debug-only; it performs no collection.
func (rt *Runtime) DumpLivePointers() []LivePointer {
	rt.refMu.Lock()
	defer rt.refMu.Unlock()

	out := make([]LivePointer, 0, len(rt.refObjects))
	for id, obj := range rt.refObjects {
		out = append(out, LivePointer{ID: id, RefCount: obj.RefCount(), Describe: obj.String()})
	}
	return out
}
