package runtime

import (
	"time"

	"github.com/google/uuid"

	"fiberhost/host"
	"fiberhost/types"
)

// SetupTopCore fabricates a sentinel frame whose Fn invokes cb(frame.RetVal)
// and returns nil, terminating the loop cleanly.
func SetupTopCore(cb func(types.Value)) *types.Frame {
	s := types.NewSentinel()
	s.Fn = func(f *types.Frame) *types.Frame {
		if cb != nil {
			cb(f.RetVal)
		}
		return nil
	}
	return s
}

// SetupTop is the public entry point runFiberAsync uses to produce a
// fresh sentinel for an independently spawned fiber.
func SetupTop(cb func(types.Value)) *types.Frame {
	return SetupTopCore(cb)
}

// TopCall asserts a board is bound and the runtime is not already
// running, marks it running (posting a "running" status), builds the
// sentinel and entry frames, and enters Loop. cb receives the
// fiber's final return value. An empty runtimeID is replaced with a
// freshly generated one, the same way a host's RunMessage.ID is expected
// to arrive pre-populated but is filled in here for callers (like the
// dev harness) that have no correlation id of their own to supply.
//
// TopCall is dispatched through the runtime's serialized command queue
// and blocks the caller until the entry fiber parks or completes, giving
// the embedding host a synchronous call boundary even though everything
// downstream — resumes, yields, debugger pauses — continues
// asynchronously on the same serialized goroutine.
func (rt *Runtime) TopCall(fn types.FrameFunc, cb func(types.Value), runtimeID string) error {
	if rt.IsDead() {
		return types.AssertionError("topCall: runtime is dead")
	}
	if rt.board == nil {
		return types.AssertionError("topCall: no board bound")
	}
	if rt.running.Load() {
		return types.AssertionError("topCall: runtime already running")
	}
	if runtimeID == "" {
		runtimeID = uuid.NewString()
	}

	rt.enqueueSync(func() {
		rt.running.Store(true)
		rt.startedAt = time.Now()
		rt.runtimeID = runtimeID
		if rt.Bridge != nil {
			_ = rt.Bridge.Send(host.StatusMessage{RuntimeID: runtimeID, State: host.StateRunning})
		}

		sentinel := SetupTopCore(cb)
		entry, err := ActionCall(sentinel, fn, nil)
		if err != nil {
			rt.handleLoopError(sentinel, err)
			return
		}
		Loop(rt, entry)
	})
	return nil
}
