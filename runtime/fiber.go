package runtime

import "fiberhost/types"

// Action is a closure bound to a label function plus its captures — what
// runFiberAsync dispatches as a fresh fiber. It mirrors the shape of a
// types.FnWrapper without going through the resume protocol, since a
// fiber spawn starts a new, independent frame chain rather than
// resuming a parked one. Ref is optional: when the action value is
// itself heap-allocated and refcounted, runFiberAsync balances an
// increment around the spawn against a decrement once the action begins
// running, so a fiber queued for its next tick still holds a reference.
type Action struct {
	Fn   types.FrameFunc
	Caps []types.Value
	Ref  types.RefObject
}

// RunFiberAsync starts action as an independent fiber: it increments the
// action's refcount (if it carries one), binds this runtime as current,
// installs a fresh sentinel via SetupTop, dispatches the action with up
// to three arguments, and decrements the refcount once the action begins
// running. It returns a channel that receives the fiber's final
// return value exactly once, when the sentinel fires.
func (rt *Runtime) RunFiberAsync(action *Action, args ...types.Value) <-chan types.Value {
	if len(args) > 3 {
		args = args[:3]
	}
	if action.Ref != nil {
		action.Ref.Retain()
	}

	result := make(chan types.Value, 1)

	rt.scheduleNextTick(func() {
		if rt.IsDead() {
			close(result)
			return
		}

		sentinel := SetupTop(func(v types.Value) {
			result <- v
			close(result)
		})

		entry, err := ActionCall(sentinel, action.Fn, nil)
		if action.Ref != nil {
			action.Ref.Release()
		}
		if err != nil {
			rt.handleLoopError(sentinel, err)
			close(result)
			return
		}
		entry.Caps = action.Caps
		entry.LambdaArgs = args

		Loop(rt, entry)
	})

	return result
}
