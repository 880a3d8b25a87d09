package runtime

import (
	"runtime/debug"

	"fiberhost/host"
	"fiberhost/trace"
	"fiberhost/types"
)

// Loop drives frame = frame.Fn(frame) until p is nil or the fiber parks.
// It must only ever run on rt's serialized goroutine; inLoop
// guards against accidental reentrancy (e.g. a bug that calls Loop
// directly from within a label function instead of returning the next
// frame).
func Loop(rt *Runtime, p *types.Frame) {
	if rt.inLoop.Swap(true) {
		panic(types.AssertionError("loop re-entered while already running"))
	}
	defer rt.inLoop.Store(false)

	for p != nil {
		if rt.IsDead() {
			return
		}

		curr := p
		curr.OverwrittenPC = false
		trace.Event("loop", "dispatch depth=%d pc=%d", curr.Depth, curr.PC)

		next, err := dispatch(curr)
		rt.flushDisplay()

		if err != nil {
			trace.Event("loop", "fault depth=%d: %v", curr.Depth, err)
			rt.handleLoopError(curr, err)
			return
		}

		if curr.OverwrittenPC {
			p = curr
		} else {
			p = next
		}
	}
}

// dispatch invokes curr.Fn(curr), converting a panic raised by the
// compiled program (or by a native extension it called into) into an
// error the loop boundary can catch. debug.Stack() is always captured at
// the panic site, even when the recovered value is already a
// *types.RuntimeError (e.g. userError(msg)), so the exception context the
// host receives never loses its stack trace.
func dispatch(curr *types.Frame) (next *types.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			if rerr, ok := r.(*types.RuntimeError); ok {
				if rerr.Stack == "" {
					rerr.Stack = stack
				}
				err = rerr
				return
			}
			err = types.Uncaught(r, stack)
		}
	}()
	return curr.Fn(curr), nil
}

// handleLoopError is the failure path: if an errorHandler is
// installed it receives the error and the loop exits; otherwise a
// breakpoint-shaped message decorated with the exception is posted and
// postError, if present, is invoked. The fiber that faulted does not
// resume; the runtime itself stays alive for debugger traffic.
func (rt *Runtime) handleLoopError(curr *types.Frame, err error) {
	if rt.ErrorHandler != nil {
		rt.ErrorHandler(err)
		return
	}

	msg := host.BreakpointMessage{
		BreakpointID:     curr.LastBrkID,
		ExceptionMessage: err.Error(),
	}
	if rerr, ok := err.(*types.RuntimeError); ok {
		msg.ExceptionStack = rerr.Stack
	}
	if rt.Bridge != nil {
		_ = rt.Bridge.Send(msg)
	}
	if rt.PostError != nil {
		rt.PostError(err)
	}
}
