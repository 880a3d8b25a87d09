package runtime

import "fiberhost/types"

// Leave deposits v into s.Parent.RetVal, invokes s.FinalCallback(v) if
// present, and returns s.Parent. This is the universal return
// primitive every label function's "return" site compiles to.
func Leave(s *types.Frame, v types.Value) *types.Frame {
	if s.Parent == nil {
		// A sentinel frame has no parent to deposit into; callers that
		// reach this have already mismodeled the chain, but we still
		// hand back nil rather than panic, since the sentinel's own Fn
		// is what actually terminates the loop.
		return nil
	}
	s.Parent.RetVal = v
	if s.FinalCallback != nil {
		s.FinalCallback(v)
	}
	return s.Parent
}

// ActionCall prepares a child frame of parent for dispatch: it resets pc
// to 0, sets depth to parent.Depth+1 enforcing the stack-overflow cap,
// and optionally binds cb as the child's final callback.
//
// Returns StackOverflowError if parent.Depth+1 would exceed
// types.MaxDepth — 1000 is permitted, 1001 is not.
func ActionCall(parent *types.Frame, fn types.FrameFunc, cb func(types.Value)) (*types.Frame, error) {
	depth := parent.Depth + 1
	if depth > types.MaxDepth {
		return nil, types.StackOverflowError()
	}
	return &types.Frame{
		Fn:            fn,
		PC:            0,
		Parent:        parent,
		Depth:         depth,
		FinalCallback: cb,
	}, nil
}
