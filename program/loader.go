// Package program is the code-loading step: taking a program blob and
// extracting the entry label and refCounting flag. Evaluating the blob
// itself (parsing and compiling the program that produced the label
// functions) is out of scope; this package only extracts the handful of
// top-level ABI symbols the runtime consumes.
//
// Grounded on a two-phase database-loader shape: parse a blob, bind the
// small set of top-level symbols the rest of the system depends on.
package program

import "fiberhost/types"

// Blob is the already-evaluated result of running the host's program
// compiler/evaluator over the wire format — the runtime never parses
// program source itself; code-loading is a bounded collaborator this
// package stands in for.
type Blob struct {
	EntryPoint     types.FrameFunc
	RefCounting    bool
	NumBreakpoints int
}

// Binding is what topCall actually needs.
type Binding struct {
	EntryPoint     types.FrameFunc
	RefCounting    bool
	NumBreakpoints int
}

// Load extracts entryPoint, refCounting, and the breakpoints sizing from
// blob, failing if the blob did not bind an entry point — the one ABI
// requirement the rest of the system cannot proceed without.
func Load(blob Blob) (*Binding, error) {
	if blob.EntryPoint == nil {
		return nil, types.AssertionError("program: blob did not bind entryPoint")
	}
	return &Binding{
		EntryPoint:     blob.EntryPoint,
		RefCounting:    blob.RefCounting,
		NumBreakpoints: blob.NumBreakpoints,
	}, nil
}
