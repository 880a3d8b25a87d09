package debugger

import (
	"strconv"

	"github.com/google/uuid"

	"fiberhost/types"
)

// Snapshot is the "Heap snapshot": while paused at a breakpoint, a
// mapping from variable-reference handles to values, used by the
// variables request. It is rebuilt fresh on every breakpoint pause (trace
// pauses do not build one) and discarded on resume — there is no persistence across pauses.
//
// generation is a fresh id stamped on every rebuild so a variables
// request can be correlated against the pause it was issued against: a
// host that raced a slow variables round-trip against a step that
// replaced the snapshot underneath it gets an empty reply instead of a
// stale one.
type Snapshot struct {
	byRef      map[int]namedValue
	next       int
	generation string
}

type namedValue struct {
	name string
	val  types.Value
}

func newSnapshot() *Snapshot {
	return &Snapshot{byRef: make(map[int]namedValue), generation: uuid.NewString()}
}

// add registers name/val under a fresh reference handle and returns it.
func (h *Snapshot) add(name string, val types.Value) int {
	h.next++
	h.byRef[h.next] = namedValue{name: name, val: val}
	return h.next
}

// lookup resolves a variables-reference handle, available only while the
// snapshot it came from is still the live dbgHeap.
func (h *Snapshot) lookup(ref int) (string, types.Value, bool) {
	if h == nil {
		return "", nil, false
	}
	nv, ok := h.byRef[ref]
	return nv.name, nv.val, ok
}

// frameLocals builds the named-value set a breakpoint snapshot exposes
// for one frame: its scratch register, captures, and lambda arguments.
func frameLocals(s *types.Frame) map[string]types.Value {
	out := make(map[string]types.Value)
	if s.R0 != nil {
		out["r0"] = s.R0
	}
	for i, v := range s.Caps {
		out[capName(i)] = v
	}
	for i, v := range s.LambdaArgs {
		out[argName(i)] = v
	}
	return out
}

func capName(i int) string { return "cap" + strconv.Itoa(i) }
func argName(i int) string { return "arg" + strconv.Itoa(i) }
