// Package types holds the value model and error kinds shared by every
// runtime package: the label-function ABI traffics only in these types.
package types

// Value is the interface every register (r0, retval, lambdaArgs, caps)
// traffics in. The compiled program supplies its own concrete kinds; the
// runtime only ever stores and forwards them.
type Value interface {
	// TypeName identifies the concrete kind for debugger display and trace
	// output. It is not used for dispatch inside the runtime itself.
	TypeName() string
	String() string
}

// RefObject is a heap value under refcount discipline. The
// runtime never decides when to collect one; it only tracks the live set
// when refcount debugging is enabled and enforces the inc/dec balance at
// the two points that own it: the event queue's handler registry and
// fiber spawn.
type RefObject interface {
	Value
	Retain()
	Release() int32 // returns the refcount after release
	RefCount() int32
}

// FnWrapper is a request to tail-call a function-like value, returned by a
// native extension through the resume protocol instead of a plain value.
// The resume mechanism builds the child frame itself so that
// frame-chain invariants (depth, parent linkage) are preserved regardless
// of what the extension does internally.
type FnWrapper struct {
	Fn     FrameFunc
	Caps   []Value
	Args   []Value
	Object RefObject // non-nil if the wrapped function is itself a RefObject
}

func (FnWrapper) TypeName() string { return "FnWrapper" }
func (FnWrapper) String() string   { return "<function>" }

// FrameFunc is a label function: the unit of compiled code for one basic
// block. It consumes a frame, advances it (mutating pc or returning a
// child/parent), and returns the next frame to run, or nil to terminate
// the fiber.
type FrameFunc func(s *Frame) *Frame

// Nil is the canonical "no value" — distinct from a missing Value (nil
// interface) so label functions can deposit it into retval without a
// type assertion on the receiving end.
var Nil Value = nilValue{}

type nilValue struct{}

func (nilValue) TypeName() string { return "nil" }
func (nilValue) String() string   { return "nil" }
