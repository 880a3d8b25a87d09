// Package debugger implements the breakpoint/step/variables state
// machine and trace mode: a breakpoint set, step modes
// (into/over/out), variable inspection against a live heap snapshot, and
// trace mode — all driven by debugger messages from the host and by
// breakpoint()/trace() calls the compiled program's label functions make
// at source-mapped safepoints.
//
// Grounded on a toggleable, filtered, single-global-state message-posting
// shape for the trace half, and on a per-activation local-variable
// exposure shape for the "heap snapshot against a live call chain" shape
// `variables` resolves against.
package debugger

import (
	"sync"

	"fiberhost/host"
	"fiberhost/runtime"
	"fiberhost/trace"
	"fiberhost/types"
)

// dbgResumeHandle is the one-shot continuation a paused breakpoint
// installs, consumed exactly once by the next debugger command.
type dbgResumeHandle struct {
	s     *types.Frame
	retPC int
}

// Debugger holds all breakpoint, step-mode, and trace state for one
// runtime.
type Debugger struct {
	rt *runtime.Runtime

	mu           sync.Mutex
	breakpoints  []bool
	breakAlways  bool
	breakFrame   *types.Frame
	dbgResume    *dbgResumeHandle
	heap         *Snapshot
	tracePauseMs int
}

// New creates a Debugger bound to rt, sized for numBreakpoints ids
// (the ABI's setupDebugger(numBreakpoints) call).
func New(rt *runtime.Runtime, numBreakpoints int) *Debugger {
	return &Debugger{rt: rt, breakpoints: make([]bool, numBreakpoints)}
}

// ShouldBreak is the check compiled code performs at a mapped source
// location before calling Breakpoint: true if brkID is a configured
// breakpoint, or if breakAlways is set and IsBreakFrame(s) holds.
func (d *Debugger) ShouldBreak(s *types.Frame, brkID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if brkID >= 0 && brkID < len(d.breakpoints) && d.breakpoints[brkID] {
		return true
	}
	return d.breakAlways && d.isBreakFrameLocked(s)
}

// IsBreakFrame reports whether breakAlways should actually stop at s:
// true if no breakFrame is set; otherwise true if s is breakFrame itself
// or a descendant of it (breakFrame is found by walking s's own parent
// chain): the next breakpoint fires in the outer frame or its
// descendants, never in an unrelated fiber stepping concurrently.
func (d *Debugger) IsBreakFrame(s *types.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isBreakFrameLocked(s)
}

func (d *Debugger) isBreakFrameLocked(s *types.Frame) bool {
	if d.breakFrame == nil {
		return true
	}
	for f := s; f != nil; f = f.Parent {
		if f == d.breakFrame {
			return true
		}
	}
	return false
}

// Breakpoint unconditionally parks the fiber: it stores pc/r0, computes
// a breakpoint message and heap snapshot, posts the message, installs
// dbgResume, and returns nil to exit the loop. Compiled code calls
// this only after ShouldBreak returned true.
func (d *Debugger) Breakpoint(s *types.Frame, retPC, brkID int, r0 types.Value) *types.Frame {
	s.PC = retPC
	s.R0 = r0
	s.LastBrkID = brkID

	msg, snap := d.buildBreakpointMessage(s, brkID)

	d.mu.Lock()
	d.heap = snap
	d.dbgResume = &dbgResumeHandle{s: s, retPC: retPC}
	d.mu.Unlock()

	trace.Event("debugger", "pause brk=%d depth=%d pc=%d", brkID, s.Depth, retPC)

	if d.rt.Bridge != nil {
		_ = d.rt.Bridge.Send(msg)
	}
	return nil
}

// buildBreakpointMessage is getBreakpointMsg: it walks the frame chain
// from s to the sentinel, building a FrameInfo per activation and a
// fresh Snapshot whose references the variables command can resolve
// while this pause lasts.
func (d *Debugger) buildBreakpointMessage(s *types.Frame, brkID int) (host.BreakpointMessage, *Snapshot) {
	snap := newSnapshot()
	var frames []host.FrameInfo

	for f := s; f != nil; f = f.Parent {
		var locals []host.Variable
		for name, v := range frameLocals(f) {
			ref := snap.add(name, v)
			locals = append(locals, host.Variable{Name: name, Value: v.String(), VariablesReference: ref})
		}
		frames = append(frames, host.FrameInfo{PC: f.PC, Locals: locals})
	}

	return host.BreakpointMessage{BreakpointID: brkID, Frame: frames, Generation: snap.generation}, snap
}

// HandleCommand interprets one inbound debugger message.
func (d *Debugger) HandleCommand(msg host.DebuggerMessage) error {
	switch msg.Subtype {
	case host.SubtypeConfig:
		d.config(msg.SetBreakpoints)
		return nil
	case host.SubtypeTraceConfig:
		d.mu.Lock()
		d.tracePauseMs = msg.Interval
		d.mu.Unlock()
		return nil
	case host.SubtypePause:
		d.mu.Lock()
		d.breakAlways = true
		d.breakFrame = nil
		d.mu.Unlock()
		return nil
	case host.SubtypeVariables:
		reply := d.resolveVariables(msg)
		if d.rt.Bridge != nil {
			return d.rt.Bridge.Send(reply)
		}
		return nil
	case host.SubtypeResume, host.SubtypeStepOver, host.SubtypeStepInto, host.SubtypeStepOut:
		return d.resumeFromPause(msg.Subtype)
	default:
		return nil
	}
}

func (d *Debugger) config(ids []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.breakpoints {
		d.breakpoints[i] = false
	}
	for _, id := range ids {
		if id >= 0 && id < len(d.breakpoints) {
			d.breakpoints[id] = true
		}
	}
}

// resumeFromPause clears dbgResume's one-shot state and interprets the
// command:
//   - resume: clear breakAlways, resume.
//   - stepover: breakAlways=true, breakFrame=s.
//   - stepinto: breakAlways=true, any frame.
//   - stepout: breakAlways=true, breakFrame=s.parent||s.
func (d *Debugger) resumeFromPause(subtype host.DebuggerSubtype) error {
	d.mu.Lock()
	h := d.dbgResume
	if h == nil {
		d.mu.Unlock()
		return types.Oops("debugger: no paused fiber to resume")
	}
	d.dbgResume = nil
	d.heap = nil

	switch subtype {
	case host.SubtypeResume:
		d.breakAlways = false
		d.breakFrame = nil
	case host.SubtypeStepOver:
		d.breakAlways = true
		d.breakFrame = h.s
	case host.SubtypeStepInto:
		d.breakAlways = true
		d.breakFrame = nil
	case host.SubtypeStepOut:
		d.breakAlways = true
		if h.s.Parent != nil {
			d.breakFrame = h.s.Parent
		} else {
			d.breakFrame = h.s
		}
	}
	d.mu.Unlock()

	trace.Event("debugger", "resume subtype=%s pc=%d", subtype, h.retPC)
	if d.rt.IsDead() {
		return nil
	}
	// HandleCommand is called from the host's own call context, not from
	// rt's serialized goroutine — defer the re-entry so it runs there,
	// the same discipline resume callbacks and yield continuations follow:
	// native code must not touch runtime state except through the
	// serialized queue.
	d.rt.ScheduleNextTick(func() {
		if d.rt.IsDead() {
			return
		}
		runtime.Loop(d.rt, h.s)
	})
	return nil
}

// resolveVariables answers a "variables" request against dbgHeap,
// available only while paused; an empty reply (no matching variable) is
// returned once the snapshot it targeted is gone, and also when the
// request names a generation that doesn't match the live snapshot — the
// round-trip was racing a step/resume that already replaced it.
func (d *Debugger) resolveVariables(msg host.DebuggerMessage) host.VariablesMessage {
	d.mu.Lock()
	snap := d.heap
	d.mu.Unlock()

	reply := host.VariablesMessage{Subtype: "variables", ReqSeq: msg.Seq}
	if snap == nil {
		return reply
	}
	if msg.Generation != "" && msg.Generation != snap.generation {
		return reply
	}

	if name, val, ok := snap.lookup(msg.VariablesReference); ok {
		reply.Variables = append(reply.Variables, host.Variable{Name: name, Value: val.String()})
	}
	return reply
}
