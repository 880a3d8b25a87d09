// Package runtime implements the cooperative fiber runtime: the
// frame-threaded interpreter loop, the resume/suspension protocol,
// cooperative yield, fiber spawn, and refcount bookkeeping.
//
// Scheduling is single-threaded and cooperative: every external
// entry point — a resume callback fired from a native extension's
// goroutine, a yield continuation fired from a timer, a debugger command,
// a fiber spawn — is serialized through one command queue per Runtime,
// the same way a select loop over an input channel and a ticker
// serializes a scheduler's own external entry points, generalized here
// to a single work queue.
package runtime

import (
	"sync"
	"sync/atomic"
	"time"

	"fiberhost/host"
	"fiberhost/types"
)

// Runtime owns all mutable interpreter state. Every re-entry point
// (resume, yield continuation, debugger command) rebinds the current
// runtime implicitly by running on this Runtime's serialized goroutine,
// so native code calling GetResume always targets the expected instance.
type Runtime struct {
	Bridge host.Bridge

	// Hooks a host may install; all optional.
	ErrorHandler        func(error)
	PostError           func(error)
	HandleCustomMessage func(host.CustomMessage)
	OnDisplayFlush      func()

	board any // bound peripheral model; out of scope, tracked only for topCall's assertion

	runtimeID string // correlation id set by topCall, echoed back on kill's status message

	dead    atomic.Bool
	running atomic.Bool
	inLoop  atomic.Bool // reentrancy guard for Loop

	startedAt time.Time

	cmds      chan func()
	closed    chan struct{}
	closeOnce sync.Once

	// Resume protocol state.
	mu         sync.Mutex
	currResume *resumeHandle

	// Loop lock.
	lock     *loopLock
	waitList []func()

	// Refcount bookkeeping.
	refDebug   atomic.Bool
	refMu      sync.Mutex
	refObjects map[int64]types.RefObject
	nextRefID  int64

	serialMu  sync.Mutex
	serialBuf []byte

	displayFlushCounter int

	lastYield time.Time

	timersMu sync.Mutex
	timers   []*time.Timer
}

// displayFlushInterval is the coalescing window for step 4 of the
// interpreter loop ("flush any pending display updates"): a real display
// is out of scope, so this only governs how often OnDisplayFlush, if
// set, is invoked.
const displayFlushInterval = 100

// serialFlushMaxLen is the "exceeds 16 chars" serial-flush threshold.
const serialFlushMaxLen = 16

// NewRuntime constructs a Runtime bound to the given outbound sink and
// starts its serialized command-processing goroutine.
func NewRuntime(bridge host.Bridge) *Runtime {
	rt := &Runtime{
		Bridge:     bridge,
		cmds:       make(chan func(), 64),
		closed:     make(chan struct{}),
		refObjects: make(map[int64]types.RefObject),
	}
	go rt.run()
	return rt
}

func (rt *Runtime) run() {
	for {
		select {
		case fn := <-rt.cmds:
			fn()
		case <-rt.closed:
			return
		}
	}
}

// enqueue submits fn to run on the serialized goroutine without waiting
// for it to run; the send blocks only while the 64-slot queue is full.
// Used by resume callbacks, timer continuations, and fiber
// bounces — anything that must not re-enter runtime state from its own
// goroutine.
func (rt *Runtime) enqueue(fn func()) {
	select {
	case rt.cmds <- fn:
	case <-rt.closed:
	}
}

// enqueueSync submits fn and blocks until it has run (or the runtime is
// killed). Used by topCall and by tests that need a deterministic
// result without racing the background goroutine.
func (rt *Runtime) enqueueSync(fn func()) {
	done := make(chan struct{})
	rt.enqueue(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-rt.closed:
	}
}

// SetBoard binds the out-of-scope peripheral model topCall asserts is
// present before a program may run.
func (rt *Runtime) SetBoard(board any) { rt.board = board }

// SetRefCountingDebug reads the loaded program's refCounting flag into
// the runtime: while enabled, RegisterLiveObject tracks objects in the
// live-object table for DumpLivePointers.
func (rt *Runtime) SetRefCountingDebug(on bool) { rt.refDebug.Store(on) }

// HandleCustom routes a custom host message to the optional
// HandleCustomMessage hook on the serialized goroutine; without a hook
// installed the message is dropped.
func (rt *Runtime) HandleCustom(msg host.CustomMessage) {
	rt.enqueue(func() {
		if rt.IsDead() || rt.HandleCustomMessage == nil {
			return
		}
		rt.HandleCustomMessage(msg)
	})
}

// IsDead reports whether kill() has been called.
func (rt *Runtime) IsDead() bool { return rt.dead.Load() }

// IsRunning reports whether topCall has marked the runtime running. The
// flag stays set after the entry fiber completes; only Kill clears it.
func (rt *Runtime) IsRunning() bool { return rt.running.Load() }

// Kill marks the runtime dead and posts the "killed" status. Dead-checks in the loop, every resume callback,
// maybeYield's continuation, and the debugger resume ensure no further
// user code runs afterward.
func (rt *Runtime) Kill() {
	if rt.dead.Swap(true) {
		return
	}
	rt.running.Store(false)
	rt.cancelTimers()
	if rt.Bridge != nil {
		_ = rt.Bridge.Send(host.StatusMessage{RuntimeID: rt.runtimeID, State: host.StateKilled})
	}
	rt.closeOnce.Do(func() { close(rt.closed) })
}

// RunningTime returns milliseconds since the run began.
func (rt *Runtime) RunningTime() int64 {
	if rt.startedAt.IsZero() {
		return 0
	}
	return time.Since(rt.startedAt).Milliseconds()
}

// RunningTimeUs returns microseconds since the run began, truncated to 32
// bits, matching the host ABI's runningTimeUs() contract.
func (rt *Runtime) RunningTimeUs() uint32 {
	if rt.startedAt.IsZero() {
		return 0
	}
	return uint32(time.Since(rt.startedAt).Microseconds())
}

// AppendSerial buffers serial output from the running program and
// flushes it through the bridge when a newline is seen or the buffer
// exceeds serialFlushMaxLen.
func (rt *Runtime) AppendSerial(id, data string) {
	rt.serialMu.Lock()
	defer rt.serialMu.Unlock()

	rt.serialBuf = append(rt.serialBuf, data...)
	hasNewline := false
	for _, b := range []byte(data) {
		if b == '\n' {
			hasNewline = true
			break
		}
	}
	if hasNewline || len(rt.serialBuf) > serialFlushMaxLen {
		out := string(rt.serialBuf)
		rt.serialBuf = rt.serialBuf[:0]
		if rt.Bridge != nil {
			_ = rt.Bridge.Send(host.SerialMessage{Data: out, ID: id, Sim: true})
		}
	}
}

// trackTimer records a pending host timer so Kill can cancel outstanding
// yield/debounce continuations instead of leaving them to fire into a
// dead runtime (they no-op via the dead-check anyway, but cancelling
// avoids leaking goroutines in long-lived hosts).
func (rt *Runtime) trackTimer(t *time.Timer) {
	rt.timersMu.Lock()
	rt.timers = append(rt.timers, t)
	rt.timersMu.Unlock()
}

func (rt *Runtime) cancelTimers() {
	rt.timersMu.Lock()
	pending := rt.timers
	rt.timers = nil
	rt.timersMu.Unlock()
	for _, t := range pending {
		t.Stop()
	}
}

func (rt *Runtime) flushDisplay() {
	rt.displayFlushCounter++
	if rt.displayFlushCounter%displayFlushInterval != 0 {
		return
	}
	if rt.OnDisplayFlush != nil {
		rt.OnDisplayFlush()
	}
}
