// Package integration drives six end-to-end scenarios against the
// assembled runtime/events/debugger/program packages,
// checking the fixture descriptions in fixtures.yaml (loaded through
// program.LoadScenarios) against the runtime's actual outbound message
// traffic.
package integration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"fiberhost/debugger"
	"fiberhost/events"
	"fiberhost/host"
	"fiberhost/program"
	"fiberhost/runtime"
	"fiberhost/types"
)

type intValue int

func (intValue) TypeName() string { return "int" }
func (v intValue) String() string { return fmt.Sprintf("%d", int(v)) }

func newRuntime() (*runtime.Runtime, *host.ChannelBridge) {
	bridge := host.NewChannelBridge()
	rt := runtime.NewRuntime(bridge)
	rt.SetBoard(struct{}{})
	return rt, bridge
}

func classify(m any) string {
	switch v := m.(type) {
	case host.StatusMessage:
		return "status:" + string(v.State)
	case host.BreakpointMessage:
		if v.ExceptionMessage != "" {
			return "breakpoint:exception"
		}
		return "breakpoint"
	case host.TraceMessage:
		return "trace"
	case host.SerialMessage:
		return "serial"
	case host.VariablesMessage:
		return "variables"
	default:
		return "unknown"
	}
}

// containsOrderedSubsequence reports whether want appears, in order
// (not necessarily contiguously), within got.
func containsOrderedSubsequence(got, want []string) bool {
	i := 0
	for _, g := range got {
		if i >= len(want) {
			return true
		}
		if g == want[i] {
			i++
		}
	}
	return i >= len(want)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestFixturesDescribeAllScenarios loads fixtures.yaml and sanity-checks
// that every scenario has a corresponding fixture entry —
// this does not itself execute any program, only that the declarative
// descriptions are present and well-formed (program/fixture.go, the
// conformance/loader.go-grounded YAML loader).
func TestFixturesDescribeAllScenarios(t *testing.T) {
	scenarios, err := program.LoadScenarios("fixtures.yaml")
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	want := map[string]bool{
		"trivial": false, "sleep": false, "event-fanout": false,
		"step-over": false, "exception": false, "trace": false,
	}
	for _, sc := range scenarios {
		if sc.Program == "" {
			t.Errorf("scenario %q has no program key", sc.Name)
		}
		if _, ok := want[sc.Program]; !ok {
			t.Errorf("unexpected scenario program key %q", sc.Program)
		}
		want[sc.Program] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("fixtures.yaml is missing a scenario for %q", name)
		}
	}
}

// scenarioByProgram returns the fixture entry's expected message-kind
// sequence for the given program key, failing the test if it's absent.
func scenarioByProgram(t *testing.T, progKey string) []string {
	t.Helper()
	scenarios, err := program.LoadScenarios("fixtures.yaml")
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	for _, sc := range scenarios {
		if sc.Program == progKey {
			return sc.Expect
		}
	}
	t.Fatalf("no fixture found for program %q", progKey)
	return nil
}

// TestScenarioTrivial covers a trivial program: entryPoint immediately
// leaves 42.
func TestScenarioTrivial(t *testing.T) {
	expect := scenarioByProgram(t, "trivial")

	rt, bridge := newRuntime()
	defer rt.Kill()

	blob := program.Blob{
		EntryPoint: func(s *types.Frame) *types.Frame {
			return runtime.Leave(s, intValue(42))
		},
	}
	binding, err := program.Load(blob)
	if err != nil {
		t.Fatalf("program.Load: %v", err)
	}

	done := make(chan types.Value, 1)
	if err := rt.TopCall(binding.EntryPoint, func(v types.Value) { done <- v }, "trivial"); err != nil {
		t.Fatalf("TopCall: %v", err)
	}

	select {
	case v := <-done:
		if v != intValue(42) {
			t.Errorf("completion value = %v, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	rt.Kill()

	var kinds []string
	for _, m := range bridge.Messages() {
		kinds = append(kinds, classify(m))
	}
	if !containsOrderedSubsequence(kinds, expect) {
		t.Errorf("message kinds %v do not contain expected subsequence %v", kinds, expect)
	}
}

// TestScenarioSleep covers a pause-resume program: sleep(50) then leave(7)
// completes no earlier than 50ms after start.
func TestScenarioSleep(t *testing.T) {
	expect := scenarioByProgram(t, "sleep")

	rt, bridge := newRuntime()
	defer rt.Kill()

	blob := program.Blob{
		EntryPoint: func(s *types.Frame) *types.Frame {
			if s.PC == 0 {
				s.PC = 1
				rt.SetupResume(s, 1)
				resume := rt.GetResume()
				time.AfterFunc(50*time.Millisecond, func() { resume(types.Nil) })
				return nil
			}
			return runtime.Leave(s, intValue(7))
		},
	}
	binding, err := program.Load(blob)
	if err != nil {
		t.Fatalf("program.Load: %v", err)
	}

	start := time.Now()
	done := make(chan types.Value, 1)
	if err := rt.TopCall(binding.EntryPoint, func(v types.Value) { done <- v }, "sleep"); err != nil {
		t.Fatalf("TopCall: %v", err)
	}

	select {
	case v := <-done:
		elapsed := time.Since(start)
		if v != intValue(7) {
			t.Errorf("completion value = %v, want 7", v)
		}
		if elapsed < 50*time.Millisecond {
			t.Errorf("completed after %v, should not complete before 50ms", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	var kinds []string
	for _, m := range bridge.Messages() {
		kinds = append(kinds, classify(m))
	}
	if !containsOrderedSubsequence(kinds, expect) {
		t.Errorf("message kinds %v do not contain expected subsequence %v", kinds, expect)
	}
}

// TestScenarioEventFanout covers event fan-out across three handlers.
func TestScenarioEventFanout(t *testing.T) {
	rt, _ := newRuntime()
	defer rt.Kill()

	src := events.NewSource(rt)
	release := make(chan struct{})
	var mu sync.Mutex
	perHandler := make([][]types.Value, 3)
	for h := 0; h < 3; h++ {
		idx := h
		src.AddHandler(&runtime.Action{Fn: func(s *types.Frame) *types.Frame {
			<-release
			mu.Lock()
			perHandler[idx] = append(perHandler[idx], s.LambdaArgs[0])
			mu.Unlock()
			return runtime.Leave(s, types.Nil)
		}})
	}

	// Hold the serialized goroutine on a gate so all six pushes land
	// before the first drain tick runs.
	gate := make(chan struct{})
	rt.ScheduleNextTick(func() { <-gate })

	for i := 1; i <= 6; i++ {
		src.Push(intValue(i), false)
	}
	close(gate)
	close(release)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(perHandler[0]) >= 5 && len(perHandler[1]) >= 5 && len(perHandler[2]) >= 5
	})

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for h, got := range perHandler {
		if len(got) != 5 {
			t.Errorf("handler %d received %d events, want exactly 5", h, len(got))
			continue
		}
		for i, v := range got {
			if v != intValue(i+1) {
				t.Errorf("handler %d event %d = %v, want %v", h, i, v, intValue(i+1))
			}
		}
	}
}

// TestScenarioStepOver covers stepping over the outer
// call site only breaks in the outer frame or its descendants, never in
// an unrelated fiber spawned concurrently.
func TestScenarioStepOver(t *testing.T) {
	rt, bridge := newRuntime()
	defer rt.Kill()
	d := debugger.New(rt, 200)

	if err := d.HandleCommand(host.DebuggerMessage{Subtype: host.SubtypeConfig, SetBreakpoints: []int{100}}); err != nil {
		t.Fatalf("config: %v", err)
	}

	var innerFn types.FrameFunc
	innerFn = func(s *types.Frame) *types.Frame {
		if s.PC == 0 {
			if d.ShouldBreak(s, 101) {
				return d.Breakpoint(s, 1, 101, nil)
			}
			s.PC = 1
		}
		return runtime.Leave(s, intValue(2))
	}

	outerFn := func(s *types.Frame) *types.Frame {
		if s.PC == 0 {
			if d.ShouldBreak(s, 100) {
				return d.Breakpoint(s, 1, 100, nil)
			}
			s.PC = 1
		}
		if s.PC == 1 {
			s.PC = 2
			child, err := runtime.ActionCall(s, innerFn, nil)
			if err != nil {
				panic(err)
			}
			return child
		}
		return runtime.Leave(s, intValue(1))
	}

	done := make(chan types.Value, 1)
	if err := rt.TopCall(outerFn, func(v types.Value) { done <- v }, "step-over"); err != nil {
		t.Fatalf("TopCall: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		for _, m := range bridge.Messages() {
			if bm, ok := m.(host.BreakpointMessage); ok && bm.BreakpointID == 100 {
				return true
			}
		}
		return false
	})

	if err := d.HandleCommand(host.DebuggerMessage{Subtype: host.SubtypeStepOver}); err != nil {
		t.Fatalf("stepover: %v", err)
	}

	var unrelatedDone = make(chan types.Value, 1)
	unrelatedFn := func(s *types.Frame) *types.Frame {
		if d.ShouldBreak(s, 102) {
			return d.Breakpoint(s, 1, 102, nil)
		}
		return runtime.Leave(s, intValue(99))
	}
	go func() {
		ch := rt.RunFiberAsync(&runtime.Action{Fn: unrelatedFn})
		v, ok := <-ch
		if ok {
			unrelatedDone <- v
		}
	}()

	waitFor(t, time.Second, func() bool {
		for _, m := range bridge.Messages() {
			if bm, ok := m.(host.BreakpointMessage); ok && bm.BreakpointID == 101 {
				return true
			}
		}
		return false
	})

	select {
	case v := <-unrelatedDone:
		if v != intValue(99) {
			t.Errorf("unrelated fiber completion = %v, want 99", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the unrelated fiber to complete")
	}

	for _, m := range bridge.Messages() {
		if bm, ok := m.(host.BreakpointMessage); ok && bm.BreakpointID == 102 {
			t.Fatal("unrelated fiber should never hit a breakpoint while stepping over an unrelated frame")
		}
	}

	if err := d.HandleCommand(host.DebuggerMessage{Subtype: host.SubtypeResume}); err != nil {
		t.Fatalf("resume: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the stepped-over program to complete")
	}
}

// TestScenarioException covers an uncaught program exception.
func TestScenarioException(t *testing.T) {
	expect := scenarioByProgram(t, "exception")

	rt, bridge := newRuntime()
	defer rt.Kill()

	entry := func(s *types.Frame) *types.Frame {
		panic(types.UserError("boom"))
	}

	done := make(chan struct{})
	if err := rt.TopCall(entry, func(types.Value) { close(done) }, "exception"); err != nil {
		t.Fatalf("TopCall: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		for _, m := range bridge.Messages() {
			if bm, ok := m.(host.BreakpointMessage); ok && bm.ExceptionMessage != "" {
				return true
			}
		}
		return false
	})

	var msg host.BreakpointMessage
	for _, m := range bridge.Messages() {
		if bm, ok := m.(host.BreakpointMessage); ok && bm.ExceptionMessage != "" {
			msg = bm
		}
	}
	if msg.ExceptionMessage != "user: boom" {
		t.Errorf("ExceptionMessage = %q, want %q", msg.ExceptionMessage, "user: boom")
	}
	if msg.ExceptionStack == "" {
		t.Error("expected a non-empty exception stack")
	}

	for _, m := range bridge.Messages() {
		if sm, ok := m.(host.StatusMessage); ok && sm.State == host.StateKilled {
			t.Error("killed status should not post automatically on an uncaught error")
		}
	}

	var kinds []string
	for _, m := range bridge.Messages() {
		kinds = append(kinds, classify(m))
	}
	if !containsOrderedSubsequence(kinds, expect) {
		t.Errorf("message kinds %v do not contain expected subsequence %v", kinds, expect)
	}
}

// TestScenarioTrace covers trace mode on a shortened run: 20 traced
// positions in the main file, at a 2ms trace interval, let the program
// complete and produce exactly 20 trace messages. Message order, timing
// and positions outside the main file are not checked here.
func TestScenarioTrace(t *testing.T) {
	rt, bridge := newRuntime()
	defer rt.Kill()
	d := debugger.New(rt, 0)

	if err := d.HandleCommand(host.DebuggerMessage{Subtype: host.SubtypeTraceConfig, Interval: 2}); err != nil {
		t.Fatalf("traceConfig: %v", err)
	}

	const positions = 20 // smaller than a full run to keep the test fast
	done := make(chan types.Value, 1)

	entry := func(s *types.Frame) *types.Frame {
		if s.PC < positions {
			pc := s.PC
			s.PC++
			return d.Trace(pc, s, s.PC, true)
		}
		return runtime.Leave(s, intValue(1))
	}

	if err := rt.TopCall(entry, func(v types.Value) { done <- v }, "trace-test"); err != nil {
		t.Fatalf("TopCall: %v", err)
	}

	select {
	case v := <-done:
		if v != intValue(1) {
			t.Errorf("completion value = %v, want 1", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the traced program to complete")
	}

	var traceCount int
	for _, m := range bridge.Messages() {
		if _, ok := m.(host.TraceMessage); ok {
			traceCount++
		}
	}
	if traceCount != positions {
		t.Errorf("received %d trace messages, want %d", traceCount, positions)
	}
}
