// Command fiberhost is a developer harness for the embedded runtime: it
// loads one of a small set of canned label-function programs, runs it to
// completion or first breakpoint, and prints the outbound message
// stream. It is not part of the library's public contract; a real
// embedding host has no CLI surface at all.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"fiberhost/debugger"
	"fiberhost/host"
	"fiberhost/program"
	"fiberhost/runtime"
	"fiberhost/trace"
	"fiberhost/types"
)

func main() {
	scenario := flag.String("scenario", "trivial", "canned program to run: trivial|sleep|error")
	traceFlag := flag.Bool("trace", false, "enable internal diagnostic tracing")
	traceFilter := flag.String("trace-filter", "", "comma-separated glob filters for trace tags (e.g. loop,resume)")
	breakpointsFile := flag.String("breakpoints", "", "YAML breakpoint preset applied before the run")
	flag.Parse()

	log.SetPrefix("fiberhost: ")
	var filters []string
	if *traceFilter != "" {
		filters = strings.Split(*traceFilter, ",")
	}
	trace.Init(*traceFlag, filters, nil)

	builder, ok := cannedPrograms[*scenario]
	if !ok {
		log.Fatalf("unknown scenario %q", *scenario)
	}

	bridge := host.NewChannelBridge()
	rt := runtime.NewRuntime(bridge)
	rt.SetBoard(struct{}{})

	binding, err := program.Load(builder(rt))
	if err != nil {
		log.Fatalf("failed to load program: %v", err)
	}
	rt.SetRefCountingDebug(binding.RefCounting)

	if *breakpointsFile != "" {
		ids, err := program.LoadBreakpointPreset(*breakpointsFile)
		if err != nil {
			log.Fatalf("failed to load breakpoint preset: %v", err)
		}
		size := binding.NumBreakpoints
		for _, id := range ids {
			if id >= size {
				size = id + 1
			}
		}
		d := debugger.New(rt, size)
		if err := d.HandleCommand(host.DebuggerMessage{Subtype: host.SubtypeConfig, SetBreakpoints: ids}); err != nil {
			log.Fatalf("failed to apply breakpoint preset: %v", err)
		}
	}

	done := make(chan struct{})
	if err := rt.TopCall(binding.EntryPoint, func(v types.Value) {
		fmt.Printf("fiber completed: %v\n", v)
		close(done)
	}, "dev-harness"); err != nil {
		log.Fatalf("topCall: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		fmt.Println("(timed out waiting for completion; program may be parked)")
	}

	rt.Kill()
	for _, msg := range bridge.Messages() {
		fmt.Printf("%#v\n", msg)
	}
}

// cannedPrograms are label-function graphs small enough to hand-write
// directly — the dev harness's substitute for a real compiler front end,
// which is out of this runtime's scope. Each builder closes over the
// runtime so it can exercise the resume protocol (the "sleep" scenario)
// the same way a native extension would.
var cannedPrograms = map[string]func(rt *runtime.Runtime) program.Blob{
	"trivial": func(rt *runtime.Runtime) program.Blob {
		return program.Blob{
			EntryPoint: func(s *types.Frame) *types.Frame {
				return runtime.Leave(s, intValue(42))
			},
		}
	},
	"error": func(rt *runtime.Runtime) program.Blob {
		return program.Blob{
			EntryPoint: func(s *types.Frame) *types.Frame {
				panic(types.UserError("boom"))
			},
		}
	},
	"sleep": func(rt *runtime.Runtime) program.Blob {
		// A native sleep(ms) calls setupResume then schedules resume after
		// ms via the host timer; the program calls sleep(50) then returns 7.
		return program.Blob{
			EntryPoint: func(s *types.Frame) *types.Frame {
				switch s.PC {
				case 0:
					s.PC = 1
					rt.SetupResume(s, 1)
					resume := rt.GetResume()
					time.AfterFunc(50*time.Millisecond, func() { resume(types.Nil) })
					return nil
				default:
					return runtime.Leave(s, intValue(7))
				}
			},
		}
	},
}

type intValue int

func (intValue) TypeName() string { return "int" }
func (v intValue) String() string { return fmt.Sprintf("%d", int(v)) }
