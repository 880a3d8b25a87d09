package debugger

import (
	"time"

	"fiberhost/host"
	"fiberhost/types"
)

// Trace implements trace(brkId, s, retPC, inMainFile): if the
// position is in the main entry/source file, it posts a trace message
// and pauses the fiber for tracePauseMs using the same suspend/resume
// primitive a native extension uses; otherwise it pauses for 0ms (just
// yields). Either way the resume handle is consumed immediately
// (checkResumeConsumed is satisfied by calling GetResume inline) rather
// than left for some later native call to pick up.
func (d *Debugger) Trace(brkID int, s *types.Frame, retPC int, inMainFile bool) *types.Frame {
	delay := 0
	if inMainFile {
		if d.rt.Bridge != nil {
			_ = d.rt.Bridge.Send(host.TraceMessage{Subtype: "trace", BreakpointID: brkID})
		}
		d.mu.Lock()
		delay = d.tracePauseMs
		d.mu.Unlock()
	}

	d.rt.SetupResume(s, retPC)
	resume := d.rt.GetResume()

	time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		resume(types.Nil)
	})

	return nil
}
