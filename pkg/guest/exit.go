package guest

// StopReason tells the caller of a run loop why control came back.
type StopReason int

const (
	StopDowncount StopReason = iota // the cycle budget of the slice ran out
	StopRequested                   // RequestStop was called
	StopBreakpoint                  // execution reached an enabled breakpoint
	StopStepped                     // a single instruction was executed
)

func (r StopReason) String() string {
	switch r {
	case StopDowncount:
		return "downcount"
	case StopRequested:
		return "stop requested"
	case StopBreakpoint:
		return "breakpoint"
	case StopStepped:
		return "stepped"
	default:
		return "unknown"
	}
}
