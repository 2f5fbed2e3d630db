package app

// StopReason is logged when the agent shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopLoggedOut  StopReason = "logged_out"
	StopFatalError StopReason = "fatal_error"
)
