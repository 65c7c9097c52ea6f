package tracker

// State is the drive loop's current stage.
type State string

const (
	StateIdle           State = "idle"
	StateCapturingFrame State = "capturing_frame"
	StateNormalizing    State = "normalizing"
	StateEstimating     State = "estimating"
	StateSelecting      State = "selecting"
	StateReporting      State = "reporting"
	StateStopped        State = "stopped"
)
