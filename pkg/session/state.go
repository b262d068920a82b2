package session

// State is the position of a session in the streaming state machine:
//
//	idle -> requesting -> streaming -> settled -> idle
//	              \            \
//	               +-> failed <-+-> idle
//
// requesting may also fall back to idle when a submission is aborted
// before any inference starts (failed upload, load from the store).
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateSettled    State = "settled"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateIdle:       {StateRequesting},
	StateRequesting: {StateStreaming, StateFailed, StateIdle},
	StateStreaming:  {StateSettled, StateFailed},
	StateSettled:    {StateIdle},
	StateFailed:     {StateIdle},
}

func (s State) CanTransitionTo(to State) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Busy reports whether new submissions must be rejected.
func (s State) Busy() bool {
	return s != StateIdle
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}
