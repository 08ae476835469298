package tts

// StateType represents the current state of the playback controller.
type StateType int

const (
	// StateIdle indicates no chapter is loaded.
	StateIdle StateType = iota
	// StateLoading indicates a chapter is being segmented and seeded.
	StateLoading
	// StateReady indicates playback can start.
	StateReady
	// StatePlaying indicates audio is actively playing.
	StatePlaying
	// StatePaused indicates playback is paused.
	StatePaused
	// StateBuffering indicates playback is waiting on synthesis.
	StateBuffering
	// StateStopping indicates the controller is unloading.
	StateStopping
	// StateError indicates a fatal error (missing voice/engine).
	StateError
)

// String returns the string representation of the state.
func (s StateType) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsActive returns true for states where a chapter is loaded and
// playback is in progress or can resume immediately.
func (s StateType) IsActive() bool {
	return s == StatePlaying || s == StatePaused || s == StateBuffering
}

// StateMachine manages controller state transitions.
type StateMachine struct {
	current     StateType
	transitions map[StateType][]StateType
	onEnter     map[StateType]func()
}

// NewStateMachine creates a state machine with the valid transition
// table for the playback lifecycle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[StateType][]StateType{
			StateIdle:      {StateLoading, StateError},
			StateLoading:   {StateReady, StateError, StateStopping},
			StateReady:     {StatePlaying, StateBuffering, StateLoading, StateStopping},
			StatePlaying:   {StatePaused, StateBuffering, StateReady, StateStopping},
			StatePaused:    {StatePlaying, StateBuffering, StateStopping},
			StateBuffering: {StatePlaying, StatePaused, StateReady, StateError, StateStopping},
			StateStopping:  {StateIdle},
			StateError:     {StateIdle, StateLoading},
		},
		onEnter: make(map[StateType]func()),
	}
}

// Transition attempts to move to the given state, returning false when
// the transition is not allowed from the current state.
func (sm *StateMachine) Transition(to StateType) bool {
	valid := false
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}
	sm.current = to
	if fn := sm.onEnter[to]; fn != nil {
		fn()
	}
	return true
}

// Current returns the current state.
func (sm *StateMachine) Current() StateType {
	return sm.current
}

// OnEnter registers a callback invoked after entering a state.
func (sm *StateMachine) OnEnter(state StateType, fn func()) {
	sm.onEnter[state] = fn
}
