package page

// Stage of the per page pipeline
type State int

const (
	StateRead State = iota
	StateTransform
	StateSelect
	StateRunModifiers
	StateRender
	StateRendered
)

var stateNames = [...]string{"read", "transform", "select", "run modifiers", "render", "rendered"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateMachine holds the pipeline stage of a page. Stages only move forward
// through Advance, Reset moves back to an earlier stage.
type StateMachine struct {
	state State
}

func (m *StateMachine) State() State {
	return m.state
}

// Moves back to stage to. Requests for a later stage are ignored so data
// computed by earlier stages is kept.
func (m *StateMachine) Reset(to State) {
	if to < m.state {
		m.state = to
	}
}

// Moves to the next stage. Render only advances through MarkRendered.
func (m *StateMachine) Advance() {
	if m.state < StateRender {
		m.state++
	}
}

// Records that the renderer consumed the current buffers
func (m *StateMachine) MarkRendered() {
	if m.state == StateRender {
		m.state = StateRendered
	}
}

// Reports whether the page is ready for rendering
func (m *StateMachine) Ready() bool {
	return m.state >= StateRender
}
