// Package turns decides when the user has finished speaking and the
// assistant should respond.
package turns

import (
	"time"

	"github.com/elaravoice/elara-core/core/vad"
)

// State tracks where the detector is in the current turn.
type State string

const (
	StateIdle          State = "idle"
	StateUserSpeaking  State = "user_speaking"
	StateEvaluating    State = "evaluating"
	StateTurnComplete  State = "turn_complete"
	StateAgentSpeaking State = "agent_speaking"
)

// Result is the detector's verdict for a single frame.
type Result struct {
	State            State
	TurnComplete     bool
	SilenceDuration  time.Duration
	SilenceThreshold time.Duration
	Confidence       float64
}

// Detector consumes per-frame voice activity states, optionally with the
// latest partial transcript, and signals turn completion.
type Detector interface {
	Process(state vad.State, transcript *string) (Result, error)
	Reset()
	SetAgentSpeaking()
}
