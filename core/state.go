// Package pipeline orchestrates a real-time spoken conversation: audio
// frames flow through VAD and turn detection into transcription, the
// transcript is answered by a language model, and the answer is streamed
// back out as synthesized speech, interruptible by the user at any time.
package pipeline

// State is the orchestrator's position in the conversation loop.
type State int

const (
	// StateIdle waits for the user to start speaking.
	StateIdle State = iota
	// StateListening accumulates the user's utterance.
	StateListening
	// StateProcessing generates a response for a completed turn.
	StateProcessing
	// StateSpeaking plays response audio, watching for barge-in.
	StateSpeaking
	// StatePaused suspends all frame processing until Resume.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}
