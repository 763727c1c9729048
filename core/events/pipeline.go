package events

import (
	"github.com/elaravoice/elara-core/core/speechtotext"
	"github.com/elaravoice/elara-core/core/turns"
	"github.com/elaravoice/elara-core/core/vad"
)

const (
	KindVadStateChanged   Kind = "vad.state_changed"
	KindTurnStateChanged  Kind = "turn.state_changed"
	KindTranscriptPartial Kind = "transcript.partial"
	KindTranscriptFinal   Kind = "transcript.final"
	KindResponse          Kind = "assistant.response"
	KindSpeechAudio       Kind = "assistant.speech_audio"
	KindBargeIn           Kind = "user.barge_in"
	KindError             Kind = "pipeline.error"
)

// VadStateChanged is emitted whenever the detector's classification of
// the input changes.
type VadStateChanged struct {
	Base
	State       vad.State
	Probability float64
}

func NewVadStateChanged(state vad.State, probability float64) VadStateChanged {
	return VadStateChanged{Base: NewBase(KindVadStateChanged), State: state, Probability: probability}
}

// TurnStateChanged carries the turn detector's verdict for a frame.
type TurnStateChanged struct {
	Base
	Result turns.Result
}

func NewTurnStateChanged(result turns.Result) TurnStateChanged {
	return TurnStateChanged{Base: NewBase(KindTurnStateChanged), Result: result}
}

// TranscriptPartial is an interim transcription of in-progress speech.
type TranscriptPartial struct {
	Base
	Transcript speechtotext.Transcript
}

func NewTranscriptPartial(transcript speechtotext.Transcript) TranscriptPartial {
	return TranscriptPartial{Base: NewBase(KindTranscriptPartial), Transcript: transcript}
}

// TranscriptFinal is the finalized transcription of a completed user turn.
type TranscriptFinal struct {
	Base
	Transcript speechtotext.Transcript
}

func NewTranscriptFinal(transcript speechtotext.Transcript) TranscriptFinal {
	return TranscriptFinal{Base: NewBase(KindTranscriptFinal), Transcript: transcript}
}

// Response carries the assistant's text as it is generated. Non-final
// events carry one new chunk each; the final event carries the complete
// response.
type Response struct {
	Base
	Text  string
	Final bool
}

func NewResponse(text string, final bool) Response {
	return Response{Base: NewBase(KindResponse), Text: text, Final: final}
}

// SpeechAudio carries synthesized PCM for the assistant's response.
type SpeechAudio struct {
	Base
	Samples []float32
	Text    string
	Final   bool
}

func NewSpeechAudio(samples []float32, text string, final bool) SpeechAudio {
	return SpeechAudio{Base: NewBase(KindSpeechAudio), Samples: samples, Text: text, Final: final}
}

// BargeIn signals the user interrupted playback; AtWord is the synthesis
// word index at the moment of interruption.
type BargeIn struct {
	Base
	AtWord int
}

func NewBargeIn(atWord int) BargeIn {
	return BargeIn{Base: NewBase(KindBargeIn), AtWord: atWord}
}

// Error surfaces a pipeline failure that ended the current turn.
type Error struct {
	Base
	Err error
}

func NewError(err error) Error {
	return Error{Base: NewBase(KindError), Err: err}
}
