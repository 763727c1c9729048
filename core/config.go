package pipeline

// BargeInAction selects what happens when the user talks over the
// assistant long enough to qualify as an interruption.
type BargeInAction string

const (
	// BargeInStopAndListen cuts synthesis and returns to listening.
	BargeInStopAndListen BargeInAction = "stop_and_listen"
	// BargeInIgnore detects but never acts on interruptions.
	BargeInIgnore BargeInAction = "ignore"
)

// BargeInConfig tunes interruption detection while the assistant speaks.
type BargeInConfig struct {
	Enabled bool
	// MinSpeechMS is how much consecutive qualifying speech must
	// accumulate before an interruption triggers.
	MinSpeechMS int
	// MinEnergyDB is the frame energy floor for qualifying speech.
	MinEnergyDB float64
	Action      BargeInAction
}

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	// LatencyBudgetMS is the end-to-end speech-to-speech target.
	LatencyBudgetMS int
	// MinSpeechEnergyDB gates the Idle to Listening transition so mic
	// artifacts and room noise cannot wake the pipeline.
	MinSpeechEnergyDB float64
	// MaxListeningFrames is the hard cap on a single utterance, after
	// which the turn is finalized regardless of the turn detector.
	MaxListeningFrames int
	// SubscriberBuffer is the per-subscriber event buffer size.
	SubscriberBuffer int
	// Language tags the conversation for sentence detection.
	Language string
	// ChainDisabled turns off the streaming text-to-audio chain; Speak
	// then synthesizes whole responses directly.
	ChainDisabled bool

	BargeIn BargeInConfig
}

// DefaultConfig returns the tuning the pipeline ships with.
func DefaultConfig() Config {
	return Config{
		LatencyBudgetMS:    500,
		MinSpeechEnergyDB:  -45.0,
		MaxListeningFrames: 500,
		SubscriberBuffer:   256,
		Language:           "en",
		BargeIn: BargeInConfig{
			Enabled:     true,
			MinSpeechMS: 150,
			MinEnergyDB: -40.0,
			Action:      BargeInStopAndListen,
		},
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.LatencyBudgetMS <= 0 {
		c.LatencyBudgetMS = defaults.LatencyBudgetMS
	}
	if c.MinSpeechEnergyDB == 0 {
		c.MinSpeechEnergyDB = defaults.MinSpeechEnergyDB
	}
	if c.MaxListeningFrames <= 0 {
		c.MaxListeningFrames = defaults.MaxListeningFrames
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaults.SubscriberBuffer
	}
	if c.Language == "" {
		c.Language = defaults.Language
	}
	if c.BargeIn.MinSpeechMS <= 0 {
		c.BargeIn.MinSpeechMS = defaults.BargeIn.MinSpeechMS
	}
	if c.BargeIn.MinEnergyDB == 0 {
		c.BargeIn.MinEnergyDB = defaults.BargeIn.MinEnergyDB
	}
	if c.BargeIn.Action == "" {
		c.BargeIn.Action = defaults.BargeIn.Action
	}
	return c
}
