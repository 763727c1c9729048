package processors

import (
	"context"
	"sync"
	"time"
)

// DefaultGracePeriod is how long after playback starts barge-in frames
// are ignored, so the user's own trailing speech cannot cut the answer off.
const DefaultGracePeriod = 200 * time.Millisecond

type gateState int

const (
	gateIdle gateState = iota
	gateSpeaking
	gateInterrupted
)

// InterruptGate sits at the end of a chain and stops playback frames once
// the user barges in. Playback starts on the first AudioOutput frame; a
// BargeIn frame received after the grace period flips the gate, which then
// drops AudioOutput and Sentence frames until the response ends or the
// chain is reset.
type InterruptGate struct {
	gracePeriod time.Duration
	now         func() time.Time

	mu         sync.Mutex
	state      gateState
	speakStart time.Time
}

type InterruptGateOption func(*InterruptGate)

// WithGracePeriod overrides the post-playback-start window during which
// barge-in is ignored.
func WithGracePeriod(d time.Duration) InterruptGateOption {
	return func(g *InterruptGate) {
		if d >= 0 {
			g.gracePeriod = d
		}
	}
}

// NewInterruptGate creates an interrupt gate stage.
func NewInterruptGate(opts ...InterruptGateOption) *InterruptGate {
	g := &InterruptGate{
		gracePeriod: DefaultGracePeriod,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *InterruptGate) Name() string {
	return "interrupt_gate"
}

func (g *InterruptGate) OnStart(context.Context, *Context) error {
	g.Reset()
	return nil
}

func (g *InterruptGate) OnStop(context.Context, *Context) error {
	g.Reset()
	return nil
}

// Reset returns the gate to idle.
func (g *InterruptGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = gateIdle
}

// Interrupted reports whether the gate is currently blocking playback.
func (g *InterruptGate) Interrupted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == gateInterrupted
}

func (g *InterruptGate) Process(_ context.Context, frame Frame, _ *Context) ([]Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch frame.(type) {
	case BargeIn:
		if g.state != gateSpeaking {
			return nil, nil
		}
		if g.now().Sub(g.speakStart) < g.gracePeriod {
			return nil, nil
		}
		g.state = gateInterrupted
		return []Frame{frame}, nil

	case AudioOutput:
		switch g.state {
		case gateIdle:
			g.state = gateSpeaking
			g.speakStart = g.now()
		case gateInterrupted:
			return nil, nil
		}
		return []Frame{frame}, nil

	case Sentence:
		if g.state == gateInterrupted {
			return nil, nil
		}
		return []Frame{frame}, nil

	case EndOfStream:
		g.state = gateIdle
		return []Frame{frame}, nil

	case Control:
		if frame.(Control).Signal == SignalReset {
			g.state = gateIdle
		}
		return []Frame{frame}, nil

	default:
		return []Frame{frame}, nil
	}
}
