package processors

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultChannelCapacity bounds the channels between chain stages.
const DefaultChannelCapacity = 64

// Context carries run-scoped data handed to every stage. Each stage gets
// its own copy, so stages must not use it to communicate.
type Context struct {
	RunID    uuid.UUID
	Language string
}

// NewContext creates a context for a single chain run.
func NewContext(language string) Context {
	return Context{RunID: uuid.New(), Language: language}
}

// Processor is a single stage of a chain. Process consumes one frame and
// returns zero or more output frames. OnStart runs before the first frame
// and OnStop after EndOfStream.
type Processor interface {
	Name() string
	Process(ctx context.Context, frame Frame, pc *Context) ([]Frame, error)
	OnStart(ctx context.Context, pc *Context) error
	OnStop(ctx context.Context, pc *Context) error
}

// Chain is an ordered list of processors connected by bounded channels.
// Frames enter the first stage and flow through each stage's goroutine in
// order. A stage error becomes a recoverable Error frame on the output
// rather than stopping the chain.
type Chain struct {
	name       string
	processors []Processor
	capacity   int
}

type ChainOption func(*Chain)

// WithChannelCapacity overrides the capacity of inter-stage channels.
func WithChannelCapacity(capacity int) ChainOption {
	return func(c *Chain) {
		if capacity > 0 {
			c.capacity = capacity
		}
	}
}

// NewChain creates a chain with the given stages, in processing order.
func NewChain(name string, opts ...ChainOption) *Chain {
	chain := &Chain{
		name:     name,
		capacity: DefaultChannelCapacity,
	}
	for _, opt := range opts {
		opt(chain)
	}
	return chain
}

// Add appends a stage to the chain. It must not be called after Run.
func (c *Chain) Add(p Processor) *Chain {
	c.processors = append(c.processors, p)
	return c
}

// Name returns the chain's name.
func (c *Chain) Name() string {
	return c.name
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	return len(c.processors)
}

// ProcessOne pushes a single frame through every stage synchronously and
// returns the resulting frames. Useful for tests and non-streaming use;
// streaming callers should use Run.
func (c *Chain) ProcessOne(ctx context.Context, frame Frame, pc *Context) ([]Frame, error) {
	frames := []Frame{frame}
	for _, p := range c.processors {
		var next []Frame
		for _, f := range frames {
			out, err := p.Process(ctx, f, pc)
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		frames = next
	}
	return frames, nil
}

// Run starts one goroutine per stage and wires them together with bounded
// channels. It returns the input channel of the first stage and the output
// channel of the last. Closing the input shuts the chain down stage by
// stage; the output channel closes once the last stage drains. Cancelling
// ctx stops all stages promptly.
func (c *Chain) Run(ctx context.Context, pc Context) (chan<- Frame, <-chan Frame) {
	ctx, span := tracer.Start(ctx, "processors.Chain.Run",
		trace.WithAttributes(
			attribute.String("chain", c.name),
			attribute.String("run_id", pc.RunID.String()),
			attribute.Int("stages", len(c.processors)),
		),
	)
	defer span.End()

	input := make(chan Frame, c.capacity)

	current := (<-chan Frame)(input)
	for _, p := range c.processors {
		current = c.runStage(ctx, p, pc, current)
	}

	return input, current
}

// runStage spawns the goroutine for a single stage, reading from in and
// writing to the returned channel.
func (c *Chain) runStage(ctx context.Context, p Processor, pc Context, in <-chan Frame) <-chan Frame {
	out := make(chan Frame, c.capacity)

	go func() {
		defer close(out)

		if err := p.OnStart(ctx, &pc); err != nil {
			logger.ErrorContext(ctx, "stage start failed",
				"chain", c.name, "stage", p.Name(), "error", err)
		}

		for {
			var frame Frame
			var ok bool
			select {
			case <-ctx.Done():
				return
			case frame, ok = <-in:
				if !ok {
					c.stopStage(ctx, p, &pc)
					return
				}
			}

			_, isEOS := frame.(EndOfStream)

			frames, err := p.Process(ctx, frame, &pc)
			if err != nil {
				logger.ErrorContext(ctx, "stage failed",
					"chain", c.name, "stage", p.Name(), "error", err)
				frames = []Frame{Error{Stage: p.Name(), Err: err, Recoverable: true}}
				if isEOS {
					frames = append(frames, EndOfStream{})
				}
			}

			for _, f := range frames {
				select {
				case <-ctx.Done():
					return
				case out <- f:
				}
			}

			if isEOS {
				c.stopStage(ctx, p, &pc)
			}
		}
	}()

	return out
}

func (c *Chain) stopStage(ctx context.Context, p Processor, pc *Context) {
	if err := p.OnStop(ctx, pc); err != nil {
		logger.ErrorContext(ctx, "stage stop failed",
			"chain", c.name, "stage", p.Name(), "error", err)
	}
}

// Passthrough forwards every frame unchanged. Useful as a chain placeholder
// and in tests.
type Passthrough struct {
	StageName string
}

func (p Passthrough) Name() string {
	if p.StageName == "" {
		return "passthrough"
	}
	return p.StageName
}

func (Passthrough) Process(_ context.Context, frame Frame, _ *Context) ([]Frame, error) {
	return []Frame{frame}, nil
}

func (Passthrough) OnStart(context.Context, *Context) error { return nil }
func (Passthrough) OnStop(context.Context, *Context) error  { return nil }

// Filter drops frames that fail its predicate.
type Filter struct {
	StageName string
	Keep      func(Frame) bool
}

func (f Filter) Name() string {
	if f.StageName == "" {
		return "filter"
	}
	return f.StageName
}

func (f Filter) Process(_ context.Context, frame Frame, _ *Context) ([]Frame, error) {
	if f.Keep == nil || f.Keep(frame) {
		return []Frame{frame}, nil
	}
	return nil, nil
}

func (Filter) OnStart(context.Context, *Context) error { return nil }
func (Filter) OnStop(context.Context, *Context) error  { return nil }
