package audio

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// CaptureClient streams raw audio bytes from a capture device. Stream
// blocks until the context is cancelled or the device stops.
type CaptureClient interface {
	EncodingInfo() EncodingInfo
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}

// CaptureControls is implemented by clients that can start and stop
// capture explicitly instead of streaming for the life of a context.
type CaptureControls interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// Input wraps an optional capture client and reframes its byte stream
// into fixed-duration Frames for the pipeline. A nil or unconfigured
// Input is inert, so the pipeline can be driven by ProcessAudio alone.
type Input struct {
	client   CaptureClient
	controls CaptureControls

	configured  atomic.Bool
	isCapturing atomic.Bool
	sequence    atomic.Uint64

	mu      sync.Mutex
	pending []byte

	onFrame func(*Frame)
}

// NewInput creates an input facade delivering frames to onFrame.
func NewInput(client CaptureClient, onFrame func(*Frame)) *Input {
	if onFrame == nil {
		onFrame = func(*Frame) {}
	}

	in := &Input{onFrame: onFrame}
	in.Set(client)
	return in
}

// Set swaps the capture client. Passing nil disconnects the input.
func (in *Input) Set(client CaptureClient) {
	if in == nil {
		return
	}

	in.client = client
	in.controls = nil
	in.configured.Store(false)
	in.isCapturing.Store(false)

	if client == nil {
		return
	}

	in.configured.Store(true)
	if controls, ok := client.(CaptureControls); ok {
		in.controls = controls
	}
}

func (in *Input) IsConfigured() bool { return in != nil && in.configured.Load() }
func (in *Input) IsCapturing() bool  { return in != nil && in.isCapturing.Load() }

// EncodingInfo reports the configured client's encoding, or the default
// when no client is set.
func (in *Input) EncodingInfo() EncodingInfo {
	if in == nil || in.client == nil {
		return GetDefaultEncodingInfo()
	}
	return in.client.EncodingInfo()
}

// Start begins capture if a client is configured. Errors surface through
// the log because capture runs on its own goroutine.
func (in *Input) Start(ctx context.Context) {
	if !in.IsConfigured() {
		return
	}
	if !in.isCapturing.CompareAndSwap(false, true) {
		return
	}

	if in.controls != nil {
		go func() {
			if err := in.controls.StartCapture(ctx, in.onAudio); err != nil {
				in.isCapturing.Store(false)
				log.Printf("Failed to start audio capture: %v", err)
			}
		}()
		return
	}

	go func() {
		if err := in.client.Stream(ctx, in.onAudio); err != nil {
			log.Printf("Audio capture stream ended: %v", err)
		}
		in.isCapturing.Store(false)
	}()
}

// Stop halts capture on clients that support explicit controls.
func (in *Input) Stop() error {
	if in == nil || in.controls == nil {
		return nil
	}
	if err := in.controls.StopCapture(); err != nil {
		return err
	}
	in.isCapturing.Store(false)
	return nil
}

// Close stops capture and releases the underlying client.
func (in *Input) Close() error {
	if in == nil || in.client == nil {
		return nil
	}

	if in.controls != nil {
		if err := in.controls.StopCapture(); err != nil {
			log.Printf("Failed to stop audio capture: %v", err)
		}
	}
	in.client.Close()
	in.isCapturing.Store(false)
	return nil
}

// onAudio accumulates raw linear16 bytes and cuts them into frames of
// DefaultFrameMS, carrying any remainder into the next callback.
func (in *Input) onAudio(data []byte) {
	info := in.EncodingInfo()
	frameBytes := info.SampleRate * DefaultFrameMS / 1000 * 2
	if frameBytes == 0 {
		return
	}

	in.mu.Lock()
	in.pending = append(in.pending, data...)
	var frames []*Frame
	for len(in.pending) >= frameBytes {
		chunk := in.pending[:frameBytes]
		in.pending = in.pending[frameBytes:]
		frames = append(frames, FrameFromLinear16(chunk, info.SampleRate, in.sequence.Add(1)))
	}
	in.mu.Unlock()

	for _, frame := range frames {
		in.onFrame(frame)
	}
}
