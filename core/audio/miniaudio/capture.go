package miniaudio

import (
	"fmt"
	"sync"

	"github.com/elaravoice/elara-core/core/audio"
	"github.com/gen2brain/malgo"
)

// captureFrameSamples is one pipeline frame of mono samples at the
// default sample rate. The device is configured to this period size and
// the data callback re-cuts whatever the backend actually delivers, so
// consumers always see whole pipeline frames.
const captureFrameSamples = audio.DefaultSampleRate * audio.DefaultFrameMS / 1000

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	onAudio func(audio []byte)
	pending []byte

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sampleRate := uint32(audio.DefaultSampleRate)
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels
	frameBytes := captureFrameSamples * bytesPerFrame

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = sampleRate
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = uint32(captureFrameSamples)
	c.config.Periods = 3

	c.audioContext = audioContext

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.deliver(pInput[:n], frameBytes)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

// deliver buffers captured bytes and hands them out in whole pipeline
// frames, carrying any remainder into the next callback.
func (c *captureClient) deliver(data []byte, frameBytes int) {
	onAudio := c.onAudio
	if onAudio == nil || frameBytes == 0 {
		return
	}
	c.pending = append(c.pending, data...)
	for len(c.pending) >= frameBytes {
		onAudio(c.pending[:frameBytes])
		c.pending = c.pending[frameBytes:]
	}
}

func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.onAudio = onAudio
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}

	c.onAudio = nil
	c.pending = nil
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	c.onAudio = nil
	c.pending = nil
	return nil
}
