package audio

import (
	"context"
	"encoding/binary"
	"math"
)

// Frame is a fixed-duration chunk of mono PCM audio flowing into the
// pipeline. Energy is precomputed on construction so downstream consumers
// (VAD gates, barge-in detection) never have to rescan the samples.
type Frame struct {
	Samples    []float32
	SampleRate int
	Sequence   uint64
	EnergyDB   float64
}

// NewFrame wraps samples in a Frame and computes its RMS energy.
func NewFrame(samples []float32, sampleRate int, sequence uint64) *Frame {
	return &Frame{
		Samples:    samples,
		SampleRate: sampleRate,
		Sequence:   sequence,
		EnergyDB:   EnergyDB(samples),
	}
}

// DurationMS returns the frame length in milliseconds.
func (f *Frame) DurationMS() int {
	if f.SampleRate == 0 {
		return 0
	}
	return len(f.Samples) * 1000 / f.SampleRate
}

// EnergyDB computes the RMS energy of samples in decibels relative to
// full scale. Empty or silent input is reported as -100 dB.
func EnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100.0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 1e-10 {
		return -100.0
	}

	return 20 * math.Log10(rms)
}

// FrameFromLinear16 decodes little-endian 16-bit PCM bytes into a Frame,
// normalizing samples to [-1, 1]. Odd trailing bytes are dropped.
func FrameFromLinear16(data []byte, sampleRate int, sequence uint64) *Frame {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return NewFrame(samples, sampleRate, sequence)
}

// Linear16 encodes the frame samples as little-endian 16-bit PCM.
func (f *Frame) Linear16() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		v := s
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

// Processor transforms audio frames in place of the raw input, e.g. for
// noise suppression before VAD and STT.
type Processor interface {
	Process(ctx context.Context, frame *Frame) (*Frame, error)
}
