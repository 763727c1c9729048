package audio

import (
	"math"
	"testing"
)

func TestEnergyDBSilence(t *testing.T) {
	if got := EnergyDB(make([]float32, 320)); got != -100.0 {
		t.Fatalf("expected silence to report -100 dB, got %f", got)
	}
}

func TestEnergyDBFullScale(t *testing.T) {
	samples := make([]float32, 320)
	for i := range samples {
		samples[i] = 1.0
	}
	if got := EnergyDB(samples); math.Abs(got) > 0.01 {
		t.Fatalf("expected full-scale signal to report ~0 dB, got %f", got)
	}
}

func TestEnergyDBOrdering(t *testing.T) {
	loud := make([]float32, 320)
	quiet := make([]float32, 320)
	for i := range loud {
		loud[i] = 0.5
		quiet[i] = 0.01
	}
	if EnergyDB(loud) <= EnergyDB(quiet) {
		t.Fatalf("expected louder signal to have higher energy")
	}
}

func TestLinear16RoundTrip(t *testing.T) {
	frame := NewFrame([]float32{0, 0.5, -0.5, 0.25}, DefaultSampleRate, 7)
	decoded := FrameFromLinear16(frame.Linear16(), DefaultSampleRate, 7)

	if len(decoded.Samples) != len(frame.Samples) {
		t.Fatalf("expected %d samples, got %d", len(frame.Samples), len(decoded.Samples))
	}
	for i := range frame.Samples {
		if math.Abs(float64(decoded.Samples[i]-frame.Samples[i])) > 0.001 {
			t.Fatalf("sample %d: expected %f, got %f", i, frame.Samples[i], decoded.Samples[i])
		}
	}
}

func TestFrameDurationMS(t *testing.T) {
	frame := NewFrame(make([]float32, 320), DefaultSampleRate, 0)
	if got := frame.DurationMS(); got != 20 {
		t.Fatalf("expected 320 samples at 16kHz to be 20ms, got %d", got)
	}
}
