package chipdispatch

import (
	"fmt"
	"io"

	"github.com/cbegin/chipdispatch-go/internal/wavout"
)

const (
	renderChunk = 4096

	// upper bound when rendering until the song ends
	maxRenderSeconds = 600
)

// RenderSamples renders song offline to interleaved stereo float32. With
// seconds <= 0 it renders until the song has finished.
func RenderSamples(song *Song, sampleRate int, seconds float64, opts ...PlayerOption) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d must be positive", sampleRate)
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := newMixer(song, sampleRate, cfg)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	untilDone := seconds <= 0
	if untilDone {
		seconds = maxRenderSeconds
	}
	frames := int(float64(sampleRate) * seconds)
	out := make([]float32, frames*2)
	for done := 0; done < frames; {
		n := min(renderChunk, frames-done)
		buf := out[done*2 : (done+n)*2]
		m.Process(buf)
		if cfg.sampleTap != nil {
			cfg.sampleTap(buf)
		}
		done += n
		if untilDone && m.Finished() {
			out = out[:done*2]
			break
		}
	}
	return out, nil
}

// RenderWAV renders song and writes it as 16-bit PCM. A nonzero exportRate
// different from sampleRate resamples before encoding.
func RenderWAV(w io.WriteSeeker, song *Song, sampleRate, exportRate int, seconds float64, opts ...PlayerOption) error {
	samples, err := RenderSamples(song, sampleRate, seconds, opts...)
	if err != nil {
		return err
	}
	return wavout.Write(w, samples, sampleRate, exportRate)
}
