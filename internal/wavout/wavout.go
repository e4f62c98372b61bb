// Package wavout writes rendered audio to 16-bit PCM WAV files.
package wavout

import (
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/oov/audio/resampler"
)

const (
	// resampler quality, 0..10
	quality = 10

	// zero frames fed after the signal so the filter releases its tail: twice
	// the quality 10 filter length, scaled when downsampling
	flushFrames = 512
)

var ErrFormat = errors.New("wavout: bad format")

// Encode writes interleaved float32 frames as 16-bit PCM.
func Encode(w io.WriteSeeker, samples []float32, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrFormat, sampleRate, channels)
	}
	const maxInt16 = float32(math.MaxInt16)

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: channels,
		},
		Data:           make([]int, len(samples)-len(samples)%channels),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		s := samples[i]
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * maxInt16)
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

// Resample converts interleaved frames from inRate to outRate. The filter is
// flushed with silence, so the result runs slightly past the converted length.
func Resample(samples []float32, channels, inRate, outRate int) []float32 {
	if channels <= 0 || inRate <= 0 || outRate <= 0 {
		return nil
	}
	frames := len(samples) / channels
	if inRate == outRate {
		out := make([]float32, frames*channels)
		copy(out, samples)
		return out
	}

	r := resampler.New(channels, inRate, outRate, quality)
	pad := flushFrames * max(1, (inRate+outRate-1)/outRate)
	total := frames + pad
	outFrames := int(int64(total)*int64(outRate)/int64(inRate)) + 1
	in := make([]float32, total)
	planar := make([][]float32, channels)
	written := outFrames
	for ch := 0; ch < channels; ch++ {
		for i := 0; i < frames; i++ {
			in[i] = samples[i*channels+ch]
		}
		planar[ch] = make([]float32, outFrames)
		read, n := 0, 0
		for read < total && n < outFrames {
			rd, wr := r.ProcessFloat32(ch, in[read:], planar[ch][n:])
			if rd == 0 && wr == 0 {
				break
			}
			read += rd
			n += wr
		}
		written = min(written, n)
	}

	out := make([]float32, written*channels)
	for i := 0; i < written; i++ {
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = planar[ch][i]
		}
	}
	return out
}

// Write encodes stereo frames rendered at rate, converting them to
// exportRate first when the two differ. An exportRate of zero keeps rate.
func Write(w io.WriteSeeker, samples []float32, rate, exportRate int) error {
	if exportRate <= 0 || exportRate == rate {
		return Encode(w, samples, rate, 2)
	}
	return Encode(w, Resample(samples, 2, rate, exportRate), exportRate, 2)
}
