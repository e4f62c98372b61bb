// Package audio plays a sample source through ebiten's audio context.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleSource fills dst with interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource ends the stream once Finished reports true.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// Format is the byte encoding a StreamReader produces.
type Format int

const (
	FormatFloat32 Format = iota // 32-bit float LE, 8 bytes per frame
	FormatInt16                 // 16-bit signed LE, 4 bytes per frame
)

func (f Format) frameBytes() int {
	if f == FormatInt16 {
		return 4
	}
	return 8
}

func (f Format) String() string {
	switch f {
	case FormatFloat32:
		return "f32"
	case FormatInt16:
		return "s16"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// StreamReader encodes a SampleSource as a byte stream.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	format Format
	buf    []float32
	frames int64
}

func NewStreamReader(source SampleSource, format Format) *StreamReader {
	return &StreamReader{source: source, format: format}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / r.format.frameBytes()
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)

	switch r.format {
	case FormatInt16:
		for i, v := range r.buf {
			binary.LittleEndian.PutUint16(p[i*2:], uint16(floatToInt16(v)))
		}
	default:
		for i, v := range r.buf {
			binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
		}
	}
	r.frames += int64(frames)

	n := frames * r.format.frameBytes()
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

// Frames is the number of frames read so far.
func (r *StreamReader) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *StreamReader) Close() error { return nil }

func floatToInt16(v float32) int16 {
	if v >= 1 {
		return math.MaxInt16
	}
	if v <= -1 {
		return -math.MaxInt16
	}
	return int16(v * math.MaxInt16)
}

type Player struct {
	player *ebitaudio.Player
	reader *StreamReader
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// ebiten allows one context per process, fixed to its first sample rate.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewPlayer creates a paused player pulling from source. A bufferSize of zero
// keeps ebiten's default.
func NewPlayer(sampleRate int, source SampleSource, format Format, bufferSize time.Duration) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source, format)
	var pl *ebitaudio.Player
	switch format {
	case FormatInt16:
		pl, err = ctx.NewPlayer(reader)
	default:
		pl, err = ctx.NewPlayerF32(reader)
	}
	if err != nil {
		return nil, fmt.Errorf("new %v player: %w", format, err)
	}
	if bufferSize > 0 {
		pl.SetBufferSize(bufferSize)
	}
	return &Player{player: pl, reader: reader}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }

func (p *Player) IsPlaying() bool {
	return p.player.IsPlaying()
}

func (p *Player) SetVolume(v float64) {
	p.player.SetVolume(v)
}

// Position is what the listener actually hears.
func (p *Player) Position() time.Duration {
	return p.player.Position()
}

// Frames is how far the source has been rendered, ahead of Position by the
// buffer.
func (p *Player) Frames() int64 {
	return p.reader.Frames()
}

func (p *Player) Stop() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return err
	}
	return p.reader.Close()
}
