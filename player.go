// Package chipdispatch plays command streams on emulated sound chips. Each
// chip runs at its own native rate inside a container that band-limits its
// output down to the host sample rate.
package chipdispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	intaudio "github.com/cbegin/chipdispatch-go/internal/audio"
	"github.com/cbegin/chipdispatch-go/internal/mixer"
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	tickRate   float64
	blockSize  int
	lowQuality bool
	format     intaudio.Format
	bufferSize time.Duration
	sampleTap  func([]float32)
	log        *slog.Logger
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		tickRate:  mixer.DefaultTickRate,
		blockSize: mixer.DefaultBlockSize,
		format:    intaudio.FormatFloat32,
	}
}

func (c playerConfig) mixerOptions() []mixer.Option {
	opts := []mixer.Option{
		mixer.WithTickRate(c.tickRate),
		mixer.WithBlockSize(c.blockSize),
	}
	if c.log != nil {
		opts = append(opts, mixer.WithLogger(c.log))
	}
	return opts
}

func WithTickRate(hz float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.tickRate = hz
	}
}

func WithBlockSize(frames int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.blockSize = frames
	}
}

// WithLowQuality trades band-limiting accuracy for speed.
func WithLowQuality(low bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.lowQuality = low
	}
}

// WithInt16Output streams 16-bit samples to the audio device instead of
// float32.
func WithInt16Output(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		if enabled {
			cfg.format = intaudio.FormatInt16
		} else {
			cfg.format = intaudio.FormatFloat32
		}
	}
}

// WithBufferSize sets the device buffer. Zero keeps the backend default.
func WithBufferSize(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.bufferSize = d
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

func WithLogger(l *slog.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.log = l
	}
}

type Player struct {
	mu         sync.Mutex
	sampleRate int
	cfg        playerConfig
	mixer      *mixer.Mixer
	audio      *intaudio.Player
	source     *songSource
	volume     float64
	done       chan struct{}
}

// songSource feeds the mixer to the audio backend and reports the end of the
// song to the player.
type songSource struct {
	mixer     *mixer.Mixer
	gain      atomic.Uint64 // float64 bits
	sampleTap func([]float32)
	finished  atomic.Bool
	onFinish  func()
	once      sync.Once
}

func newSongSource(m *mixer.Mixer, gain float64, tap func([]float32)) *songSource {
	s := &songSource{mixer: m, sampleTap: tap}
	s.setGain(gain)
	return s
}

func (s *songSource) setGain(g float64) {
	s.gain.Store(math.Float64bits(g))
}

func (s *songSource) Process(dst []float32) {
	s.mixer.Process(dst)
	if g := float32(math.Float64frombits(s.gain.Load())); g != 1 {
		for i := range dst {
			dst[i] *= g
		}
	}
	if s.sampleTap != nil {
		s.sampleTap(dst)
	}
}

func (s *songSource) Finished() bool {
	if s.finished.Load() {
		return true
	}
	if !s.mixer.Finished() {
		return false
	}
	s.finished.Store(true)
	if s.onFinish != nil {
		s.once.Do(s.onFinish)
	}
	return true
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.tickRate <= 0 {
		return nil, fmt.Errorf("tick rate %v must be positive", cfg.tickRate)
	}
	return &Player{
		sampleRate: sampleRate,
		cfg:        cfg,
		volume:     1,
	}, nil
}

// newMixer builds the chips of song.
func newMixer(song *Song, sampleRate int, cfg playerConfig) (*mixer.Mixer, error) {
	m := mixer.New(float64(sampleRate), cfg.mixerOptions()...)
	if err := song.load(m); err != nil {
		m.Close()
		return nil, err
	}
	m.SetQuality(cfg.lowQuality)
	return m, nil
}

// Play starts song from the beginning, replacing whatever was playing.
func (p *Player) Play(song *Song) error {
	m, err := newMixer(song, p.sampleRate, p.cfg)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	p.mu.Lock()
	src := newSongSource(m, p.volume, p.cfg.sampleTap)
	src.onFinish = func() { p.signalDone(done) }
	backend, err := intaudio.NewPlayer(p.sampleRate, src, p.cfg.format, p.cfg.bufferSize)
	if err != nil {
		p.mu.Unlock()
		m.Close()
		return err
	}
	prevAudio, prevMixer, prevDone := p.audio, p.mixer, p.done
	p.audio = backend
	p.mixer = m
	p.source = src
	p.done = done
	p.mu.Unlock()

	// the old backend may be inside signalDone, so stop it unlocked
	if prevAudio != nil {
		_ = prevAudio.Stop()
		prevMixer.Close()
	}
	// Signal any existing Wait() that the previous playback was replaced
	if prevDone != nil {
		close(prevDone)
	}
	backend.Play()
	return nil
}

// signalDone closes done if it still belongs to the current song.
func (p *Player) signalDone(done chan struct{}) {
	p.mu.Lock()
	current := p.done == done
	if current {
		p.done = nil
	}
	p.mu.Unlock()
	if current {
		close(done)
	}
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Play()
	}
}

func (p *Player) Stop() error {
	p.mu.Lock()
	a, m, done := p.audio, p.mixer, p.done
	p.audio = nil
	p.mixer = nil
	p.source = nil
	p.done = nil
	p.mu.Unlock()
	if a == nil {
		return nil
	}
	err := a.Stop()
	m.Close()
	if done != nil {
		close(done)
	}
	return err
}

// Wait blocks until the current song has played out, or returns immediately
// if nothing is playing.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SetMasterVolume sets runtime volume scalar. 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	if p.source != nil {
		p.source.setGain(volume)
	}
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// PlaybackPosition returns the current output position of the audio driver,
// i.e. what the listener actually hears right now. Returns 0 if not playing.
func (p *Player) PlaybackPosition() int64 {
	p.mu.Lock()
	a := p.audio
	p.mu.Unlock()
	if a == nil {
		return 0
	}
	return int64(a.Position().Seconds() * float64(p.sampleRate))
}

// Tick is the engine tick the song has been rendered up to.
func (p *Player) Tick() int64 {
	m := p.current()
	if m == nil {
		return 0
	}
	return m.CurrentTick()
}

func (p *Player) current() *mixer.Mixer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mixer
}

// Oscilloscope returns the last block a chip output produced.
func (p *Player) Oscilloscope(slot, output int) []int16 {
	m := p.current()
	if m == nil {
		return nil
	}
	return m.Oscilloscope(slot, output)
}

// Registers returns a snapshot of a chip's register pool.
func (p *Player) Registers(slot int) []byte {
	m := p.current()
	if m == nil {
		return nil
	}
	return m.RegisterPool(slot)
}

func (p *Player) Mute(slot, ch int, mute bool) error {
	m := p.current()
	if m == nil {
		return errors.New("not playing")
	}
	return m.Mute(slot, ch, mute)
}

// Send runs cmd on a chip right away, outside the song's schedule.
func (p *Player) Send(slot int, cmd Command) (int, error) {
	m := p.current()
	if m == nil {
		return 0, errors.New("not playing")
	}
	return m.Command(slot, cmd)
}
