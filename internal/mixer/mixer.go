// Package mixer runs a set of chip containers against one output stream. It
// owns the engine lock: commands, engine ticks and rendering are serialized
// by a single mutex.
package mixer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/cbegin/chipdispatch-go/internal/blip"
	"github.com/cbegin/chipdispatch-go/internal/container"
	"github.com/cbegin/chipdispatch-go/internal/dispatch"
	"github.com/cbegin/chipdispatch-go/internal/platform"
)

const (
	DefaultTickRate  = 60
	DefaultBlockSize = 1024
	DefaultChannels  = 4

	// headroom added when a slot's buffers have to grow
	growSlack = 256
)

var ErrNoSlot = errors.New("no such slot")

type Option func(*Mixer)

// WithTickRate sets the engine tick rate in Hz.
func WithTickRate(hz float64) Option {
	return func(m *Mixer) {
		if hz > 0 {
			m.tickRate = hz
		}
	}
}

// WithBlockSize limits how many frames are rendered per container call.
func WithBlockSize(n int) Option {
	return func(m *Mixer) {
		m.blockSize = n
	}
}

func WithRegistry(r *platform.Registry) Option {
	return func(m *Mixer) {
		m.registry = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Mixer) {
		m.log = l
	}
}

// WithTail sets how many ticks Finished waits after the last scheduled
// command.
func WithTail(ticks int64) Option {
	return func(m *Mixer) {
		if ticks >= 0 {
			m.tailTicks = ticks
		}
	}
}

type slot struct {
	c        *container.Container
	volume   float64
	pan      float64
	lastSize int
}

type scheduled struct {
	tick int64
	seq  int
	slot int
	cmd  dispatch.Command
}

type portaKey struct {
	slot, ch int
}

// Mixer holds the chips of one song.
type Mixer struct {
	mu       sync.Mutex
	log      *slog.Logger
	registry *platform.Registry

	outputRate float64
	tickRate   float64
	blockSize  int
	lowQuality bool
	tailTicks  int64

	slots       []*slot
	instruments map[int]*dispatch.Instrument

	queue     []scheduled
	seq       int
	tick      int64
	lastEvent int64
	untilTick float64
	portas    map[portaKey]dispatch.Command
}

func New(outputRate float64, opts ...Option) *Mixer {
	m := &Mixer{
		registry:    platform.Default,
		outputRate:  outputRate,
		tickRate:    DefaultTickRate,
		blockSize:   DefaultBlockSize,
		tailTicks:   DefaultTickRate,
		instruments: make(map[int]*dispatch.Instrument),
		portas:      make(map[portaKey]dispatch.Command),
	}
	for _, o := range opts {
		o(m)
	}
	m.blockSize = min(max(m.blockSize, 1), blip.MaxFrame)
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "mixer")
	return m
}

// AddSystem initializes a chip in a new slot and returns the slot index.
// cfg is handed to the chip unchanged; the "channels" key also sets the
// channel count it is offered. pan runs from -1 (left) to 1 (right).
func (m *Mixer) AddSystem(id platform.SystemID, cfg dispatch.Config, volume, pan float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := container.New(container.WithRegistry(m.registry), container.WithLogger(m.log))
	c.SetQuality(m.lowQuality)
	if err := c.Init(id, m, cfg.Int("channels", DefaultChannels), m.outputRate, cfg); err != nil {
		c.Quit()
		return -1, fmt.Errorf("add %v: %w", id, err)
	}
	m.slots = append(m.slots, &slot{
		c:      c,
		volume: volume,
		pan:    math.Max(-1, math.Min(1, pan)),
	})
	index := len(m.slots) - 1
	m.log.Info("system added", "slot", index, "system", id, "container", c.ID().String(), "channels", c.Command(dispatch.Command{Cmd: dispatch.CmdGetChanCount}))
	return index, nil
}

func (m *Mixer) get(index int) (*slot, error) {
	if index < 0 || index >= len(m.slots) || m.slots[index] == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoSlot, index)
	}
	return m.slots[index], nil
}

// Remove shuts the chip in a slot down. Later slots keep their indices.
func (m *Mixer) Remove(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(index)
	if err != nil {
		return err
	}
	s.c.Quit()
	m.slots[index] = nil

	q := m.queue[:0]
	for _, e := range m.queue {
		if e.slot != index {
			q = append(q, e)
		}
	}
	m.queue = q
	for k := range m.portas {
		if k.slot == index {
			delete(m.portas, k)
		}
	}
	m.log.Info("system removed", "slot", index)
	return nil
}

// Slots is the number of slot indices handed out, removed ones included.
func (m *Mixer) Slots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// SetRate changes the output rate of every chip without resetting them.
func (m *Mixer) SetRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputRate = rate
	for _, s := range m.slots {
		if s != nil {
			s.c.SetRates(rate)
		}
	}
}

func (m *Mixer) SetQuality(low bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowQuality = low
	for _, s := range m.slots {
		if s != nil {
			s.c.SetQuality(low)
		}
	}
}

// SetFlags reconfigures the chip in a slot.
func (m *Mixer) SetFlags(index int, cfg dispatch.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(index)
	if err != nil {
		return err
	}
	s.c.SetFlags(cfg)
	return nil
}

// Command applies cmd to a slot right away and returns the chip's answer.
func (m *Mixer) Command(index int, cmd dispatch.Command) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(index)
	if err != nil {
		return 0, err
	}
	return m.apply(index, s, cmd), nil
}

// Schedule queues cmd for engine tick number tick. Commands for the same tick
// run in the order they were scheduled. A tick already played runs on the
// next one.
func (m *Mixer) Schedule(tick int64, index int, cmd dispatch.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(index); err != nil {
		return err
	}
	m.seq++
	e := scheduled{tick: tick, seq: m.seq, slot: index, cmd: cmd}
	i := sort.Search(len(m.queue), func(i int) bool {
		q := m.queue[i]
		return q.tick > tick || (q.tick == tick && q.seq > e.seq)
	})
	m.queue = append(m.queue, scheduled{})
	copy(m.queue[i+1:], m.queue[i:])
	m.queue[i] = e
	m.lastEvent = max(m.lastEvent, tick)
	return nil
}

// CurrentTick is the number of the next engine tick.
func (m *Mixer) CurrentTick() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Finished reports whether all scheduled commands ran, no slide is still
// moving and the release tail has passed.
func (m *Mixer) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) == 0 && len(m.portas) == 0 && m.tick > m.lastEvent+m.tailTicks
}

func (m *Mixer) apply(index int, s *slot, cmd dispatch.Command) int {
	switch cmd.Cmd {
	case dispatch.CmdNotePorta:
		// slides step once per tick until the chip reports arrival
		m.portas[portaKey{index, cmd.Chan}] = cmd
		return 1
	case dispatch.CmdNoteOn, dispatch.CmdNoteOff, dispatch.CmdNoteOffEnv, dispatch.CmdLegato:
		delete(m.portas, portaKey{index, cmd.Chan})
	}
	return s.c.Command(cmd)
}

// runTick fires due commands, steps slides and ticks every chip.
func (m *Mixer) runTick() {
	n := 0
	for n < len(m.queue) && m.queue[n].tick <= m.tick {
		e := m.queue[n]
		if s, err := m.get(e.slot); err == nil {
			m.apply(e.slot, s, e.cmd)
		}
		n++
	}
	m.queue = m.queue[n:]

	if len(m.portas) > 0 {
		keys := make([]portaKey, 0, len(m.portas))
		for k := range m.portas {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].slot != keys[j].slot {
				return keys[i].slot < keys[j].slot
			}
			return keys[i].ch < keys[j].ch
		})
		for _, k := range keys {
			s, err := m.get(k.slot)
			if err != nil || s.c.Command(m.portas[k]) == 2 {
				delete(m.portas, k)
			}
		}
	}

	for _, s := range m.slots {
		if s != nil {
			s.c.Tick()
		}
	}
	m.tick++
}

// Process renders len(dst)/2 interleaved stereo frames.
func (m *Mixer) Process(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames := len(dst) / 2
	clear(dst)
	if m.outputRate <= 0 {
		return
	}
	perTick := m.outputRate / m.tickRate
	for done := 0; done < frames; {
		if m.untilTick <= 0 {
			m.runTick()
			m.untilTick += perTick
		}
		n := min(frames-done, m.blockSize, int(math.Ceil(m.untilTick)))
		n = max(n, 1)
		m.render(dst[done*2:(done+n)*2], n)
		m.untilTick -= float64(n)
		done += n
	}
}

// render mixes size frames of every slot into out.
func (m *Mixer) render(out []float32, size int) {
	for _, s := range m.slots {
		if s == nil {
			continue
		}
		c := s.c
		runTotal := c.ClocksNeeded(size)
		if runTotal > c.BufferLen() {
			c.Grow(runTotal + growSlack)
		}
		c.Acquire(0, runTotal)
		c.FillBuf(runTotal, 0, size)
		s.lastSize = size

		outputs := c.OutputCount()
		gl := float32(s.volume * math.Min(1, 1-s.pan) / 32768)
		gr := float32(s.volume * math.Min(1, 1+s.pan) / 32768)
		for o := 0; o < outputs; o++ {
			buf := c.Output(o)
			if len(buf) < size {
				continue
			}
			left, right := true, true
			if outputs > 1 {
				left, right = o%2 == 0, o%2 == 1
			}
			for j := 0; j < size; j++ {
				v := float32(buf[j])
				if left {
					out[2*j] += v * gl
				}
				if right {
					out[2*j+1] += v * gr
				}
			}
		}
	}
	for i := range out {
		if out[i] > 1 {
			out[i] = 1
		} else if out[i] < -1 {
			out[i] = -1
		}
	}
}

// Oscilloscope copies the last rendered block of one output of a slot.
func (m *Mixer) Oscilloscope(index, output int) []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(index)
	if err != nil {
		return nil
	}
	buf := s.c.Output(output)
	if buf == nil || s.lastSize == 0 || s.lastSize > len(buf) {
		return nil
	}
	out := make([]int16, s.lastSize)
	copy(out, buf)
	return out
}

// RegisterPool copies the register view of a slot's chip.
func (m *Mixer) RegisterPool(index int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(index)
	if err != nil {
		return nil
	}
	pool := s.c.RegisterPool()
	if pool == nil {
		return nil
	}
	out := make([]byte, len(pool))
	copy(out, pool)
	return out
}

// Mute mutes one chip channel and reapplies the chip's instrument state.
func (m *Mixer) Mute(index, ch int, mute bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.get(index)
	if err != nil {
		return err
	}
	s.c.MuteChannel(ch, mute)
	s.c.ForceIns()
	return nil
}

// Instrument implements dispatch.Host. Chips call it from Tick, with the
// mixer lock already held.
func (m *Mixer) Instrument(index int) *dispatch.Instrument {
	return m.instruments[index]
}

// SetInstrument stores ins at index and tells every chip to drop what it
// cached for that index.
func (m *Mixer) SetInstrument(index int, ins *dispatch.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[index] = ins
	for _, s := range m.slots {
		if s != nil {
			s.c.NotifyInsChange(index)
		}
	}
}

func (m *Mixer) DeleteInstrument(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instruments, index)
	for _, s := range m.slots {
		if s != nil {
			s.c.NotifyInsDeletion(index)
		}
	}
}

// Reset puts every chip back to power-on state and drops pending commands.
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s != nil {
			s.c.Reset()
			s.lastSize = 0
		}
	}
	m.queue = m.queue[:0]
	m.portas = make(map[portaKey]dispatch.Command)
	m.tick = 0
	m.lastEvent = 0
	m.untilTick = 0
}

// Close shuts every chip down.
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.slots {
		if s != nil {
			s.c.Quit()
			m.slots[i] = nil
		}
	}
}
