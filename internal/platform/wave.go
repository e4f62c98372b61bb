package platform

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/cbegin/chipdispatch-go/internal/dispatch"
)

const (
	waveClock         = 3579545
	waveChannels      = 4
	waveLen           = 32
	waveWritesPerTick = 8

	// per channel: freq lo, freq hi, volume, pan (L<<4|R)
	waveRegStride = 8
	waveRAM       = 0x20
	waveRAMStride = waveLen / 2
	waveRegCount  = waveRAM + waveChannels*waveRAMStride
)

// Built-in tables selectable with CmdWave.
const (
	WaveSine = iota
	WaveTriangle
	WaveSaw
	WaveSquare
	WavePulse25
	waveBuiltins
)

var builtinWaves [waveBuiltins][waveLen]uint8

func init() {
	for i := 0; i < waveLen; i++ {
		builtinWaves[WaveSine][i] = uint8(math.Round(7.5 + 7.5*math.Sin(2*math.Pi*float64(i)/waveLen)))
		if i < waveLen/2 {
			builtinWaves[WaveTriangle][i] = uint8(i)
		} else {
			builtinWaves[WaveTriangle][i] = uint8(waveLen - 1 - i)
		}
		builtinWaves[WaveSaw][i] = uint8(i / 2)
		if i < waveLen/2 {
			builtinWaves[WaveSquare][i] = 15
		}
		if i < waveLen/4 {
			builtinWaves[WavePulse25][i] = 15
		}
	}
}

// ParseWave decodes a packed hex wave: every hex digit is one 4-bit sample,
// so a full table is 32 digits. Shorter input is repeated to fill the table.
func ParseWave(h string) ([]uint8, error) {
	h = strings.TrimSpace(h)
	if len(h)%2 == 1 {
		h += "0"
	}
	data, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("parse wave: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("parse wave: empty")
	}
	if len(data) > waveRAMStride {
		return nil, fmt.Errorf("parse wave: %d samples, max %d", len(data)*2, waveLen)
	}
	out := make([]uint8, 0, len(data)*2)
	for _, b := range data {
		out = append(out, b>>4, b&0x0f)
	}
	return out, nil
}

// Wave is a four channel wavetable chip. Each channel plays a 32 step 4-bit
// table from wave RAM through a phase accumulator and has its own stereo
// volume.
type Wave struct {
	host  dispatch.Host
	chans []chanState
	regs  [waveRegCount]byte
	queue regQueue
	clock int
	phase [waveChannels]uint32
	pan   [waveChannels]byte
}

func (w *Wave) Init(host dispatch.Host, _ int, _ int, cfg dispatch.Config) (int, error) {
	if w.chans != nil {
		return len(w.chans), nil
	}
	w.host = host
	w.chans = make([]chanState, waveChannels)
	w.SetFlags(cfg)
	w.Reset()
	return waveChannels, nil
}

func (w *Wave) Quit() {
	w.chans = nil
	w.host = nil
	w.queue = regQueue{}
}

func (w *Wave) Reset() {
	w.queue.reset()
	w.regs = [waveRegCount]byte{}
	w.phase = [waveChannels]uint32{}
	for i := range w.chans {
		w.chans[i] = newChan(15)
		w.pan[i] = 0xff
		w.loadWave(i, builtinWaves[WaveSine][:])
		w.queue.push(i*waveRegStride+3, 0xff)
	}
}

func (w *Wave) SetFlags(cfg dispatch.Config) {
	w.clock = clampInt(cfg.Int("clock", waveClock), 100000, 8000000)
}

func (w *Wave) Rate() float64 { return float64(w.clock) / 32 }
func (w *Wave) OutputCount() int { return 2 }
func (w *Wave) DCOffRequired() bool { return true }
func (w *Wave) RegisterPool() []byte { return w.regs[:] }

// loadWave queues a table upload. Short tables repeat.
func (w *Wave) loadWave(ch int, data []uint8) {
	if len(data) == 0 {
		return
	}
	base := waveRAM + ch*waveRAMStride
	for i := 0; i < waveRAMStride; i++ {
		hi := data[(2*i)%len(data)] & 0x0f
		lo := data[(2*i+1)%len(data)] & 0x0f
		w.queue.push(base+i, hi<<4|lo)
	}
}

func (w *Wave) write(addr int, val byte) {
	if addr < 0 || addr >= len(w.regs) {
		return
	}
	w.regs[addr] = val
}

func (w *Wave) sample(ch int, idx uint32) int {
	b := w.regs[waveRAM+ch*waveRAMStride+int(idx>>1)]
	if idx&1 == 0 {
		return int(b >> 4)
	}
	return int(b & 0x0f)
}

func (w *Wave) Acquire(buf [][]int16, count int) {
	if w.chans == nil || len(buf) < 2 || buf[0] == nil || buf[1] == nil {
		return
	}
	for i := 0; i < count; i++ {
		w.queue.drain(waveWritesPerTick, w.write)
		var l, r int
		for ch := 0; ch < waveChannels; ch++ {
			base := ch * waveRegStride
			freq := uint32(w.regs[base]) | uint32(w.regs[base+1])<<8
			w.phase[ch] = (w.phase[ch] + freq) & 0xfffff
			vol := int(w.regs[base+2] & 0x0f)
			if vol == 0 || w.chans[ch].muted {
				continue
			}
			s := w.sample(ch, w.phase[ch]>>15) * vol
			pan := w.regs[base+3]
			l += s * int(pan>>4)
			r += s * int(pan&0x0f)
		}
		buf[0][i] = clampSample(l * 2 / 15)
		buf[1][i] = clampSample(r * 2 / 15)
	}
}

func (w *Wave) Dispatch(c dispatch.Command) int {
	if c.Cmd == dispatch.CmdGetChanCount {
		return waveChannels
	}
	if c.Chan < 0 || c.Chan >= len(w.chans) {
		return 0
	}
	switch c.Cmd {
	case dispatch.CmdWave:
		if c.Value < 0 || c.Value >= waveBuiltins {
			return 0
		}
		w.loadWave(c.Chan, builtinWaves[c.Value][:])
		return 1
	case dispatch.CmdPanning:
		w.pan[c.Chan] = byte(clampInt(c.Value, 0, 15)<<4 | clampInt(c.Value2, 0, 15))
		w.queue.push(c.Chan*waveRegStride+3, w.pan[c.Chan])
		return 1
	}
	ret, _ := w.chans[c.Chan].common(c)
	return ret
}

func (w *Wave) Tick(bool) {
	for i := range w.chans {
		ch := &w.chans[i]
		if ch.insChanged {
			if ins := ch.instrument(w.host); ins != nil {
				if len(ins.Wave) > 0 {
					w.loadWave(i, ins.Wave)
				}
				if ins.Volume > 0 {
					ch.vol = clampInt(ins.Volume, 0, ch.volMax)
				}
			}
			ch.insChanged = false
			ch.volChanged = true
		}
		if ch.tick() || ch.keyOn {
			inc := clampInt(int(ch.hz()*(1<<20)/w.Rate()+0.5), 0, 0xffff)
			base := i * waveRegStride
			w.queue.push(base, byte(inc))
			w.queue.push(base+1, byte(inc>>8))
			ch.freqChanged = false
		}
		if ch.keyOn {
			w.phase[i] = 0
		}
		if ch.volChanged || ch.keyOn || ch.keyOff {
			w.queue.push(i*waveRegStride+2, byte(ch.outVol()))
			ch.volChanged = false
		}
		ch.keyOn = false
		ch.keyOff = false
	}
}

func (w *Wave) MuteChannel(ch int, mute bool) {
	if ch >= 0 && ch < len(w.chans) {
		w.chans[ch].muted = mute
		w.chans[ch].volChanged = true
	}
}

func (w *Wave) ForceIns() {
	for i := range w.chans {
		w.chans[i].insChanged = true
		w.chans[i].freqChanged = true
		w.chans[i].volChanged = true
		w.queue.push(i*waveRegStride+3, w.pan[i])
	}
}

func (w *Wave) NotifyInsChange(ins int) {
	for i := range w.chans {
		w.chans[i].invalidate(ins)
	}
}

func (w *Wave) NotifyInsDeletion(ins int) {
	w.NotifyInsChange(ins)
}
