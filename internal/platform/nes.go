package platform

import (
	"github.com/cbegin/chipdispatch-go/internal/dispatch"
)

const (
	nesClockNTSC = 1789773
	nesClockPAL  = 1662607

	nesChannels      = 4
	nesWritesPerTick = 4
)

const (
	nesPulse1 = iota
	nesPulse2
	nesTriangle
	nesNoise
)

var nesDutyTable = [4][8]int{
	{0, 1, 0, 0, 0, 0, 0, 0},
	{0, 1, 1, 0, 0, 0, 0, 0},
	{0, 1, 1, 1, 1, 0, 0, 0},
	{1, 0, 0, 1, 1, 1, 1, 1},
}

var nesTriangleTable = [32]int{
	15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0,
	0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
}

var nesNoisePeriods = [16]int{
	4, 8, 16, 32, 64, 96, 128, 160, 202, 254, 380, 508, 762, 1016, 2034, 4068,
}

type nesPulseUnit struct {
	timer   int
	counter int
	step    int
	duty    int
	vol     int
}

type nesTriangleUnit struct {
	timer   int
	counter int
	step    int
	on      bool
}

type nesNoiseUnit struct {
	period  int
	counter int
	mode    bool
	lfsr    uint16
	vol     int
}

// NES is a 2A03 style APU: two pulse channels, a triangle and a noise
// channel mixed to one unsigned output.
type NES struct {
	host     dispatch.Host
	chans    []chanState
	regs     [0x18]byte
	queue    regQueue
	clock    int
	rateDiv  int
	pulse    [2]nesPulseUnit
	tri      nesTriangleUnit
	noise    nesNoiseUnit
	enable   byte
	duty     [2]int
	noiseMod int
	prevHi   [3]int
}

func (n *NES) Init(host dispatch.Host, _ int, _ int, cfg dispatch.Config) (int, error) {
	if n.chans != nil {
		return len(n.chans), nil
	}
	n.host = host
	n.chans = make([]chanState, nesChannels)
	n.SetFlags(cfg)
	n.Reset()
	return nesChannels, nil
}

func (n *NES) Quit() {
	n.chans = nil
	n.host = nil
	n.queue = regQueue{}
}

func (n *NES) Reset() {
	n.queue.reset()
	for i := range n.chans {
		n.chans[i] = newChan(15)
	}
	n.regs = [0x18]byte{}
	n.pulse = [2]nesPulseUnit{}
	n.tri = nesTriangleUnit{}
	n.noise = nesNoiseUnit{lfsr: 1, period: nesNoisePeriods[0]}
	n.enable = 0
	n.duty = [2]int{2, 2}
	n.noiseMod = 0
	n.prevHi = [3]int{-1, -1, -1}
	n.queue.push(0x15, 0x0f)
}

func (n *NES) SetFlags(cfg dispatch.Config) {
	n.clock = nesClockNTSC
	if cfg.Bool("pal", false) {
		n.clock = nesClockPAL
	}
	n.rateDiv = clampInt(cfg.Int("rateDiv", 8), 1, 64)
}

func (n *NES) Rate() float64 { return float64(n.clock) / float64(n.rateDiv) }
func (n *NES) OutputCount() int { return 1 }
func (n *NES) DCOffRequired() bool { return true }
func (n *NES) RegisterPool() []byte { return n.regs[:] }

func (n *NES) write(addr int, val byte) {
	n.regs[addr] = val
	switch addr {
	case 0x00, 0x04:
		p := &n.pulse[addr>>2]
		p.duty = int(val >> 6)
		p.vol = int(val & 0x0f)
	case 0x02, 0x06:
		p := &n.pulse[addr>>2]
		p.timer = p.timer&0x700 | int(val)
	case 0x03, 0x07:
		p := &n.pulse[addr>>2]
		p.timer = p.timer&0xff | int(val&7)<<8
		p.step = 0
	case 0x08:
		n.tri.on = val&0x7f != 0
	case 0x0a:
		n.tri.timer = n.tri.timer&0x700 | int(val)
	case 0x0b:
		n.tri.timer = n.tri.timer&0xff | int(val&7)<<8
	case 0x0c:
		n.noise.vol = int(val & 0x0f)
	case 0x0e:
		n.noise.mode = val&0x80 != 0
		n.noise.period = nesNoisePeriods[val&0x0f]
	case 0x15:
		n.enable = val
	}
}

func (n *NES) Acquire(buf [][]int16, count int) {
	if n.chans == nil || len(buf) == 0 || buf[0] == nil {
		return
	}
	out := buf[0]
	div := n.rateDiv
	for i := 0; i < count; i++ {
		n.queue.drain(nesWritesPerTick, n.write)

		var p [2]int
		for j := range n.pulse {
			u := &n.pulse[j]
			u.counter -= div
			for u.counter <= 0 {
				u.counter += 2 * (u.timer + 1)
				u.step = (u.step + 1) & 7
			}
			if n.enable&(1<<j) != 0 && u.timer >= 8 && !n.chans[j].muted {
				p[j] = nesDutyTable[u.duty][u.step] * u.vol
			}
		}

		t := 0
		if n.enable&4 != 0 && n.tri.on && n.tri.timer >= 2 {
			n.tri.counter -= div
			for n.tri.counter <= 0 {
				n.tri.counter += n.tri.timer + 1
				n.tri.step = (n.tri.step + 1) & 31
			}
		}
		if !n.chans[nesTriangle].muted {
			t = nesTriangleTable[n.tri.step]
		}

		nz := 0
		n.noise.counter -= div
		for n.noise.counter <= 0 {
			n.noise.counter += n.noise.period
			tap := uint16(1)
			if n.noise.mode {
				tap = 6
			}
			fb := (n.noise.lfsr ^ n.noise.lfsr>>tap) & 1
			n.noise.lfsr = n.noise.lfsr>>1 | fb<<14
		}
		if n.enable&8 != 0 && n.noise.lfsr&1 == 0 && !n.chans[nesNoise].muted {
			nz = n.noise.vol
		}

		out[i] = clampSample(((p[0]+p[1])*752 + t*851 + nz*494) / 2)
	}
}

func (n *NES) Dispatch(c dispatch.Command) int {
	switch c.Cmd {
	case dispatch.CmdGetChanCount:
		return nesChannels
	}
	if c.Chan < 0 || c.Chan >= len(n.chans) {
		return 0
	}
	ch := &n.chans[c.Chan]
	switch c.Cmd {
	case dispatch.CmdPulseWidth:
		if c.Chan < 2 {
			n.duty[c.Chan] = c.Value & 3
			ch.volChanged = true
		}
		return 1
	case dispatch.CmdStdNoiseMode:
		if c.Chan == nesNoise {
			n.noiseMod = c.Value & 1
			ch.freqChanged = true
		}
		return 1
	}
	ret, _ := ch.common(c)
	return ret
}

func (n *NES) Tick(bool) {
	for i := range n.chans {
		ch := &n.chans[i]
		if ch.insChanged {
			if ins := ch.instrument(n.host); ins != nil {
				if i < 2 {
					n.duty[i] = ins.Duty & 3
				}
				if ins.Volume > 0 {
					ch.vol = clampInt(ins.Volume, 0, ch.volMax)
				}
			}
			ch.insChanged = false
			ch.volChanged = true
		}
		if ch.tick() || ch.keyOn {
			n.writeFreq(i, ch)
			ch.freqChanged = false
		}
		if ch.volChanged || ch.keyOn || ch.keyOff {
			n.writeVol(i, ch)
			ch.volChanged = false
		}
		ch.keyOn = false
		ch.keyOff = false
	}
}

func (n *NES) writeFreq(i int, ch *chanState) {
	hz := ch.hz()
	base := i * 4
	switch i {
	case nesPulse1, nesPulse2, nesTriangle:
		div := 16.0
		if i == nesTriangle {
			div = 32
		}
		period := clampInt(int(float64(n.clock)/(div*hz)+0.5)-1, 0, 0x7ff)
		n.queue.push(base+2, byte(period))
		// the high byte restarts the pulse sequencer, so only write it on change
		if hi := period >> 8; hi != n.prevHi[i] || ch.keyOn {
			n.queue.push(base+3, byte(hi)|0x08)
			n.prevHi[i] = hi
		}
	case nesNoise:
		idx := 15 - ((ch.note%16)+16)%16
		n.queue.push(0x0e, byte(n.noiseMod<<7|idx))
	}
}

func (n *NES) writeVol(i int, ch *chanState) {
	vol := ch.outVol()
	switch i {
	case nesPulse1, nesPulse2:
		n.queue.push(i*4, byte(n.duty[i]<<6|0x30|vol))
	case nesTriangle:
		if vol > 0 {
			n.queue.push(0x08, 0xff)
		} else {
			n.queue.push(0x08, 0x80)
		}
	case nesNoise:
		n.queue.push(0x0c, byte(0x30|vol))
	}
}

func (n *NES) MuteChannel(ch int, mute bool) {
	if ch >= 0 && ch < len(n.chans) {
		n.chans[ch].muted = mute
		n.chans[ch].volChanged = true
	}
}

func (n *NES) ForceIns() {
	for i := range n.chans {
		n.chans[i].insChanged = true
		n.chans[i].freqChanged = true
		n.chans[i].volChanged = true
	}
	n.prevHi = [3]int{-1, -1, -1}
	n.queue.push(0x15, n.enable|0x0f)
}

func (n *NES) NotifyInsChange(ins int) {
	for i := range n.chans {
		n.chans[i].invalidate(ins)
	}
}

func (n *NES) NotifyInsDeletion(ins int) {
	n.NotifyInsChange(ins)
}
