package platform

import (
	"math"
	"math/bits"

	"github.com/cbegin/chipdispatch-go/internal/dispatch"
)

const (
	psgClock    = 3579545
	psgChannels = 4

	psgPortData   = 0
	psgPortStereo = 1
)

// 2dB per attenuation step, 15 is silent
var psgVolumeTable [16]int

func init() {
	for i := 0; i < 15; i++ {
		psgVolumeTable[i] = int(4096 * math.Pow(10, -2.0*float64(i)/20.0))
	}
}

// PSG is an SN76489 style generator: three square tone channels and one noise
// channel behind a single latched data port. With the stereo flag set it
// gains the Game Gear routing register and a second output.
type PSG struct {
	host   dispatch.Host
	chans  []chanState
	model  Model
	clock  int
	stereo bool
	queue  regQueue
	regs   [12]byte

	tone    [3]int
	counter [3]int
	high    [3]bool

	noiseCtl     int
	noiseCounter int
	noiseShift   uint16
	noiseToggle  bool
	noiseOut     bool
	noiseMode    int
	prevNoise    int

	att        [4]int
	latchCh    int
	latchVol   bool
	stereoMask byte

	lfsrBits int
	taps     uint16
	toneZero int
}

func newPSG(p Params) dispatch.Dispatch {
	return &PSG{model: p.Model}
}

func (s *PSG) Init(host dispatch.Host, _ int, _ int, cfg dispatch.Config) (int, error) {
	if s.chans != nil {
		return len(s.chans), nil
	}
	s.host = host
	s.chans = make([]chanState, psgChannels)
	if s.model == ModelTI {
		s.lfsrBits, s.taps, s.toneZero = 15, 0x0003, 1024
	} else {
		s.lfsrBits, s.taps, s.toneZero = 16, 0x0009, 1
	}
	s.SetFlags(cfg)
	s.Reset()
	return psgChannels, nil
}

func (s *PSG) Quit() {
	s.chans = nil
	s.host = nil
	s.queue = regQueue{}
}

func (s *PSG) Reset() {
	s.queue.reset()
	for i := range s.chans {
		s.chans[i] = newChan(15)
	}
	s.regs = [12]byte{}
	s.tone = [3]int{}
	s.counter = [3]int{}
	s.high = [3]bool{}
	s.noiseCtl = 0
	s.noiseCounter = 0
	s.noiseShift = 1 << (s.lfsrBits - 1)
	s.noiseToggle = false
	s.noiseOut = false
	s.noiseMode = 0
	s.prevNoise = -1
	s.att = [4]int{15, 15, 15, 15}
	s.latchCh = 0
	s.latchVol = false
	s.stereoMask = 0xff
	for ch := 0; ch < psgChannels; ch++ {
		s.queue.push(psgPortData, byte(0x90|ch<<5|0x0f))
	}
	s.queue.push(psgPortStereo, 0xff)
}

// SetFlags reads "clock" and "stereo". Switching stereo changes OutputCount.
func (s *PSG) SetFlags(cfg dispatch.Config) {
	s.clock = clampInt(cfg.Int("clock", psgClock), 100000, 8000000)
	s.stereo = cfg.Bool("stereo", false)
}

func (s *PSG) Rate() float64 { return float64(s.clock) / 16 }
func (s *PSG) DCOffRequired() bool { return false }
func (s *PSG) RegisterPool() []byte { return s.regs[:] }

func (s *PSG) OutputCount() int {
	if s.stereo {
		return 2
	}
	return 1
}

func (s *PSG) write(port int, val byte) {
	if port == psgPortStereo {
		s.stereoMask = val
		s.regs[11] = val
		return
	}
	if val&0x80 != 0 {
		s.latchCh = int(val>>5) & 3
		s.latchVol = val&0x10 != 0
		data := int(val & 0x0f)
		switch {
		case s.latchVol:
			s.att[s.latchCh] = data
			s.regs[7+s.latchCh] = byte(data)
		case s.latchCh == 3:
			s.noiseCtl = data & 7
			s.noiseShift = 1 << (s.lfsrBits - 1)
			s.regs[6] = byte(s.noiseCtl)
		default:
			s.tone[s.latchCh] = s.tone[s.latchCh]&0x3f0 | data
			s.regs[s.latchCh*2] = byte(data)
		}
		return
	}
	switch {
	case s.latchVol:
		s.att[s.latchCh] = int(val & 0x0f)
		s.regs[7+s.latchCh] = val & 0x0f
	case s.latchCh == 3:
		s.noiseCtl = int(val & 7)
		s.regs[6] = byte(s.noiseCtl)
	default:
		s.tone[s.latchCh] = s.tone[s.latchCh]&0x0f | int(val&0x3f)<<4
		s.regs[s.latchCh*2+1] = val & 0x3f
	}
}

func (s *PSG) period(ch int) int {
	if s.tone[ch] == 0 {
		return s.toneZero
	}
	return s.tone[ch]
}

func (s *PSG) Acquire(buf [][]int16, count int) {
	if s.chans == nil || len(buf) == 0 || buf[0] == nil {
		return
	}
	stereo := s.stereo && len(buf) > 1 && buf[1] != nil
	for i := 0; i < count; i++ {
		// one byte per tick on the serial port
		s.queue.drain(1, s.write)

		for ch := 0; ch < 3; ch++ {
			s.counter[ch]--
			if s.counter[ch] <= 0 {
				s.counter[ch] = s.period(ch)
				s.high[ch] = !s.high[ch]
			}
		}

		s.noiseCounter--
		if s.noiseCounter <= 0 {
			switch s.noiseCtl & 3 {
			case 3:
				s.noiseCounter = s.period(2)
			default:
				s.noiseCounter = 0x10 << (s.noiseCtl & 3)
			}
			s.noiseToggle = !s.noiseToggle
			if s.noiseToggle {
				s.noiseOut = s.noiseShift&1 != 0
				var fb uint16
				if s.noiseCtl&4 != 0 {
					fb = uint16(bits.OnesCount16(s.noiseShift&s.taps) & 1)
				} else {
					fb = s.noiseShift & 1
				}
				s.noiseShift = s.noiseShift>>1 | fb<<(s.lfsrBits-1)
			}
		}

		var l, r int
		for ch := 0; ch < psgChannels; ch++ {
			if s.chans[ch].muted {
				continue
			}
			on := s.noiseOut
			if ch < 3 {
				on = s.high[ch]
			}
			amp := psgVolumeTable[s.att[ch]]
			if !on {
				amp = -amp
			}
			if !stereo {
				l += amp
				continue
			}
			if s.stereoMask&(0x10<<ch) != 0 {
				l += amp
			}
			if s.stereoMask&(1<<ch) != 0 {
				r += amp
			}
		}
		buf[0][i] = clampSample(l)
		if stereo {
			buf[1][i] = clampSample(r)
		}
	}
}

func (s *PSG) Dispatch(c dispatch.Command) int {
	if c.Cmd == dispatch.CmdGetChanCount {
		return psgChannels
	}
	if c.Chan < 0 || c.Chan >= len(s.chans) {
		return 0
	}
	ch := &s.chans[c.Chan]
	switch c.Cmd {
	case dispatch.CmdStdNoiseMode:
		s.noiseMode = c.Value & 3
		s.chans[3].freqChanged = true
		return 1
	case dispatch.CmdPanning:
		mask := s.stereoMask &^ (0x11 << c.Chan)
		if c.Value > 0 {
			mask |= 0x10 << c.Chan
		}
		if c.Value2 > 0 {
			mask |= 1 << c.Chan
		}
		s.queue.push(psgPortStereo, mask)
		return 1
	}
	ret, _ := ch.common(c)
	return ret
}

func (s *PSG) Tick(bool) {
	for i := range s.chans {
		ch := &s.chans[i]
		if ch.insChanged {
			if ins := ch.instrument(s.host); ins != nil && ins.Volume > 0 {
				ch.vol = clampInt(ins.Volume, 0, ch.volMax)
			}
			ch.insChanged = false
			ch.volChanged = true
		}
		if ch.tick() || ch.keyOn {
			s.writeFreq(i, ch)
			ch.freqChanged = false
		}
		if ch.volChanged || ch.keyOn || ch.keyOff {
			s.queue.push(psgPortData, byte(0x90|i<<5|(15-ch.outVol())))
			ch.volChanged = false
		}
		ch.keyOn = false
		ch.keyOff = false
	}
}

func (s *PSG) writeFreq(i int, ch *chanState) {
	if i == 3 {
		rate := ((ch.note % 3) + 3) % 3
		if s.noiseMode&2 != 0 {
			rate = 3
		}
		ctl := (s.noiseMode&1)<<2 | rate
		if ctl != s.prevNoise {
			s.queue.push(psgPortData, byte(0xe0|ctl))
			s.prevNoise = ctl
		}
		return
	}
	reg := clampInt(int(float64(s.clock)/(32*ch.hz())+0.5), 1, 1023)
	s.queue.push(psgPortData, byte(0x80|i<<5|reg&0x0f))
	s.queue.push(psgPortData, byte(reg>>4&0x3f))
}

func (s *PSG) MuteChannel(ch int, mute bool) {
	if ch >= 0 && ch < len(s.chans) {
		s.chans[ch].muted = mute
		s.chans[ch].volChanged = true
	}
}

func (s *PSG) ForceIns() {
	for i := range s.chans {
		s.chans[i].insChanged = true
		s.chans[i].freqChanged = true
		s.chans[i].volChanged = true
	}
	s.prevNoise = -1
	s.queue.push(psgPortStereo, s.stereoMask)
}

func (s *PSG) NotifyInsChange(ins int) {
	for i := range s.chans {
		s.chans[i].invalidate(ins)
	}
}

func (s *PSG) NotifyInsDeletion(ins int) {
	s.NotifyInsChange(ins)
}
