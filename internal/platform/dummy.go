package platform

import (
	"github.com/cbegin/chipdispatch-go/internal/dispatch"
)

const dummyDefaultRate = 44100

// Dummy is a stand-in chip with one square wave per channel and a single
// output. It has no registers; commands change its state directly at the next
// Tick.
type Dummy struct {
	host  dispatch.Host
	chans []chanState
	phase []float64
	step  []float64
	rate  float64
}

func (d *Dummy) Init(host dispatch.Host, channels int, _ int, cfg dispatch.Config) (int, error) {
	if d.chans != nil {
		return len(d.chans), nil
	}
	d.host = host
	channels = clampInt(channels, 1, 128)
	d.chans = make([]chanState, channels)
	d.phase = make([]float64, channels)
	d.step = make([]float64, channels)
	d.SetFlags(cfg)
	d.Reset()
	return channels, nil
}

func (d *Dummy) Quit() {
	d.chans = nil
	d.phase = nil
	d.step = nil
	d.host = nil
}

func (d *Dummy) Reset() {
	for i := range d.chans {
		d.chans[i] = newChan(15)
		d.phase[i] = 0
		d.step[i] = 0
	}
}

func (d *Dummy) SetFlags(cfg dispatch.Config) {
	d.rate = cfg.Float("rate", dummyDefaultRate)
}

func (d *Dummy) Rate() float64 { return d.rate }
func (d *Dummy) OutputCount() int { return 1 }
func (d *Dummy) DCOffRequired() bool { return false }
func (d *Dummy) RegisterPool() []byte {
	return nil
}

func (d *Dummy) Acquire(buf [][]int16, count int) {
	if len(buf) == 0 || buf[0] == nil {
		return
	}
	out := buf[0]
	for i := 0; i < count; i++ {
		sum := 0
		for c := range d.chans {
			ch := &d.chans[c]
			vol := ch.outVol()
			if vol == 0 || d.step[c] == 0 {
				continue
			}
			d.phase[c] += d.step[c]
			if d.phase[c] >= 1 {
				d.phase[c] -= float64(int(d.phase[c]))
			}
			if d.phase[c] < 0.5 {
				sum += vol * 256
			} else {
				sum -= vol * 256
			}
		}
		out[i] = clampSample(sum)
	}
}

func (d *Dummy) Dispatch(c dispatch.Command) int {
	if c.Cmd == dispatch.CmdGetChanCount {
		return len(d.chans)
	}
	if c.Chan < 0 || c.Chan >= len(d.chans) {
		return 0
	}
	ret, _ := d.chans[c.Chan].common(c)
	return ret
}

func (d *Dummy) Tick(bool) {
	for i := range d.chans {
		ch := &d.chans[i]
		if ch.insChanged {
			if ins := ch.instrument(d.host); ins != nil && ins.Volume > 0 {
				ch.vol = clampInt(ins.Volume, 0, ch.volMax)
			}
			ch.insChanged = false
		}
		if ch.tick() || ch.keyOn {
			if d.rate > 0 {
				d.step[i] = ch.hz() / d.rate
			}
			ch.freqChanged = false
		}
		if ch.keyOn {
			d.phase[i] = 0
		}
		ch.keyOn = false
		ch.keyOff = false
		ch.volChanged = false
	}
}

func (d *Dummy) MuteChannel(ch int, mute bool) {
	if ch >= 0 && ch < len(d.chans) {
		d.chans[ch].muted = mute
	}
}

func (d *Dummy) ForceIns() {
	for i := range d.chans {
		d.chans[i].insChanged = true
		d.chans[i].freqChanged = true
	}
}

func (d *Dummy) NotifyInsChange(ins int) {
	for i := range d.chans {
		d.chans[i].invalidate(ins)
	}
}

func (d *Dummy) NotifyInsDeletion(ins int) {
	d.NotifyInsChange(ins)
}
