package platform

import (
	"math"

	"github.com/cbegin/chipdispatch-go/internal/dispatch"
)

// vibrato is a triangle LFO stepped once per engine tick.
type vibrato struct {
	speed int // 1/256 cycle per tick
	depth int // cents
	phase int // 0..255
}

func (v *vibrato) step() {
	if v.speed == 0 || v.depth == 0 {
		v.phase = 0
		return
	}
	v.phase = (v.phase + v.speed) & 0xff
}

// offset returns the current deviation in cents.
func (v *vibrato) offset() int {
	if v.speed == 0 || v.depth == 0 {
		return 0
	}
	// triangle starting at zero
	var w int
	switch {
	case v.phase < 64:
		w = v.phase
	case v.phase < 192:
		w = 128 - v.phase
	default:
		w = v.phase - 256
	}
	return w * v.depth / 64
}

// chanState is the musical state of one chip channel.
type chanState struct {
	note        int
	cents       int // note*100 plus any slide in progress
	pitch       int
	vol         int
	volMax      int
	ins         int
	insCache    *dispatch.Instrument
	active      bool
	keyOn       bool
	keyOff      bool
	freqChanged bool
	insChanged  bool
	volChanged  bool
	inPorta     bool
	muted       bool
	vib         vibrato
}

func newChan(volMax int) chanState {
	return chanState{vol: volMax, volMax: volMax, ins: -1}
}

// hz is the channel frequency including fine pitch and vibrato.
func (c *chanState) hz() float64 {
	cents := float64(c.cents + c.pitch + c.vib.offset())
	return 440 * math.Pow(2, (cents/100-69)/12)
}

// instrument resolves and caches the channel's instrument.
func (c *chanState) instrument(host dispatch.Host) *dispatch.Instrument {
	if c.insCache == nil && host != nil && c.ins >= 0 {
		c.insCache = host.Instrument(c.ins)
	}
	return c.insCache
}

func (c *chanState) invalidate(ins int) {
	if c.ins == ins {
		c.insCache = nil
		c.insChanged = true
	}
}

// common applies the commands every chip handles the same way. handled is
// false for commands the chip must deal with itself.
func (c *chanState) common(cmd dispatch.Command) (ret int, handled bool) {
	switch cmd.Cmd {
	case dispatch.CmdNoteOn:
		if cmd.Value != dispatch.NoteNull {
			c.note = cmd.Value
			c.cents = cmd.Value * 100
			c.freqChanged = true
		}
		c.active = true
		c.keyOn = true
		c.volChanged = true
	case dispatch.CmdNoteOff, dispatch.CmdNoteOffEnv:
		c.active = false
		c.keyOff = true
	case dispatch.CmdInstrument:
		if c.ins != cmd.Value {
			c.ins = cmd.Value
			c.insCache = nil
			c.insChanged = true
		}
	case dispatch.CmdVolume:
		v := clampInt(cmd.Value, 0, c.volMax)
		if v != c.vol {
			c.vol = v
			c.volChanged = true
		}
	case dispatch.CmdGetVolume:
		return c.vol, true
	case dispatch.CmdGetVolMax:
		return c.volMax, true
	case dispatch.CmdPitch:
		c.pitch = cmd.Value
		c.freqChanged = true
	case dispatch.CmdNotePorta:
		return c.slide(cmd.Value, cmd.Value2), true
	case dispatch.CmdLegato:
		c.note = cmd.Value
		c.cents = cmd.Value * 100
		c.freqChanged = true
	case dispatch.CmdPrePorta:
		c.inPorta = cmd.Value != 0
	case dispatch.CmdVibrato:
		c.vib.speed = clampInt(cmd.Value, 0, 255)
		c.vib.depth = clampInt(cmd.Value2, 0, 1200)
		c.freqChanged = true
	case dispatch.CmdForceEnvelope:
		if cmd.Value != 0 {
			c.keyOn = true
			c.volChanged = true
		}
	default:
		return 0, false
	}
	return 1, true
}

// slide moves the pitch toward target by speed cents and returns 2 once it
// gets there.
func (c *chanState) slide(speed, target int) int {
	dest := target * 100
	if speed < 0 {
		speed = -speed
	}
	c.freqChanged = true
	switch {
	case c.cents < dest:
		c.cents += speed
		if c.cents < dest {
			return 1
		}
	case c.cents > dest:
		c.cents -= speed
		if c.cents > dest {
			return 1
		}
	}
	c.cents = dest
	c.note = target
	c.inPorta = false
	return 2
}

// tick advances vibrato and reports whether the frequency must be rewritten.
func (c *chanState) tick() bool {
	if c.vib.speed != 0 && c.vib.depth != 0 {
		c.vib.step()
		c.freqChanged = true
	}
	return c.freqChanged
}

func (c *chanState) outVol() int {
	if c.muted || !c.active {
		return 0
	}
	return c.vol
}

type regWrite struct {
	addr int
	val  byte
}

// regQueue holds register writes until the chip's Acquire drains them.
type regQueue struct {
	writes []regWrite
	head   int
}

func (q *regQueue) push(addr int, val byte) {
	q.writes = append(q.writes, regWrite{addr: addr, val: val})
}

// drain applies at most n writes.
func (q *regQueue) drain(n int, apply func(addr int, val byte)) {
	for ; n > 0 && q.head < len(q.writes); n-- {
		w := q.writes[q.head]
		q.head++
		apply(w.addr, w.val)
	}
	if q.head == len(q.writes) {
		q.writes = q.writes[:0]
		q.head = 0
	}
}

func (q *regQueue) pending() int {
	return len(q.writes) - q.head
}

func (q *regQueue) reset() {
	q.writes = q.writes[:0]
	q.head = 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampSample(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
