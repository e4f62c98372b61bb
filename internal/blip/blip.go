// Package blip is a band-limited sample buffer. Input is a stream of
// amplitude deltas stamped with clock times at an arbitrary input rate;
// output is 16-bit samples at the output rate, filtered so that steps do not
// alias.
package blip

import (
	"errors"
	"math"
)

const (
	Stereo = true
	Mono   = false
)

const (
	preShift        = 32
	timeBits        = preShift + 20
	timeUnit uint64 = 1 << timeBits
)

const (
	bassShift     = 9 // high-pass breakpoint
	endFrameExtra = 2 // deltas may land slightly after the frame end
)

const (
	halfWidth  = 8
	bufExtra   = halfWidth*2 + endFrameExtra
	phaseBits  = 5
	phaseCount = 1 << phaseBits
	deltaBits  = 15
	deltaUnit  = 1 << deltaBits
	fracBits   = timeBits - preShift
)

const (
	// MaxRatio is the largest clockRate/sampleRate ratio SetRates accepts.
	MaxRatio = 1 << 20

	// MaxFrame is the largest number of samples one time frame may produce.
	MaxFrame = 4000

	// MaxSize bounds the capacity of a single buffer.
	MaxSize = 1 << 24
)

var (
	ErrSize = errors.New("blip: invalid buffer size")
	ErrRate = errors.New("blip: invalid rate pair")
)

// Buffer resamples deltas to the output rate and holds samples until they are
// read.
type Buffer struct {
	factor     uint64
	offset     uint64
	avail      int
	size       int
	integrator int64

	samples []int64
}

// New creates a Buffer holding at most size samples, with MaxRatio clocks per
// sample until SetRates is called.
func New(size int) (*Buffer, error) {
	if size <= 0 || size > MaxSize {
		return nil, ErrSize
	}
	b := &Buffer{
		samples: make([]int64, size+bufExtra),
		factor:  timeUnit / MaxRatio,
		size:    size,
	}
	b.Clear()
	return b, nil
}

// Clear drops all pending samples and filter state.
func (b *Buffer) Clear() {
	// factor/2 tolerates either rounding direction of factor
	b.offset = b.factor / 2
	b.avail = 0
	b.integrator = 0
	clear(b.samples)
}

// Size is the capacity in samples.
func (b *Buffer) Size() int {
	return b.size
}

// Resize changes the capacity without touching pending samples or filter
// state. It fails if the new size cannot hold the samples already available.
func (b *Buffer) Resize(size int) error {
	if size <= 0 || size > MaxSize || size < b.avail {
		return ErrSize
	}
	s := make([]int64, size+bufExtra)
	copy(s, b.samples)
	b.samples = s
	b.size = size
	return nil
}

// SetRates sets the input clock rate and output sample rate. Pending samples
// and filter state are kept.
func (b *Buffer) SetRates(clockRate, sampleRate float64) error {
	if !(clockRate > 0) || !(sampleRate > 0) || clockRate/sampleRate > MaxRatio {
		return ErrRate
	}
	factor := float64(timeUnit) * sampleRate / clockRate
	if math.IsInf(factor, 0) || factor >= 1<<63 {
		return ErrRate
	}
	b.factor = uint64(factor)
	if float64(b.factor) < factor {
		b.factor++
	}
	return nil
}

// ClocksNeeded is the length of time frame, in clocks, needed to make n more
// samples available. n is limited to MaxFrame and to the free capacity.
func (b *Buffer) ClocksNeeded(n int) int {
	if n < 0 {
		n = 0
	}
	if n > MaxFrame {
		n = MaxFrame
	}
	if b.avail+n > b.size {
		n = b.size - b.avail
	}
	needed := uint64(n) * timeUnit
	if needed < b.offset {
		return 0
	}
	return int((needed - b.offset + b.factor - 1) / b.factor)
}

// EndFrame makes clocks before duration available as output samples and
// starts a new time frame at duration.
func (b *Buffer) EndFrame(duration int) {
	if duration < 0 {
		return
	}
	off := uint64(duration)*b.factor + b.offset
	b.avail += int(off >> timeBits)
	b.offset = off & (timeUnit - 1)
	if b.avail > b.size {
		b.avail = b.size
	}
}

// SamplesAvail is the number of samples ready to read.
func (b *Buffer) SamplesAvail() int {
	return b.avail
}

func (b *Buffer) removeSamples(count int) {
	remain := b.avail + bufExtra - count
	b.avail -= count
	copy(b.samples[:remain], b.samples[count:count+remain])
	clear(b.samples[remain : remain+count])
}

// ReadSamples reads and removes at most count samples into out. With stereo
// set, every other element of out is written. It returns the number of
// samples read.
func (b *Buffer) ReadSamples(out []int16, count int, stereo bool) int {
	step := 1
	if stereo {
		step = 2
	}
	if count > b.avail {
		count = b.avail
	}
	if room := (len(out) + step - 1) / step; count > room {
		count = room
	}
	if count <= 0 {
		return 0
	}

	sum := b.integrator
	for i := 0; i < count; i++ {
		s := sum >> deltaBits
		sum += b.samples[i]
		out[i*step] = clamp(s)

		// high-pass
		sum -= s << (deltaBits - bassShift)
	}
	b.integrator = sum
	b.removeSamples(count)
	return count
}

func clamp(n int64) int16 {
	if n > math.MaxInt16 {
		return math.MaxInt16
	}
	if n < math.MinInt16 {
		return math.MinInt16
	}
	return int16(n)
}

// index returns the sample cell and fixed point position for a clock time,
// and false if the delta would land past the buffer.
func (b *Buffer) index(time int) (int, uint64, bool) {
	if time < 0 {
		return 0, 0, false
	}
	fixed := (uint64(time)*b.factor + b.offset) >> preShift
	pos := b.avail + int(fixed>>fracBits)
	if pos > b.size+endFrameExtra {
		return 0, 0, false
	}
	return pos, fixed, true
}

// AddDelta adds a band-limited step of size delta at clock time.
func (b *Buffer) AddDelta(time int, delta int) {
	pos, fixed, ok := b.index(time)
	if !ok {
		return
	}

	const phaseShift = fracBits - phaseBits
	phase := int(fixed >> phaseShift & (phaseCount - 1))

	interp := int64(fixed >> (phaseShift - deltaBits) & (deltaUnit - 1))
	d := int64(delta)
	d2 := (d * interp) >> deltaBits
	d -= d2

	out := b.samples[pos : pos+2*halfWidth]
	in := blStep[phase*halfWidth:]
	next := blStep[(phase+1)*halfWidth:]
	for i := 0; i < halfWidth; i++ {
		out[i] += int64(in[i])*d + int64(next[i])*d2
	}

	rev := (phaseCount - phase) * halfWidth
	for i := 0; i < halfWidth; i++ {
		out[halfWidth+i] += int64(blStep[rev+halfWidth-1-i])*d + int64(blStep[rev-1-i])*d2
	}
}

// AddDeltaFast is AddDelta with linear interpolation instead of the sinc
// kernel.
func (b *Buffer) AddDeltaFast(time int, delta int) {
	pos, fixed, ok := b.index(time)
	if !ok {
		return
	}
	interp := int64(fixed >> (fracBits - deltaBits) & (deltaUnit - 1))
	d := int64(delta)
	d2 := d * interp
	b.samples[pos+7] += d*deltaUnit - d2
	b.samples[pos+8] += d2
}

// Sinc_Generator( 0.9, 0.55, 4.5 )
var blStep = [(phaseCount + 1) * halfWidth]int16{
	43, -115, 350, -488, 1136, -914, 5861, 21022,
	44, -118, 348, -473, 1076, -799, 5274, 21001,
	45, -121, 344, -454, 1011, -677, 4706, 20936,
	46, -122, 336, -431, 942, -549, 4156, 20829,
	47, -123, 327, -404, 868, -418, 3629, 20679,
	47, -122, 316, -375, 792, -285, 3124, 20488,
	47, -120, 303, -344, 714, -151, 2644, 20256,
	46, -117, 289, -310, 634, -17, 2188, 19985,
	46, -114, 273, -275, 553, 117, 1758, 19675,
	44, -108, 255, -237, 471, 247, 1356, 19327,
	43, -103, 237, -199, 390, 373, 981, 18944,
	42, -98, 218, -160, 310, 495, 633, 18527,
	40, -91, 198, -121, 231, 611, 314, 18078,
	38, -84, 178, -81, 153, 722, 22, 17599,
	36, -76, 157, -43, 80, 824, -241, 17092,
	34, -68, 135, -3, 8, 919, -476, 16558,
	32, -61, 115, 34, -60, 1006, -683, 16001,
	29, -52, 94, 70, -123, 1083, -862, 15422,
	27, -44, 73, 106, -184, 1152, -1015, 14824,
	25, -36, 53, 139, -239, 1211, -1142, 14210,
	22, -27, 34, 170, -290, 1261, -1244, 13582,
	20, -20, 16, 199, -335, 1301, -1322, 12942,
	18, -12, -3, 226, -375, 1331, -1376, 12293,
	15, -4, -19, 250, -410, 1351, -1408, 11638,
	13, 3, -35, 272, -439, 1361, -1419, 10979,
	11, 9, -49, 292, -464, 1362, -1410, 10319,
	9, 16, -63, 309, -483, 1354, -1383, 9660,
	7, 22, -75, 322, -496, 1337, -1339, 9005,
	6, 26, -85, 333, -504, 1312, -1280, 8355,
	4, 31, -94, 341, -507, 1278, -1205, 7713,
	3, 35, -102, 347, -506, 1238, -1119, 7082,
	1, 40, -110, 350, -499, 1190, -1021, 6464,
	0, 43, -115, 350, -488, 1136, -914, 5861,
}
