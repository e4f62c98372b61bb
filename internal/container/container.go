// Package container wraps one chip behind band-limited resamplers. A
// Container owns the chip, one input and one output buffer per chip output
// and a resampler per output, and turns the chip's raw samples into PCM at
// the host output rate.
//
// A Container is not safe for concurrent use. The caller serializes Command
// against Acquire/FillBuf with its own lock.
package container

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cbegin/chipdispatch-go/internal/blip"
	"github.com/cbegin/chipdispatch-go/internal/dispatch"
	"github.com/cbegin/chipdispatch-go/internal/platform"
)

// DefaultBufferSize is the per-output buffer capacity after Init.
const DefaultBufferSize = 32768

// ErrAllocation is returned when a resampler cannot be created or configured.
var ErrAllocation = errors.New("resampler allocation failed")

type resampler interface {
	Clear()
	Resize(size int) error
	SetRates(clockRate, sampleRate float64) error
	ClocksNeeded(n int) int
	AddDelta(time, delta int)
	AddDeltaFast(time, delta int)
	EndFrame(duration int)
	SamplesAvail() int
	ReadSamples(out []int16, count int, stereo bool) int
}

func newBlip(size int) (resampler, error) {
	b, err := blip.New(size)
	if err != nil {
		return nil, err
	}
	return b, nil
}

type Option func(*Container)

// WithRegistry selects the registry Init constructs chips from. The default
// is platform.Default.
func WithRegistry(r *platform.Registry) Option {
	return func(c *Container) {
		c.registry = r
	}
}

// WithLogger sets the parent logger. The container tags it with its id.
func WithLogger(l *slog.Logger) Option {
	return func(c *Container) {
		c.log = l
	}
}

type Container struct {
	id       uuid.UUID
	log      *slog.Logger
	registry *platform.Registry
	system   platform.SystemID

	dispatch dispatch.Dispatch

	bb         [dispatch.MaxOutputs]resampler
	bbIn       [dispatch.MaxOutputs][]int16
	bbOut      [dispatch.MaxOutputs][]int16
	bbInMapped [dispatch.MaxOutputs][]int16
	bbInLen    int

	temp       [dispatch.MaxOutputs]int
	prevSample [dispatch.MaxOutputs]int
	lastOut    [dispatch.MaxOutputs]int16

	dcOffCompensation bool
	lowQuality        bool
	rateMemory        float64

	newResampler func(size int) (resampler, error)
}

func New(opts ...Option) *Container {
	c := &Container{
		id:           uuid.New(),
		registry:     platform.Default,
		bbInLen:      DefaultBufferSize,
		newResampler: newBlip,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("container", c.id.String())
	return c
}

// ID identifies the container in logs.
func (c *Container) ID() uuid.UUID {
	return c.id
}

// Init constructs and initializes the chip registered for system and
// allocates a resampler and buffer pair for each of its outputs. It does
// nothing if the container already holds a chip.
func (c *Container) Init(system platform.SystemID, host dispatch.Host, channels int, outputRate float64, cfg dispatch.Config) error {
	if c.dispatch != nil {
		return nil
	}
	d, err := c.registry.New(system)
	if err != nil {
		c.log.Error("cannot create chip", "system", system, "error", err)
		return err
	}
	if c.bbInLen == 0 {
		c.bbInLen = DefaultBufferSize
	}
	c.rateMemory = outputRate
	c.system = system

	n, err := d.Init(host, channels, int(outputRate), cfg)
	if err != nil {
		c.log.Error("chip init failed", "system", system, "error", err)
		d.Quit()
		return fmt.Errorf("init %v: %w", system, err)
	}
	c.dispatch = d
	c.log = c.log.With("system", system.String())

	outputs := c.OutputCount()
	for i := 0; i < outputs; i++ {
		if err := c.alloc(i); err != nil {
			c.log.Error("not enough memory for chip outputs", "output", i, "outputs", outputs, "error", err)
			return err
		}
	}
	c.Clear()
	c.log.Debug("chip initialized", "channels", n, "outputs", outputs, "rate", d.Rate(), "outputRate", outputRate)
	return nil
}

// alloc creates the resampler and buffers of output i. Nothing is stored
// unless every part succeeds.
func (c *Container) alloc(i int) error {
	bb, err := c.newResampler(c.bbInLen)
	if err != nil {
		return fmt.Errorf("%w: output %d: %v", ErrAllocation, i, err)
	}
	if err := bb.SetRates(c.dispatch.Rate(), c.rateMemory); err != nil {
		return fmt.Errorf("%w: output %d: %v", ErrAllocation, i, err)
	}
	c.bb[i] = bb
	c.bbIn[i] = make([]int16, c.bbInLen)
	c.bbOut[i] = make([]int16, c.bbInLen)
	c.temp[i] = 0
	c.prevSample[i] = 0
	c.lastOut[i] = 0
	return nil
}

// materialize creates buffers for outputs the chip reports but that have none
// yet, clearing every resampler if anything was created. It reports false if
// an allocation failed.
func (c *Container) materialize() bool {
	created := false
	outputs := c.OutputCount()
	for i := 0; i < outputs; i++ {
		if c.bb[i] != nil {
			continue
		}
		if err := c.alloc(i); err != nil {
			c.log.Error("cannot create buffers for new output", "output", i, "error", err)
			return false
		}
		created = true
	}
	if created {
		c.log.Debug("outputs grew", "outputs", outputs)
		c.Clear()
	}
	return true
}

// Quit shuts the chip down and frees all buffers. It does nothing on an empty
// container.
func (c *Container) Quit() {
	if c.dispatch == nil {
		return
	}
	c.dispatch.Quit()
	c.dispatch = nil
	for i := range c.bb {
		c.bb[i] = nil
		c.bbIn[i] = nil
		c.bbOut[i] = nil
		c.bbInMapped[i] = nil
		c.temp[i] = 0
		c.prevSample[i] = 0
		c.lastOut[i] = 0
	}
	c.bbInLen = 0
	c.dcOffCompensation = false
	c.log.Debug("chip quit")
}

// SetRates changes the output rate of existing resamplers in place and
// remembers it for outputs created later.
func (c *Container) SetRates(outputRate float64) {
	c.rateMemory = outputRate
	if c.dispatch == nil {
		return
	}
	rate := c.dispatch.Rate()
	for i, bb := range c.bb {
		if bb == nil {
			continue
		}
		if err := bb.SetRates(rate, outputRate); err != nil {
			c.log.Error("cannot set resampler rate", "output", i, "rate", rate, "outputRate", outputRate, "error", err)
		}
	}
}

// SetQuality selects the fast delta insertion from the next FillBuf on.
func (c *Container) SetQuality(low bool) {
	c.lowQuality = low
}

// Grow replaces every allocated buffer with one of capacity n and resizes
// the resamplers to match. Outputs with no buffers stay empty and are created
// at the new size when first used. Buffer contents do not survive. A capacity
// that is not larger than the current one is ignored.
func (c *Container) Grow(n int) {
	if n <= c.bbInLen {
		c.log.Warn("ignoring grow to smaller capacity", "capacity", c.bbInLen, "requested", n)
		return
	}
	if n > blip.MaxSize {
		c.log.Error("cannot grow buffers", "requested", n, "max", blip.MaxSize)
		return
	}
	for i := range c.bb {
		if c.bbIn[i] == nil {
			continue
		}
		c.bbIn[i] = make([]int16, n)
		c.bbOut[i] = make([]int16, n)
		if c.bb[i] != nil {
			if err := c.bb[i].Resize(n); err != nil {
				c.log.Error("cannot resize resampler", "output", i, "error", err)
			}
		}
	}
	c.log.Debug("buffers grown", "from", c.bbInLen, "to", n)
	c.bbInLen = n
}

// Acquire has the chip render count samples into the input buffers starting
// at offset.
func (c *Container) Acquire(offset, count int) {
	if c.dispatch == nil {
		return
	}
	if !c.materialize() {
		return
	}
	if offset < 0 || count < 0 || offset+count > c.bbInLen {
		c.log.Warn("acquire outside buffer", "offset", offset, "count", count, "capacity", c.bbInLen)
		return
	}
	outputs := c.OutputCount()
	for i := range c.bbInMapped {
		if i < outputs {
			c.bbInMapped[i] = c.bbIn[i][offset : offset+count]
		} else {
			c.bbInMapped[i] = nil
		}
	}
	c.dispatch.Acquire(c.bbInMapped[:], count)
}

// FillBuf feeds runTotal input samples of every output to its resampler and
// reads size samples into the output buffers at offset. If the resampler has
// fewer than size samples ready the rest of the block repeats the last one.
func (c *Container) FillBuf(runTotal, offset, size int) {
	if c.dispatch == nil {
		return
	}
	if !c.materialize() {
		return
	}
	if runTotal < 0 || offset < 0 || size < 0 || runTotal > c.bbInLen || offset+size > c.bbInLen {
		c.log.Warn("fill outside buffer", "runTotal", runTotal, "offset", offset, "size", size, "capacity", c.bbInLen)
		return
	}
	outputs := c.OutputCount()

	if c.dcOffCompensation && runTotal > 0 {
		for i := 0; i < outputs; i++ {
			if c.bbIn[i] != nil {
				c.prevSample[i] = int(c.bbIn[i][0])
			}
		}
		c.dcOffCompensation = false
	}

	for i := 0; i < outputs; i++ {
		bb, in, out := c.bb[i], c.bbIn[i], c.bbOut[i]
		if bb == nil || in == nil || out == nil {
			continue
		}
		block := out[offset : offset+size]
		got := 0
		// one resampler frame may not produce more than blip.MaxFrame samples,
		// so long runs are fed in pieces and drained in between
		for start := 0; ; {
			n := runTotal - start
			if limit := bb.ClocksNeeded(blip.MaxFrame - bb.SamplesAvail()); n > limit {
				if limit <= 0 {
					c.log.Error("resampler frame full", "output", i, "runTotal", runTotal, "fed", start, "avail", bb.SamplesAvail())
					break
				}
				n = limit
			}
			for j := start; j < start+n; j++ {
				c.temp[i] = int(in[j])
				if delta := c.temp[i] - c.prevSample[i]; delta != 0 {
					if c.lowQuality {
						bb.AddDeltaFast(j-start, delta)
					} else {
						bb.AddDelta(j-start, delta)
					}
				}
				c.prevSample[i] = c.temp[i]
			}
			bb.EndFrame(n)
			got += bb.ReadSamples(block[got:], size-got, blip.Mono)
			start += n
			if start >= runTotal {
				break
			}
		}
		if got > 0 {
			c.lastOut[i] = block[got-1]
		}
		if got < size {
			c.log.Debug("short resampler read", "output", i, "want", size, "got", got)
			for j := got; j < size; j++ {
				block[j] = c.lastOut[i]
			}
		}
	}
}

// Clear drops resampler state and delta history, and arms DC compensation
// for the next FillBuf if the chip needs it.
func (c *Container) Clear() {
	for i := range c.bb {
		if c.bb[i] != nil {
			c.bb[i].Clear()
		}
		c.temp[i] = 0
		c.prevSample[i] = 0
	}
	if c.dispatch != nil && c.dispatch.DCOffRequired() {
		c.dcOffCompensation = true
	}
}

// Reset returns the chip to its power-on state and clears the resamplers.
func (c *Container) Reset() {
	if c.dispatch == nil {
		return
	}
	c.dispatch.Reset()
	c.Clear()
}

// ClocksNeeded is the number of chip samples to Acquire for size more output
// samples.
func (c *Container) ClocksNeeded(size int) int {
	if c.dispatch == nil || c.bb[0] == nil {
		return 0
	}
	return c.bb[0].ClocksNeeded(size)
}

// SamplesAvail is the number of output samples ready in the first resampler.
func (c *Container) SamplesAvail() int {
	if c.bb[0] == nil {
		return 0
	}
	return c.bb[0].SamplesAvail()
}

// Output returns the output buffer of output i, or nil. Callers must not
// write to it or keep it across Grow.
func (c *Container) Output(i int) []int16 {
	if i < 0 || i >= len(c.bbOut) {
		return nil
	}
	return c.bbOut[i]
}

// OutputCount asks the chip for its current number of outputs.
func (c *Container) OutputCount() int {
	if c.dispatch == nil {
		return 0
	}
	return min(max(c.dispatch.OutputCount(), 0), dispatch.MaxOutputs)
}

func (c *Container) BufferLen() int {
	return c.bbInLen
}

func (c *Container) Dispatch() dispatch.Dispatch {
	return c.dispatch
}

func (c *Container) System() platform.SystemID {
	return c.system
}

func (c *Container) RegisterPool() []byte {
	if c.dispatch == nil {
		return nil
	}
	return c.dispatch.RegisterPool()
}

// Command applies one command to the chip. It returns 0 on an empty
// container.
func (c *Container) Command(cmd dispatch.Command) int {
	if c.dispatch == nil {
		return 0
	}
	return c.dispatch.Dispatch(cmd)
}

// Tick advances the chip by one engine tick.
func (c *Container) Tick() {
	if c.dispatch != nil {
		c.dispatch.Tick(true)
	}
}

func (c *Container) MuteChannel(ch int, mute bool) {
	if c.dispatch != nil {
		c.dispatch.MuteChannel(ch, mute)
	}
}

func (c *Container) ForceIns() {
	if c.dispatch != nil {
		c.dispatch.ForceIns()
	}
}

func (c *Container) NotifyInsChange(ins int) {
	if c.dispatch != nil {
		c.dispatch.NotifyInsChange(ins)
	}
}

func (c *Container) NotifyInsDeletion(ins int) {
	if c.dispatch != nil {
		c.dispatch.NotifyInsDeletion(ins)
	}
}

// SetFlags reconfigures the chip. The chip rate may change, so the remembered
// output rate is applied again.
func (c *Container) SetFlags(cfg dispatch.Config) {
	if c.dispatch == nil {
		return
	}
	c.dispatch.SetFlags(cfg)
	c.SetRates(c.rateMemory)
}
