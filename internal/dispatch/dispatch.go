// Package dispatch defines the contract every emulated sound chip implements
// and the command, instrument and configuration types that flow through it.
package dispatch

// MaxOutputs is the largest number of output lines a chip may report.
const MaxOutputs = 32

// Host is the engine context handed to a chip on Init.
type Host interface {
	// Instrument returns the instrument at index, or nil if there is none.
	Instrument(index int) *Instrument
}

// Instrument is the subset of an instrument definition the chips understand.
// Chips cache the pointer per channel; it becomes invalid after
// NotifyInsChange or NotifyInsDeletion for the same index.
type Instrument struct {
	Name   string
	Volume int     // 0..15
	Duty   int     // 0..3
	Wave   []uint8 // 32 entries, 0..15
	Noise  bool
}

// Dispatch is a single emulated sound chip.
//
// A Dispatch is driven from one goroutine at a time. Commands are turned into
// register writes that are queued and only take effect while Acquire runs, at
// the chip's own timing resolution.
type Dispatch interface {
	// Init allocates chip state and returns the number of musical channels.
	// Calling Init again before Quit does nothing and returns the current
	// channel count. On error the chip is left safe to Quit.
	Init(host Host, channels int, suggestedRate int, cfg Config) (int, error)

	// Quit releases everything Init allocated, so Init may run again.
	Quit()

	// Reset returns the chip to its power-on state and drops queued writes.
	Reset()

	// Acquire synthesizes count ticks of chip time into buf[i][:count] for
	// every i below OutputCount. Entries at or above OutputCount are nil.
	Acquire(buf [][]int16, count int)

	// Dispatch applies one command. The result is command specific; for
	// CmdNotePorta a return of 2 means the slide has reached its target.
	Dispatch(c Command) int

	// Tick runs once per engine tick.
	Tick(sysTick bool)

	// Rate is the chip's native sample rate in Hz.
	Rate() float64

	OutputCount() int
	DCOffRequired() bool

	MuteChannel(ch int, mute bool)
	ForceIns()
	NotifyInsChange(ins int)
	NotifyInsDeletion(ins int)

	// SetFlags reconfigures the chip. OutputCount and Rate may change.
	SetFlags(cfg Config)

	// RegisterPool exposes the chip register file for debug views.
	RegisterPool() []byte
}
