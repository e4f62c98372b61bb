package dispatch

import "strconv"

// CommandType selects what a Command does.
type CommandType int

const (
	CmdNoteOn        CommandType = iota // Value: note (NoteNull re-triggers)
	CmdNoteOff                          // cut
	CmdNoteOffEnv                       // release
	CmdInstrument                       // Value: instrument index
	CmdVolume                           // Value: volume
	CmdGetVolume                        // returns volume
	CmdGetVolMax                        // returns max volume
	CmdPitch                            // Value: fine pitch in cents
	CmdNotePorta                        // Value: speed in cents per tick, Value2: target note
	CmdLegato                           // Value: note
	CmdPrePorta                         // Value: 1 when a slide is about to start
	CmdPanning                          // Value: left 0..15, Value2: right 0..15
	CmdVibrato                          // Value: rate in Hz*10, Value2: depth in cents
	CmdWave                             // Value: built-in wave index
	CmdStdNoiseMode                     // Value: noise mode
	CmdPulseWidth                       // Value: duty 0..3
	CmdForceEnvelope                    // Value: 1 forces key-on on next tick
	CmdGetChanCount                     // returns channel count
	cmdMax
)

var commandNames = [...]string{
	"NOTE_ON", "NOTE_OFF", "NOTE_OFF_ENV", "INSTRUMENT", "VOLUME",
	"GET_VOLUME", "GET_VOLMAX", "PITCH", "NOTE_PORTA", "LEGATO",
	"PRE_PORTA", "PANNING", "VIBRATO", "WAVE", "STD_NOISE_MODE",
	"PULSE_WIDTH", "FORCE_ENVELOPE", "GET_CHAN_COUNT",
}

func (t CommandType) String() string {
	if t < 0 || t >= cmdMax {
		return "CMD(" + strconv.Itoa(int(t)) + ")"
	}
	return commandNames[t]
}

// NoteNull in a CmdNoteOn keeps the channel's current note.
const NoteNull = -1 << 30

// Command is one discrete musical instruction for a chip channel. The payload
// is interpreted by the chip only.
type Command struct {
	Cmd    CommandType
	Chan   int
	Value  int
	Value2 int
}

func NoteOn(ch, note int) Command { return Command{Cmd: CmdNoteOn, Chan: ch, Value: note} }
func NoteOff(ch int) Command      { return Command{Cmd: CmdNoteOff, Chan: ch} }
func Volume(ch, vol int) Command  { return Command{Cmd: CmdVolume, Chan: ch, Value: vol} }

// NotePorta slides ch toward target at speed cents per tick.
func NotePorta(ch, speed, target int) Command {
	return Command{Cmd: CmdNotePorta, Chan: ch, Value: speed, Value2: target}
}
