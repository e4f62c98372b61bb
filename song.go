package chipdispatch

import (
	"fmt"
	"sort"

	"github.com/cbegin/chipdispatch-go/internal/config"
	"github.com/cbegin/chipdispatch-go/internal/dispatch"
	"github.com/cbegin/chipdispatch-go/internal/mixer"
	"github.com/cbegin/chipdispatch-go/internal/platform"
)

type (
	Command     = dispatch.Command
	CommandType = dispatch.CommandType
	Instrument  = dispatch.Instrument
	Config      = dispatch.Config
	SystemID    = platform.SystemID
)

const (
	CmdNoteOn       = dispatch.CmdNoteOn
	CmdNoteOff      = dispatch.CmdNoteOff
	CmdNoteOffEnv   = dispatch.CmdNoteOffEnv
	CmdInstrument   = dispatch.CmdInstrument
	CmdVolume       = dispatch.CmdVolume
	CmdPitch        = dispatch.CmdPitch
	CmdNotePorta    = dispatch.CmdNotePorta
	CmdLegato       = dispatch.CmdLegato
	CmdPanning      = dispatch.CmdPanning
	CmdVibrato      = dispatch.CmdVibrato
	CmdWave         = dispatch.CmdWave
	CmdStdNoiseMode = dispatch.CmdStdNoiseMode
	CmdPulseWidth   = dispatch.CmdPulseWidth
)

// ParseConfig reads "key=value" lines into a chip configuration.
func ParseConfig(s string) Config { return dispatch.ParseConfig(s) }

const (
	SystemDummy = platform.SystemDummy
	SystemNES   = platform.SystemNES
	SystemPSG   = platform.SystemPSG
	SystemPSGTI = platform.SystemPSGTI
	SystemWave  = platform.SystemWave
)

// System is one chip of a song.
type System struct {
	ID     SystemID
	Flags  Config
	Volume float64
	Pan    float64 // -1 left .. 1 right
}

// SystemsFromSettings converts the systems table of a settings file.
func SystemsFromSettings(s *config.Settings) ([]System, error) {
	out := make([]System, 0, len(s.Systems))
	for i, sys := range s.Systems {
		id, err := sys.ID()
		if err != nil {
			return nil, fmt.Errorf("systems[%d]: %w", i, err)
		}
		out = append(out, System{ID: id, Flags: sys.Config(), Volume: sys.Volume, Pan: sys.Pan})
	}
	return out, nil
}

// Event fires Cmd on a slot's chip at the start of Tick.
type Event struct {
	Tick int64
	Slot int
	Cmd  Command
}

// Song is a fixed command stream for a set of chips.
type Song struct {
	Name        string
	Systems     []System
	Instruments map[int]*Instrument
	Events      []Event
}

// Ticks is the tick of the last event.
func (s *Song) Ticks() int64 {
	var last int64
	for _, e := range s.Events {
		last = max(last, e.Tick)
	}
	return last
}

// Add appends events at tick on slot.
func (s *Song) Add(tick int64, slot int, cmds ...Command) {
	for _, c := range cmds {
		s.Events = append(s.Events, Event{Tick: tick, Slot: slot, Cmd: c})
	}
}

func (s *Song) load(m *mixer.Mixer) error {
	if len(s.Systems) == 0 {
		return fmt.Errorf("song %q has no systems", s.Name)
	}
	for i, sys := range s.Systems {
		vol := sys.Volume
		if vol == 0 {
			vol = 1
		}
		if _, err := m.AddSystem(sys.ID, sys.Flags, vol, sys.Pan); err != nil {
			return fmt.Errorf("system %d (%v): %w", i, sys.ID, err)
		}
	}
	idx := make([]int, 0, len(s.Instruments))
	for i := range s.Instruments {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		m.SetInstrument(i, s.Instruments[i])
	}
	for _, e := range s.Events {
		if err := m.Schedule(e.Tick, e.Slot, e.Cmd); err != nil {
			return fmt.Errorf("event at tick %d: %w", e.Tick, err)
		}
	}
	return nil
}

// DefaultSystems is an NES next to a stereo Sega PSG.
func DefaultSystems() []System {
	stereo := dispatch.Config{}
	stereo.Set("stereo", "true")
	return []System{
		{ID: SystemNES, Volume: 0.8},
		{ID: SystemPSG, Flags: stereo, Volume: 0.6},
	}
}

const (
	insLead = iota
	insPad
	insNoise
)

// DemoSong is a short looping pattern spread over every system: a lead on
// channel 0, an arpeggio on 1, bass on 2 and percussion on 3. The lead slides
// into its last note. With no systems it uses DefaultSystems.
func DemoSong(systems ...System) *Song {
	if len(systems) == 0 {
		systems = DefaultSystems()
	}
	s := &Song{
		Name:    "demo",
		Systems: systems,
		Instruments: map[int]*Instrument{
			insLead:  {Name: "lead", Volume: 13, Duty: 2},
			insPad:   {Name: "pad", Volume: 9, Duty: 1, Wave: []uint8{0, 3, 6, 9, 12, 15, 12, 9, 6, 3}},
			insNoise: {Name: "hat", Volume: 10, Noise: true},
		},
	}

	const step = 8
	lead := []int{72, 76, 79, 76, 74, 77, 81, 77, 72, 76, 79, 84, 83, 79, 74, 71}
	arp := []int{60, 64, 67, 64}
	bass := []int{36, 36, 43, 43, 41, 41, 43, 43}

	for slot := range systems {
		shift := 0
		if slot%2 == 1 {
			shift = -5
		}
		s.Add(0, slot,
			Command{Cmd: dispatch.CmdInstrument, Chan: 0, Value: insLead},
			Command{Cmd: dispatch.CmdInstrument, Chan: 1, Value: insPad},
			Command{Cmd: dispatch.CmdInstrument, Chan: 2, Value: insPad},
			Command{Cmd: dispatch.CmdInstrument, Chan: 3, Value: insNoise},
			Command{Cmd: dispatch.CmdPanning, Chan: 0, Value: 15, Value2: 9},
			Command{Cmd: dispatch.CmdPanning, Chan: 1, Value: 9, Value2: 15},
			Command{Cmd: dispatch.CmdVibrato, Chan: 0, Value: 55, Value2: 15},
		)

		for i, n := range lead {
			t := int64(i * step * 2)
			s.Add(t, slot, dispatch.NoteOn(0, n+shift))
			s.Add(t+step*2-2, slot, Command{Cmd: dispatch.CmdNoteOffEnv, Chan: 0})
		}
		for i := 0; i < len(lead)*2; i++ {
			t := int64(i * step)
			s.Add(t, slot, dispatch.NoteOn(1, arp[i%len(arp)]+shift))
			if i%2 == 0 {
				s.Add(t, slot, dispatch.NoteOn(2, bass[(i/2)%len(bass)]))
			}
			if i%4 == 2 {
				s.Add(t, slot,
					Command{Cmd: dispatch.CmdStdNoiseMode, Chan: 3, Value: 4},
					dispatch.NoteOn(3, 60),
				)
				s.Add(t+3, slot, dispatch.NoteOff(3))
			}
		}

		end := int64(len(lead) * step * 2)
		s.Add(end, slot,
			dispatch.NoteOn(0, 67+shift),
			Command{Cmd: dispatch.CmdPrePorta, Chan: 0, Value: 1},
			dispatch.NotePorta(0, 20, 72+shift),
			dispatch.NoteOff(1),
			dispatch.NoteOff(2),
		)
		s.Add(end+step*6, slot, Command{Cmd: dispatch.CmdNoteOffEnv, Chan: 0})
	}
	return s
}
