package mixer

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/cbegin/chipdispatch-go/internal/container"
	"github.com/cbegin/chipdispatch-go/internal/dispatch"
	"github.com/cbegin/chipdispatch-go/internal/platform"
)

const systemFake platform.SystemID = 200

type event struct {
	tick int
	cmd  dispatch.Command
}

// fakeChip logs every command with the number of Tick calls seen so far.
type fakeChip struct {
	outputs    int
	rate       float64
	ticks      int
	events     []event
	portaLeft  int
	notified   []int
	deleted    []int
	muted      map[int]bool
	forced     int
	square     bool
	host       dispatch.Host
	lastLookup *dispatch.Instrument
}

func (f *fakeChip) Init(host dispatch.Host, _ int, _ int, _ dispatch.Config) (int, error) {
	f.host = host
	return 2, nil
}
func (f *fakeChip) Quit() {}
func (f *fakeChip) Reset() { f.events = nil }
func (f *fakeChip) Acquire(buf [][]int16, count int) {
	if !f.square {
		return
	}
	for j := 0; j < count; j++ {
		v := int16(8000)
		if j/20%2 == 1 {
			v = -8000
		}
		buf[0][j] = v
	}
}
func (f *fakeChip) Dispatch(c dispatch.Command) int {
	f.events = append(f.events, event{f.ticks, c})
	switch c.Cmd {
	case dispatch.CmdNotePorta:
		f.portaLeft--
		if f.portaLeft <= 0 {
			return 2
		}
		return 1
	case dispatch.CmdGetChanCount:
		return 2
	}
	return 1
}
func (f *fakeChip) Tick(bool) {
	f.ticks++
	if f.host != nil {
		f.lastLookup = f.host.Instrument(0)
	}
}
func (f *fakeChip) Rate() float64 { return f.rate }
func (f *fakeChip) OutputCount() int { return f.outputs }
func (f *fakeChip) DCOffRequired() bool { return false }
func (f *fakeChip) MuteChannel(ch int, mute bool) {
	if f.muted == nil {
		f.muted = make(map[int]bool)
	}
	f.muted[ch] = mute
}
func (f *fakeChip) ForceIns() { f.forced++ }
func (f *fakeChip) NotifyInsChange(ins int) { f.notified = append(f.notified, ins) }
func (f *fakeChip) NotifyInsDeletion(ins int) { f.deleted = append(f.deleted, ins) }
func (f *fakeChip) SetFlags(dispatch.Config) {}
func (f *fakeChip) RegisterPool() []byte { return []byte{1, 2, 3} }

func (f *fakeChip) commands(t dispatch.CommandType) []event {
	var out []event
	for _, e := range f.events {
		if e.cmd.Cmd == t {
			out = append(out, e)
		}
	}
	return out
}

// newFakeMixer runs at 6000 Hz and 60 ticks per second, so one tick is 100
// frames.
func newFakeMixer(t *testing.T, chip *fakeChip, opts ...Option) *Mixer {
	t.Helper()
	reg := platform.NewRegistry()
	reg.Register(systemFake, "fake", func(platform.Params) dispatch.Dispatch { return chip }, platform.Params{})
	m := New(6000, append([]Option{WithRegistry(reg)}, opts...)...)
	if _, err := m.AddSystem(systemFake, dispatch.Config{}, 1, 0); err != nil {
		t.Fatalf("AddSystem: %v", err)
	}
	return m
}

func runTicks(m *Mixer, n int) []float32 {
	buf := make([]float32, n*100*2)
	m.Process(buf)
	return buf
}

func TestUnknownSystem(t *testing.T) {
	m := New(44100, WithRegistry(platform.NewRegistry()))
	if _, err := m.AddSystem(platform.SystemNES, dispatch.Config{}, 1, 0); !errors.Is(err, platform.ErrUnknownSystem) {
		t.Fatalf("err = %v, want ErrUnknownSystem", err)
	}
	if m.Slots() != 0 {
		t.Fatalf("failed system took a slot")
	}
}

func TestScheduledCommandsRunInOrder(t *testing.T) {
	chip := &fakeChip{outputs: 1, rate: 6000}
	m := newFakeMixer(t, chip)
	m.Schedule(2, 0, dispatch.NoteOff(0))
	m.Schedule(1, 0, dispatch.NoteOn(0, 60))
	m.Schedule(1, 0, dispatch.Volume(0, 7))
	runTicks(m, 3)

	want := []event{
		{1, dispatch.NoteOn(0, 60)},
		{1, dispatch.Volume(0, 7)},
		{2, dispatch.NoteOff(0)},
	}
	got := chip.events[1:] // the first is the channel count query
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
	if m.CurrentTick() != 3 {
		t.Fatalf("CurrentTick = %d, want 3", m.CurrentTick())
	}
}

func TestScheduleUnknownSlot(t *testing.T) {
	m := newFakeMixer(t, &fakeChip{outputs: 1, rate: 6000})
	if err := m.Schedule(0, 3, dispatch.NoteOff(0)); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("err = %v, want ErrNoSlot", err)
	}
}

func TestNotePortaRepeatsUntilArrival(t *testing.T) {
	chip := &fakeChip{outputs: 1, rate: 6000, portaLeft: 3}
	m := newFakeMixer(t, chip)
	m.Schedule(0, 0, dispatch.NotePorta(0, 10, 64))
	runTicks(m, 6)
	portas := chip.commands(dispatch.CmdNotePorta)
	if len(portas) != 3 {
		t.Fatalf("porta dispatched %d times, want 3", len(portas))
	}
	for i, e := range portas {
		if e.tick != i {
			t.Fatalf("porta step %d ran at tick %d", i, e.tick)
		}
	}
}

func TestNoteOffStopsSlide(t *testing.T) {
	chip := &fakeChip{outputs: 1, rate: 6000, portaLeft: 100}
	m := newFakeMixer(t, chip)
	m.Schedule(0, 0, dispatch.NotePorta(0, 10, 64))
	m.Schedule(2, 0, dispatch.NoteOff(0))
	runTicks(m, 5)
	if n := len(chip.commands(dispatch.CmdNotePorta)); n != 2 {
		t.Fatalf("porta dispatched %d times, want 2", n)
	}
}

func TestFinished(t *testing.T) {
	chip := &fakeChip{outputs: 1, rate: 6000}
	m := newFakeMixer(t, chip, WithTail(2))
	m.Schedule(3, 0, dispatch.NoteOff(0))
	runTicks(m, 4)
	if m.Finished() {
		t.Fatalf("finished inside the tail")
	}
	runTicks(m, 2)
	if !m.Finished() {
		t.Fatalf("not finished at tick %d", m.CurrentTick())
	}
}

func TestMonoChipFeedsBothSides(t *testing.T) {
	m := New(44100)
	if _, err := m.AddSystem(platform.SystemDummy, dispatch.Config{}, 0.5, 0); err != nil {
		t.Fatal(err)
	}
	m.Schedule(0, 0, dispatch.NoteOn(0, 69))
	buf := make([]float32, 4096)
	m.Process(buf)
	var energy float64
	for i := 0; i < len(buf); i += 2 {
		if buf[i] != buf[i+1] {
			t.Fatalf("frame %d: L %v != R %v", i/2, buf[i], buf[i+1])
		}
		energy += float64(buf[i] * buf[i])
	}
	if energy == 0 {
		t.Fatalf("no signal")
	}
}

func TestPanHardLeft(t *testing.T) {
	m := New(44100)
	if _, err := m.AddSystem(platform.SystemDummy, dispatch.Config{}, 1, -1); err != nil {
		t.Fatal(err)
	}
	m.Schedule(0, 0, dispatch.NoteOn(0, 69))
	buf := make([]float32, 4096)
	m.Process(buf)
	var left float64
	for i := 0; i < len(buf); i += 2 {
		if buf[i+1] != 0 {
			t.Fatalf("right channel has signal at frame %d", i/2)
		}
		left += math.Abs(float64(buf[i]))
	}
	if left == 0 {
		t.Fatalf("left channel silent")
	}
}

func TestTwoOutputsRouteToSides(t *testing.T) {
	chip := &fakeChip{outputs: 2, rate: 6000, square: true}
	m := newFakeMixer(t, chip)
	buf := runTicks(m, 4)
	var left float64
	for i := 0; i < len(buf); i += 2 {
		if buf[i+1] != 0 {
			t.Fatalf("right has signal at frame %d", i/2)
		}
		left += math.Abs(float64(buf[i]))
	}
	if left == 0 {
		t.Fatalf("left silent")
	}
}

func TestLargeBlocksGrowBuffers(t *testing.T) {
	// 40 chip clocks per output sample: a 1024 frame block needs 40960
	chip := &fakeChip{outputs: 1, rate: 6000 * 40}
	m := newFakeMixer(t, chip, WithTickRate(1))
	runTicks(m, 11)
	c := m.slots[0].c
	if c.BufferLen() <= container.DefaultBufferSize {
		t.Fatalf("BufferLen = %d, want growth past %d", c.BufferLen(), container.DefaultBufferSize)
	}
	if m.slots[0].lastSize == 0 {
		t.Fatalf("nothing rendered")
	}
}

func TestOscilloscopeAndRegisters(t *testing.T) {
	m := New(44100, WithBlockSize(512))
	if _, err := m.AddSystem(platform.SystemNES, dispatch.Config{}, 1, 0); err != nil {
		t.Fatal(err)
	}
	m.Schedule(0, 0, dispatch.NoteOn(0, 60))
	m.Process(make([]float32, 2048))
	scope := m.Oscilloscope(0, 0)
	if len(scope) == 0 || len(scope) > 512 {
		t.Fatalf("scope length = %d", len(scope))
	}
	if m.Oscilloscope(0, 5) != nil || m.Oscilloscope(9, 0) != nil {
		t.Fatalf("missing outputs should have no scope")
	}
	regs := m.RegisterPool(0)
	if len(regs) != 0x18 {
		t.Fatalf("register pool length = %d, want 0x18", len(regs))
	}
	regs[0] = 0xaa
	if m.RegisterPool(0)[0] == 0xaa {
		t.Fatalf("RegisterPool returned the live slice")
	}
}

func TestInstrumentsNotifyChips(t *testing.T) {
	chip := &fakeChip{outputs: 1, rate: 6000}
	m := newFakeMixer(t, chip)
	ins := &dispatch.Instrument{Name: "bass", Volume: 9}
	m.SetInstrument(0, ins)
	m.DeleteInstrument(4)
	if len(chip.notified) != 1 || chip.notified[0] != 0 {
		t.Fatalf("notified = %v", chip.notified)
	}
	if len(chip.deleted) != 1 || chip.deleted[0] != 4 {
		t.Fatalf("deleted = %v", chip.deleted)
	}
	runTicks(m, 1)
	if chip.lastLookup != ins {
		t.Fatalf("chip did not see the instrument through the host")
	}
}

func TestMuteForcesInstrument(t *testing.T) {
	chip := &fakeChip{outputs: 1, rate: 6000}
	m := newFakeMixer(t, chip)
	if err := m.Mute(0, 1, true); err != nil {
		t.Fatal(err)
	}
	if !chip.muted[1] || chip.forced != 1 {
		t.Fatalf("muted = %v forced = %d", chip.muted, chip.forced)
	}
	if err := m.Mute(7, 1, true); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("err = %v, want ErrNoSlot", err)
	}
}

func TestRemoveKeepsIndices(t *testing.T) {
	chip := &fakeChip{outputs: 1, rate: 6000}
	m := newFakeMixer(t, chip)
	second, err := m.AddSystem(platform.SystemDummy, dispatch.Config{}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	m.Schedule(1, 0, dispatch.NoteOn(0, 60))
	if err := m.Remove(0); err != nil {
		t.Fatal(err)
	}
	runTicks(m, 2)
	if n := len(chip.commands(dispatch.CmdNoteOn)); n != 0 {
		t.Fatalf("removed slot received %d note ons", n)
	}
	if _, err := m.Command(second, dispatch.NoteOn(0, 60)); err != nil {
		t.Fatalf("slot %d: %v", second, err)
	}
	if err := m.Remove(0); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("second Remove err = %v", err)
	}
}

func TestResetRewinds(t *testing.T) {
	chip := &fakeChip{outputs: 1, rate: 6000}
	m := newFakeMixer(t, chip)
	m.Schedule(10, 0, dispatch.NoteOn(0, 60))
	runTicks(m, 3)
	m.Reset()
	if m.CurrentTick() != 0 {
		t.Fatalf("CurrentTick = %d after Reset", m.CurrentTick())
	}
	runTicks(m, 12)
	if n := len(chip.commands(dispatch.CmdNoteOn)); n != 0 {
		t.Fatalf("dropped command ran %d times", n)
	}
}

func TestSetRateKeepsPlaying(t *testing.T) {
	m := New(44100)
	if _, err := m.AddSystem(platform.SystemPSG, dispatch.Config{}, 1, 0); err != nil {
		t.Fatal(err)
	}
	m.Schedule(0, 0, dispatch.NoteOn(0, 57))
	m.Process(make([]float32, 1024))
	m.SetRate(22050)
	m.SetQuality(true)
	buf := make([]float32, 1024)
	m.Process(buf)
	var energy float64
	for _, v := range buf {
		energy += float64(v * v)
	}
	if energy == 0 {
		t.Fatalf("silent after rate change")
	}
}

func TestConcurrentCommands(t *testing.T) {
	m := New(44100)
	if _, err := m.AddSystem(platform.SystemWave, dispatch.Config{}, 1, 0); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			m.Command(0, dispatch.NoteOn(i%4, 48+i%12))
			m.SetInstrument(i%3, &dispatch.Instrument{Volume: i % 16})
		}
	}()
	buf := make([]float32, 512)
	for i := 0; i < 50; i++ {
		m.Process(buf)
	}
	wg.Wait()
}

func BenchmarkProcess(b *testing.B) {
	m := New(44100)
	for _, id := range []platform.SystemID{platform.SystemNES, platform.SystemPSG, platform.SystemWave} {
		if _, err := m.AddSystem(id, dispatch.Config{}, 0.3, 0); err != nil {
			b.Fatal(err)
		}
	}
	for s := 0; s < 3; s++ {
		m.Schedule(0, s, dispatch.NoteOn(0, 60+s*4))
	}
	buf := make([]float32, 2048)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Process(buf)
	}
}
