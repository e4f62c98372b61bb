package chipdispatch

import (
	"testing"
)

func TestPlayerMasterVolumeRuntimeAPI(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	if got := pl.MasterVolume(); got != 1 {
		t.Fatalf("default master volume = %v, want 1", got)
	}
	pl.SetMasterVolume(0.35)
	if got := pl.MasterVolume(); got != 0.35 {
		t.Fatalf("master volume = %v, want 0.35", got)
	}
	pl.SetMasterVolume(-2)
	if got := pl.MasterVolume(); got != 0 {
		t.Fatalf("master volume should clamp to 0, got %v", got)
	}
}

func TestNewPlayerRejectsBadRates(t *testing.T) {
	if _, err := NewPlayer(0); err == nil {
		t.Fatalf("zero sample rate accepted")
	}
	if _, err := NewPlayer(48000, WithTickRate(-1)); err == nil {
		t.Fatalf("negative tick rate accepted")
	}
}

func TestIdlePlayer(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatal(err)
	}
	pl.Wait()
	if err := pl.Stop(); err != nil {
		t.Fatalf("Stop on idle player: %v", err)
	}
	if pl.PlaybackPosition() != 0 || pl.Tick() != 0 {
		t.Fatalf("idle player reports progress")
	}
	if pl.Oscilloscope(0, 0) != nil || pl.Registers(0) != nil {
		t.Fatalf("idle player returned chip state")
	}
	if err := pl.Mute(0, 0, true); err == nil {
		t.Fatalf("Mute on idle player succeeded")
	}
	if _, err := pl.Send(0, Command{Cmd: CmdNoteOn, Value: 60}); err == nil {
		t.Fatalf("Send on idle player succeeded")
	}
}

func TestSongSourceGainAndFinish(t *testing.T) {
	cfg := defaultPlayerConfig()
	song := DemoSong(System{ID: SystemNES})
	m, err := newMixer(song, 12000, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	var tapped int
	src := newSongSource(m, 0, func(b []float32) { tapped += len(b) })
	finishes := 0
	src.onFinish = func() { finishes++ }

	buf := make([]float32, 2048)
	src.Process(buf)
	if peak(buf) != 0 {
		t.Fatalf("zero gain leaked %v", peak(buf))
	}
	src.setGain(1)
	for !src.Finished() {
		src.Process(buf)
		if m.CurrentTick() > song.Ticks()+1000 {
			t.Fatalf("song never finished")
		}
	}
	if !src.Finished() || finishes != 1 {
		t.Fatalf("finishes = %d, want 1", finishes)
	}
	if tapped == 0 {
		t.Fatalf("sample tap never ran")
	}
}
