package chipdispatch

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"flag"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/cbegin/chipdispatch-go/internal/dispatch"
	"github.com/cbegin/chipdispatch-go/internal/platform"
)

var updateGolden = flag.Bool("update", false, "rewrite testdata golden hashes")

func TestGoldenWAVSnapshot(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		systems []System
	}{
		{"default", "golden_demo_default.sha256", nil},
		{"sn76489", "golden_demo_sn76489.sha256", []System{{ID: SystemPSGTI}}},
		{"wave", "golden_demo_wave.sha256", []System{{ID: SystemWave}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "demo.wav")
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := RenderWAV(f, DemoSong(tc.systems...), 48000, 0, 1.2); err != nil {
				t.Fatalf("render: %v", err)
			}
			f.Close()
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			sum := sha256.Sum256(data)
			got := hex.EncodeToString(sum[:])

			golden := filepath.Join("testdata", tc.file)
			raw, err := os.ReadFile(golden)
			if *updateGolden || errors.Is(err, os.ErrNotExist) {
				if err := os.MkdirAll("testdata", 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(golden, []byte(got+"\n"), 0o644); err != nil {
					t.Fatalf("write golden hash: %v", err)
				}
				t.Skipf("recorded %s = %s", golden, got)
			}
			if err != nil {
				t.Fatalf("read golden hash: %v", err)
			}
			want := strings.TrimSpace(string(raw))
			if got != want {
				t.Fatalf("golden mismatch\nwant: %s\ngot:  %s", want, got)
			}
		})
	}
}

func hashSamples(samples []float32) string {
	h := sha256.New()
	var b [4]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(s))
		h.Write(b[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func peak(samples []float32) float64 {
	var p float64
	for _, s := range samples {
		p = max(p, math.Abs(float64(s)))
	}
	return p
}

func TestRenderIsDeterministic(t *testing.T) {
	cases := []struct {
		name    string
		systems []System
	}{
		{"default", nil},
		{"nes", []System{{ID: SystemNES}}},
		{"sn76489", []System{{ID: SystemPSGTI}}},
		{"wave", []System{{ID: SystemWave, Pan: 0.5}}},
		{"dummy", []System{{ID: SystemDummy}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := RenderSamples(DemoSong(tc.systems...), 48000, 1.2)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			b, err := RenderSamples(DemoSong(tc.systems...), 48000, 1.2)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if len(a) != 2*int(48000*1.2) {
				t.Fatalf("len = %d, want %d", len(a), 2*int(48000*1.2))
			}
			if ha, hb := hashSamples(a), hashSamples(b); ha != hb {
				t.Fatalf("renders differ\nfirst:  %s\nsecond: %s", ha, hb)
			}
			if p := peak(a); p < 0.01 || p > 1 {
				t.Fatalf("peak = %v, want audible and within [-1, 1]", p)
			}
		})
	}
}

func TestRenderUntilFinished(t *testing.T) {
	song := DemoSong(System{ID: SystemNES})
	out, err := RenderSamples(song, 22050, 0)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// events plus the one second release tail, rounded up to a chunk
	minFrames := int(float64(song.Ticks()+60) * 22050 / 60)
	if frames := len(out) / 2; frames < minFrames || frames > minFrames+2*renderChunk {
		t.Fatalf("frames = %d, want about %d", frames, minFrames)
	}
}

func TestLowQualityStillRenders(t *testing.T) {
	hi, err := RenderSamples(DemoSong(), 44100, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	lo, err := RenderSamples(DemoSong(), 44100, 0.5, WithLowQuality(true))
	if err != nil {
		t.Fatal(err)
	}
	if peak(lo) < 0.01 {
		t.Fatalf("low quality render is silent")
	}
	if hashSamples(hi) == hashSamples(lo) {
		t.Fatalf("low quality render matches the band-limited one")
	}
}

func TestSampleTapSeesEveryFrame(t *testing.T) {
	var frames int
	out, err := RenderSamples(DemoSong(), 48000, 0.25, WithSampleTap(func(b []float32) {
		frames += len(b) / 2
	}))
	if err != nil {
		t.Fatal(err)
	}
	if frames != len(out)/2 {
		t.Fatalf("tap saw %d frames, want %d", frames, len(out)/2)
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	if _, err := RenderSamples(DemoSong(), 0, 1); err == nil {
		t.Fatalf("zero sample rate accepted")
	}
	if _, err := RenderSamples(&Song{Name: "empty"}, 48000, 1); err == nil {
		t.Fatalf("song without systems accepted")
	}
	_, err := RenderSamples(DemoSong(System{ID: platform.SystemID(99)}), 48000, 1)
	if !errors.Is(err, platform.ErrUnknownSystem) {
		t.Fatalf("err = %v, want ErrUnknownSystem", err)
	}
	bad := DemoSong(System{ID: SystemNES})
	bad.Add(0, 3, dispatch.NoteOn(0, 60))
	if _, err := RenderSamples(bad, 48000, 1); err == nil {
		t.Fatalf("event on a missing slot accepted")
	}
}

func TestRenderWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := RenderWAV(f, DemoSong(), 48000, 44100, 0.5); err != nil {
		t.Fatalf("RenderWAV: %v", err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		t.Fatalf("invalid wav")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if d.SampleRate != 44100 || d.NumChans != 2 {
		t.Fatalf("format = %d Hz %d ch", d.SampleRate, d.NumChans)
	}
	nonZero := 0
	for _, v := range buf.Data {
		if v != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Fatalf("wav is silent")
	}
}

func TestDemoSongShape(t *testing.T) {
	song := DemoSong(System{ID: SystemNES}, System{ID: SystemWave}, System{ID: SystemPSG})
	if len(song.Systems) != 3 {
		t.Fatalf("systems = %d", len(song.Systems))
	}
	seen := map[int]bool{}
	portas := 0
	for _, e := range song.Events {
		seen[e.Slot] = true
		if e.Cmd.Cmd == dispatch.CmdNotePorta {
			portas++
		}
	}
	if len(seen) != 3 || portas != 3 {
		t.Fatalf("slots = %v, portas = %d", seen, portas)
	}
	if song.Ticks() <= 0 {
		t.Fatalf("ticks = %d", song.Ticks())
	}
}

func BenchmarkRenderDemo(b *testing.B) {
	song := DemoSong()
	for i := 0; i < b.N; i++ {
		if _, err := RenderSamples(song, 48000, 1); err != nil {
			b.Fatal(err)
		}
	}
}
