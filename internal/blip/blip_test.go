package blip

import (
	"errors"
	"testing"
)

func TestNewRejectsBadSizes(t *testing.T) {
	for _, size := range []int{0, -1, MaxSize + 1} {
		if _, err := New(size); !errors.Is(err, ErrSize) {
			t.Fatalf("New(%d) err = %v, want ErrSize", size, err)
		}
	}
}

func TestSetRatesRejectsBadRates(t *testing.T) {
	b, err := New(1024)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cases := [][2]float64{{0, 44100}, {44100, 0}, {-1, 44100}, {44100 * (MaxRatio + 1), 44100}}
	for _, c := range cases {
		if err := b.SetRates(c[0], c[1]); !errors.Is(err, ErrRate) {
			t.Fatalf("SetRates(%v, %v) err = %v, want ErrRate", c[0], c[1], err)
		}
	}
	if err := b.SetRates(1789773, 48000); err != nil {
		t.Fatalf("SetRates: %v", err)
	}
}

func TestClocksNeededProducesExactCount(t *testing.T) {
	b, _ := New(4096)
	if err := b.SetRates(44100, 22050); err != nil {
		t.Fatalf("SetRates: %v", err)
	}
	clocks := b.ClocksNeeded(256)
	if clocks != 512 {
		t.Fatalf("ClocksNeeded(256) = %d, want 512", clocks)
	}
	b.EndFrame(clocks)
	if got := b.SamplesAvail(); got != 256 {
		t.Fatalf("SamplesAvail = %d, want 256", got)
	}
	out := make([]int16, 300)
	if got := b.ReadSamples(out, 300, Mono); got != 256 {
		t.Fatalf("ReadSamples = %d, want 256 (short read)", got)
	}
	if b.SamplesAvail() != 0 {
		t.Fatalf("samples should be consumed")
	}
}

func TestStepResponseSettles(t *testing.T) {
	for _, fast := range []bool{false, true} {
		b, _ := New(4096)
		if err := b.SetRates(96000, 48000); err != nil {
			t.Fatalf("SetRates: %v", err)
		}
		if fast {
			b.AddDeltaFast(10, 10000)
		} else {
			b.AddDelta(10, 10000)
		}
		b.EndFrame(128)
		out := make([]int16, 64)
		n := b.ReadSamples(out, 64, Mono)
		if n != 64 {
			t.Fatalf("read %d samples, want 64", n)
		}
		if out[0] != 0 {
			t.Fatalf("fast=%v: first sample = %d, want 0 before the step", fast, out[0])
		}
		for i := 20; i < 30; i++ {
			if out[i] < 9000 || out[i] > 10500 {
				t.Fatalf("fast=%v: sample %d = %d, want close to 10000", fast, i, out[i])
			}
		}
	}
}

func TestStereoReadInterleaves(t *testing.T) {
	b, _ := New(256)
	b.AddDelta(0, 5000)
	b.EndFrame(b.ClocksNeeded(32))
	out := make([]int16, 64)
	for i := range out {
		out[i] = -1
	}
	if n := b.ReadSamples(out, 32, Stereo); n != 32 {
		t.Fatalf("read %d, want 32", n)
	}
	for i := 1; i < len(out); i += 2 {
		if out[i] != -1 {
			t.Fatalf("odd element %d was written", i)
		}
	}
}

func TestResizeKeepsPendingSamples(t *testing.T) {
	b, _ := New(64)
	b.AddDelta(0, 8000)
	b.EndFrame(b.ClocksNeeded(40))
	avail := b.SamplesAvail()
	if err := b.Resize(10); !errors.Is(err, ErrSize) {
		t.Fatalf("shrinking below available should fail, got %v", err)
	}
	if err := b.Resize(1024); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if b.Size() != 1024 || b.SamplesAvail() != avail {
		t.Fatalf("size=%d avail=%d, want 1024/%d", b.Size(), b.SamplesAvail(), avail)
	}
	out := make([]int16, avail)
	b.ReadSamples(out, avail, Mono)
	if out[avail-1] < 7000 {
		t.Fatalf("step lost across resize: last sample %d", out[avail-1])
	}
}

func TestOutOfRangeDeltaIsDropped(t *testing.T) {
	b, _ := New(16)
	b.AddDelta(1<<30, 1000)
	b.AddDeltaFast(1<<30, 1000)
	b.AddDelta(-1, 1000)
	b.EndFrame(b.ClocksNeeded(16))
	out := make([]int16, 16)
	b.ReadSamples(out, 16, Mono)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %d, want silence", i, s)
		}
	}
}

func BenchmarkAddDelta(b *testing.B) {
	buf, _ := New(8192)
	_ = buf.SetRates(1789773.0/8, 48000)
	out := make([]int16, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clocks := buf.ClocksNeeded(1024)
		for t := 0; t < clocks; t++ {
			buf.AddDelta(t, (t&64)-32)
		}
		buf.EndFrame(clocks)
		buf.ReadSamples(out, 1024, Mono)
	}
}
