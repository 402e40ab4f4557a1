package audio_test

import (
	"testing"

	"github.com/mentorverse/liplink/pkg/audio"
)

func TestInt16RoundTrip(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}

	got := audio.BytesToInt16s(audio.Int16sToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16s_OddTrailingByteIgnored(t *testing.T) {
	t.Parallel()
	got := audio.BytesToInt16s([]byte{0x01, 0x00, 0xff})
	if len(got) != 1 {
		t.Fatalf("length: got %d, want 1", len(got))
	}
	if got[0] != 1 {
		t.Errorf("sample: got %d, want 1", got[0])
	}
}

func TestFloat32Conversion(t *testing.T) {
	t.Parallel()
	f := audio.Int16sToFloat32([]int16{0, 16384, -16384, 32767, -32768})

	if f[0] != 0 {
		t.Errorf("zero sample: got %f", f[0])
	}
	if f[1] != 0.5 {
		t.Errorf("half-scale sample: got %f, want 0.5", f[1])
	}
	if f[2] != -0.5 {
		t.Errorf("negative half-scale: got %f, want -0.5", f[2])
	}
	if f[4] != -1.0 {
		t.Errorf("full-scale negative: got %f, want -1", f[4])
	}

	back := audio.Float32ToInt16s(f)
	if back[1] != 16384 || back[2] != -16384 || back[4] != -32768 {
		t.Errorf("round trip: got %v", back)
	}
}

func TestFloat32ToInt16s_Clamps(t *testing.T) {
	t.Parallel()
	got := audio.Float32ToInt16s([]float32{2.0, -2.0})
	if got[0] != 32767 {
		t.Errorf("positive overflow: got %d, want 32767", got[0])
	}
	if got[1] != -32768 {
		t.Errorf("negative overflow: got %d, want -32768", got[1])
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	t.Parallel()
	// 10 samples at 16 kHz should become 30 at 48 kHz.
	in := audio.Int16sToBytes(make([]int16, 10))
	out := audio.ResampleMono16(in, 16000, 48000)
	if len(out) != 60 {
		t.Errorf("output bytes: got %d, want 60", len(out))
	}
}

func TestResampleMono16_SameRateUnchanged(t *testing.T) {
	t.Parallel()
	in := audio.Int16sToBytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return input unchanged")
	}
}

func TestResampleMonoFloat32_ConstantSignalPreserved(t *testing.T) {
	t.Parallel()
	in := make([]float32, 160)
	for i := range in {
		in[i] = 0.25
	}
	out := audio.ResampleMonoFloat32(in, 16000, 48000)
	if len(out) != 480 {
		t.Fatalf("output samples: got %d, want 480", len(out))
	}
	for i, s := range out {
		if s != 0.25 {
			t.Fatalf("sample %d: got %f, want 0.25", i, s)
		}
	}
}
