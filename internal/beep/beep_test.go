package beep

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestSquareWave(t *testing.T) {
	wave := SquareWave(SampleRate/4, time.Second/SampleRate*8)

	if len(wave) != 8*4 {
		t.Fatalf("len = %d, want 32 bytes", len(wave))
	}

	want := []float32{amplitude, amplitude, -amplitude, -amplitude, amplitude, amplitude, -amplitude, -amplitude}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(wave[i*4:]))
		if got != w {
			t.Errorf("sample %d = %v, want %v", i, got, w)
		}
	}
}
