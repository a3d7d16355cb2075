package chat

import (
	"testing"
	"time"
)

func TestStreamConfigFor(t *testing.T) {
	if cfg := StreamConfigFor(0); cfg.Speed != StreamInstant || cfg.ChunkSize != 0 {
		t.Errorf("zero interval: %+v", cfg)
	}
	cfg := StreamConfigFor(30 * time.Millisecond)
	if cfg.Speed != StreamNormal || cfg.ChunkSize != 8 || cfg.TickRate != 30*time.Millisecond {
		t.Errorf("30ms: %+v", cfg)
	}
}

func TestCycleStreamSpeed(t *testing.T) {
	s := StreamNormal
	want := []StreamSpeed{StreamFast, StreamInstant, StreamNormal}
	for _, w := range want {
		s = CycleStreamSpeed(s)
		if s != w {
			t.Fatalf("got %v, want %v", s, w)
		}
	}
	if StreamSpeed(9).String() != "unknown" {
		t.Error("unexpected label for invalid speed")
	}
}
