package chat

import "time"

// StreamSpeed controls how fast received content is revealed.
type StreamSpeed int

const (
	StreamInstant StreamSpeed = iota // show chunks as they arrive
	StreamFast                       // 32 runes per tick
	StreamNormal                     // 8 runes per tick (default)
)

// String returns a human-readable label for the speed.
func (s StreamSpeed) String() string {
	switch s {
	case StreamInstant:
		return "instant"
	case StreamFast:
		return "fast"
	case StreamNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// StreamConfig holds typewriter parameters.
type StreamConfig struct {
	Speed     StreamSpeed
	ChunkSize int           // runes per tick (0 means instant)
	TickRate  time.Duration // delay between ticks
}

// defaultTickRate is used when no typewriter interval is configured.
const defaultTickRate = 16 * time.Millisecond

// StreamConfigFor builds the typewriter config for a configured tick
// interval. A non-positive interval disables the typewriter.
func StreamConfigFor(tick time.Duration) StreamConfig {
	if tick <= 0 {
		return StreamConfigForSpeed(StreamInstant, 0)
	}
	return StreamConfigForSpeed(StreamNormal, tick)
}

// StreamConfigForSpeed returns the preset for s using tick between reveals.
func StreamConfigForSpeed(s StreamSpeed, tick time.Duration) StreamConfig {
	if tick <= 0 {
		tick = defaultTickRate
	}
	switch s {
	case StreamInstant:
		return StreamConfig{Speed: StreamInstant}
	case StreamFast:
		return StreamConfig{Speed: StreamFast, ChunkSize: 32, TickRate: tick}
	default:
		return StreamConfig{Speed: StreamNormal, ChunkSize: 8, TickRate: tick}
	}
}

// CycleStreamSpeed cycles: normal → fast → instant → normal.
func CycleStreamSpeed(current StreamSpeed) StreamSpeed {
	switch current {
	case StreamNormal:
		return StreamFast
	case StreamFast:
		return StreamInstant
	default:
		return StreamNormal
	}
}
