package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loudChunk(n int, amplitude int16) []int16 {
	chunk := make([]int16, n)
	for i := range chunk {
		if i%2 == 0 {
			chunk[i] = amplitude
		} else {
			chunk[i] = -amplitude
		}
	}
	return chunk
}

func drainUntil(t *testing.T, levels <-chan int, match func(int) bool) int {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case level, ok := <-levels:
			require.True(t, ok, "levels channel closed early")
			if match(level) {
				return level
			}
		case <-deadline:
			t.Fatal("no matching level published in time")
		}
	}
}

func TestMeterPublishesLevelFromPCM(t *testing.T) {
	m := NewMeter()
	pcm := make(chan []int16, 4)
	m.Start(pcm)
	defer m.Stop()

	pcm <- loudChunk(480, 16384)

	level := drainUntil(t, m.Levels(), func(l int) bool { return l > 0 })
	assert.LessOrEqual(t, level, 100)
}

func TestMeterSilenceIsZero(t *testing.T) {
	m := NewMeter()
	pcm := make(chan []int16, 4)
	m.Start(pcm)
	defer m.Stop()

	pcm <- make([]int16, 480)

	drainUntil(t, m.Levels(), func(l int) bool { return l == 0 })
}

func TestMeterResetsWhenDisabled(t *testing.T) {
	m := NewMeter()
	pcm := make(chan []int16, 4)
	m.Start(pcm)
	defer m.Stop()

	pcm <- loudChunk(480, 16384)
	drainUntil(t, m.Levels(), func(l int) bool { return l > 0 })

	m.SetEnabled(false)
	drainUntil(t, m.Levels(), func(l int) bool { return l == 0 })

	// While disabled, incoming audio must not leak through.
	pcm <- loudChunk(480, 16384)
	level := drainUntil(t, m.Levels(), func(l int) bool { return true })
	assert.Zero(t, level)

	// Re-enabling resumes from a clean window.
	m.SetEnabled(true)
	pcm <- loudChunk(480, 8192)
	drainUntil(t, m.Levels(), func(l int) bool { return l > 0 })
}

func TestMeterFullScaleCapsAtHundred(t *testing.T) {
	m := NewMeter()
	pcm := make(chan []int16, 4)
	m.Start(pcm)
	defer m.Stop()

	for i := 0; i < meterWindow; i++ {
		pcm <- loudChunk(480, 32767)
	}

	level := drainUntil(t, m.Levels(), func(l int) bool { return l > 0 })
	assert.Equal(t, 100, level)
}

func TestMeterStopClosesLevels(t *testing.T) {
	m := NewMeter()
	m.Start(nil)

	m.Stop()
	m.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-m.Levels():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("levels channel not closed after stop")
		}
	}
}

func TestMeterStopBeforeStartClosesLevels(t *testing.T) {
	m := NewMeter()

	m.Stop()
	m.Stop()

	// A consumer ranging over Levels unblocks even though the sampling
	// loop never ran.
	select {
	case _, ok := <-m.Levels():
		assert.False(t, ok)
	default:
		t.Fatal("levels channel not closed after stop")
	}

	// A late Start stays shut: no goroutine, no double close.
	m.Start(nil)
	select {
	case _, ok := <-m.Levels():
		assert.False(t, ok)
	default:
		t.Fatal("levels channel reopened by a late start")
	}
}

func TestMeterNilSourcePublishesZeros(t *testing.T) {
	m := NewMeter()
	m.Start(nil)
	defer m.Stop()

	level := drainUntil(t, m.Levels(), func(l int) bool { return true })
	assert.Zero(t, level)
}
