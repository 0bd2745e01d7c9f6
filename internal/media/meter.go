package media

import (
	"math"
	"sync"
	"time"
)

// meterWindow is how many recent chunk readings the rolling average spans.
const meterWindow = 8

// meterCadence approximates display refresh.
const meterCadence = 16 * time.Millisecond

// Meter turns raw PCM chunks into a 0-100 local audio level, published at
// display-refresh cadence while audio is enabled. Disabling audio (or
// stopping the meter) resets the level to 0 immediately.
type Meter struct {
	out chan int

	mu      sync.Mutex
	window  []float64
	enabled bool
	started bool
	stopped bool

	stopOnce sync.Once
	done     chan struct{}
}

func NewMeter() *Meter {
	return &Meter{
		out:  make(chan int, 1),
		done: make(chan struct{}),
	}
}

func (m *Meter) Levels() <-chan int { return m.out }

// Start begins sampling from pcm. A nil source still publishes zeros so
// consumers can range over Levels regardless of the capture backend.
func (m *Meter) Start(pcm <-chan []int16) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.enabled = true
	m.mu.Unlock()

	go m.loop(pcm)
}

func (m *Meter) SetEnabled(on bool) {
	m.mu.Lock()
	m.enabled = on
	if !on {
		m.window = m.window[:0]
	}
	m.mu.Unlock()
}

// Stop resets the level to 0 and closes the output channel. Idempotent,
// and valid before Start: the output channel closes either way, so a
// consumer ranging over Levels always unblocks. When the loop is running
// it owns the close; otherwise Stop closes here and pins the meter shut.
func (m *Meter) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		m.stopped = true
		started := m.started
		m.mu.Unlock()
		if !started {
			close(m.out)
		}
	})
}

func (m *Meter) loop(pcm <-chan []int16) {
	ticker := time.NewTicker(meterCadence)
	defer ticker.Stop()
	defer close(m.out)

	for {
		select {
		case <-m.done:
			return
		case chunk, ok := <-pcm:
			if !ok {
				pcm = nil
				continue
			}
			m.observe(chunk)
		case <-ticker.C:
			m.mu.Lock()
			enabled := m.enabled
			level := m.average()
			m.mu.Unlock()
			if !enabled {
				level = 0
			}
			m.publish(level)
		}
	}
}

// observe folds one chunk's RMS into the rolling window.
func (m *Meter) observe(chunk []int16) {
	if len(chunk) == 0 {
		return
	}
	var sum float64
	for _, s := range chunk {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(chunk)))

	m.mu.Lock()
	if m.enabled {
		m.window = append(m.window, rms)
		if len(m.window) > meterWindow {
			m.window = m.window[1:]
		}
	}
	m.mu.Unlock()
}

// average normalizes the rolling RMS to 0-100. Full-scale int16 maps to 100.
func (m *Meter) average() int {
	if len(m.window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.window {
		sum += v
	}
	level := int(sum / float64(len(m.window)) / 327.67)
	if level > 100 {
		level = 100
	}
	return level
}

// publish never blocks: a slow consumer just sees the newest level.
// Only the meter loop calls this, so the send cannot race the close.
func (m *Meter) publish(level int) {
	select {
	case m.out <- level:
	default:
		select {
		case <-m.out:
		default:
		}
		select {
		case m.out <- level:
		default:
		}
	}
}
