package core

import "time"

const AVG_COUNT uint8 = 30

// Metrics keeps a rolling frame-time average and a once-per-second FPS count.
// It belongs to the render loop and is not safe for concurrent use.
type Metrics struct {
	frameAVGCounter    uint8
	frameTimes         [AVG_COUNT]time.Duration
	frameTimeAVG       time.Duration
	frames             int32
	accumulatedFrameMS time.Duration
	fps                float64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Update(frameElapsedTime time.Duration) {
	// Calculate frame average
	m.frameTimes[m.frameAVGCounter] = frameElapsedTime
	if m.frameAVGCounter == AVG_COUNT-1 {
		var sum time.Duration
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.frameTimes[i]
		}
		m.frameTimeAVG = sum / time.Duration(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Count all frames.
	m.frames++

	// Calculate frames per second.
	m.accumulatedFrameMS += frameElapsedTime
	if m.accumulatedFrameMS >= time.Second {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= time.Second
		m.frames = 0
	}
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

func (m *Metrics) FrameTime() time.Duration {
	return m.frameTimeAVG
}

func (m *Metrics) Frame() (float64, time.Duration) {
	return m.fps, m.frameTimeAVG
}
