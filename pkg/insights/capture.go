package insights

import (
	"math"
	"sync"
	"sync/atomic"
)

// Microphone opens capture streams. Every buffer is handed to onBuffer; the
// slice must not be retained by the microphone after the call.
type Microphone interface {
	Open(sampleRate, bufferSize int, deviceID *int, onBuffer func([]float32)) (InputStream, error)
}

// InputStream is an opened microphone stream.
type InputStream interface {
	Start() error
	Stop() error
	Close() error
}

// FrameLink is the capture pipeline's only view of the connection.
type FrameLink interface {
	IsOpen() bool
	SendFrame(frame AudioFrame) error
}

// Frame drop reasons, used as metric labels.
const (
	dropNotOpen      = "not_open"
	dropStopped      = "stopped"
	dropBackpressure = "backpressure"
	dropSendError    = "send_error"
)

// AudioConfig configures an AudioCapture.
type AudioConfig struct {
	// DeviceID selects an input device; nil means the system default.
	DeviceID *int
	// Post, if set, moves buffer delivery off the microphone thread. It must
	// not block and reports false when the buffer was not accepted.
	Post    func(func()) bool
	OnState CaptureHandler
	Logger  *Logger
	Metrics *Metrics
}

// AudioCapture pulls buffers from the microphone, encodes them and pushes
// them through a FrameLink while the link is open. Nothing is queued.
type AudioCapture struct {
	mic      Microphone
	link     FrameLink
	deviceID *int
	post     func(func()) bool
	onState  CaptureHandler
	logger   *Logger
	metrics  *Metrics

	mu     sync.Mutex
	state  CaptureState
	stream InputStream
	gen    uint64

	level atomic.Uint32
}

func NewAudioCapture(config *AudioConfig, mic Microphone, link FrameLink) *AudioCapture {
	if config == nil {
		config = &AudioConfig{}
	}
	logger := config.Logger
	if logger == nil {
		logger = GetGlobalLogger()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &AudioCapture{
		mic:      mic,
		link:     link,
		deviceID: config.DeviceID,
		post:     config.Post,
		onState:  config.OnState,
		logger:   logger.WithComponent("capture"),
		metrics:  metrics,
		state:    CaptureStopped,
	}
}

// Start opens the microphone and begins streaming. Calling Start while already
// starting or running is a no-op.
func (c *AudioCapture) Start() error {
	c.mu.Lock()
	if c.state != CaptureStopped {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = CaptureStarting
	c.mu.Unlock()
	c.notify(CaptureStarting)

	stream, err := c.mic.Open(SampleRate, BufferSize, c.deviceID, func(samples []float32) {
		c.onBuffer(gen, samples)
	})
	if err != nil {
		c.abortStart(gen)
		e := WrapError(err, ErrCodeMicrophoneUnavailable)
		c.logger.LogError(e)
		return e
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		c.abortStart(gen)
		e := WrapError(err, ErrCodeMicrophoneUnavailable)
		c.logger.LogError(e)
		return e
	}

	c.mu.Lock()
	if c.gen != gen || c.state != CaptureStarting {
		// Stopped while the device was opening.
		c.mu.Unlock()
		_ = stream.Stop()
		_ = stream.Close()
		return nil
	}
	c.stream = stream
	c.state = CaptureRunning
	c.mu.Unlock()

	c.logger.LogAudioEvent("capture_started", map[string]interface{}{
		"sample_rate": SampleRate,
		"buffer_size": BufferSize,
	})
	c.notify(CaptureRunning)
	return nil
}

func (c *AudioCapture) abortStart(gen uint64) {
	c.mu.Lock()
	aborted := c.gen == gen && c.state == CaptureStarting
	if aborted {
		c.state = CaptureStopped
	}
	c.mu.Unlock()
	if aborted {
		c.notify(CaptureStopped)
	}
}

// Stop releases the microphone. It is safe to call at any time, any number of
// times. Once Stop returns no further frame is sent.
func (c *AudioCapture) Stop() error {
	c.mu.Lock()
	if c.state == CaptureStopped {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	c.state = CaptureStopped
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	var firstErr error
	if stream != nil {
		if err := stream.Stop(); err != nil {
			c.logger.WithError(err).Warn("Failed to stop input stream")
			firstErr = err
		}
		if err := stream.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close input stream")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.level.Store(0)
	c.logger.LogAudioEvent("capture_stopped", nil)
	c.notify(CaptureStopped)
	return firstErr
}

// State returns the current capture state.
func (c *AudioCapture) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Level returns the mean absolute amplitude of the most recent buffer.
func (c *AudioCapture) Level() float32 {
	return math.Float32frombits(c.level.Load())
}

func (c *AudioCapture) onBuffer(gen uint64, samples []float32) {
	if len(samples) > 0 {
		var sum float64
		for _, v := range samples {
			sum += math.Abs(float64(v))
		}
		c.level.Store(math.Float32bits(float32(sum / float64(len(samples)))))
	}

	if c.post == nil {
		c.deliver(gen, samples)
		return
	}
	if !c.post(func() { c.deliver(gen, samples) }) {
		c.metrics.FramesDropped.WithLabelValues(dropBackpressure).Inc()
	}
}

// deliver encodes and sends one buffer if capture is still the same run and
// the link is open. The lock is held across the send so Stop waits for it.
func (c *AudioCapture) deliver(gen uint64, samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.state != CaptureRunning {
		c.metrics.FramesDropped.WithLabelValues(dropStopped).Inc()
		return
	}
	if !c.link.IsOpen() {
		c.metrics.FramesDropped.WithLabelValues(dropNotOpen).Inc()
		return
	}

	frame := EncodePCM16(samples)
	if err := c.link.SendFrame(frame); err != nil {
		c.metrics.FramesDropped.WithLabelValues(dropSendError).Inc()
		c.logger.WithError(err).Debug("Dropped audio frame")
		return
	}
	c.metrics.FramesSent.Inc()
	c.metrics.AudioBytes.Add(float64(len(frame)))
}

func (c *AudioCapture) notify(state CaptureState) {
	if c.onState != nil {
		c.onState(state)
	}
}
