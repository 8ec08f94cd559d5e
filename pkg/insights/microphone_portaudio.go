package insights

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioMicrophone captures from a local input device through PortAudio.
type PortAudioMicrophone struct{}

func NewPortAudioMicrophone() *PortAudioMicrophone {
	return &PortAudioMicrophone{}
}

// Open initializes PortAudio and opens a mono float32 input stream. Each
// callback buffer is copied before it is handed on.
func (m *PortAudioMicrophone) Open(sampleRate, bufferSize int, deviceID *int, onBuffer func([]float32)) (InputStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	callback := func(in []float32) {
		buf := make([]float32, len(in))
		copy(buf, in)
		onBuffer(buf)
	}

	var (
		stream *portaudio.Stream
		err    error
	)
	if deviceID == nil {
		stream, err = portaudio.OpenDefaultStream(Channels, 0, float64(sampleRate), bufferSize, callback)
	} else {
		var dev *portaudio.DeviceInfo
		dev, err = inputDeviceByID(*deviceID)
		if err == nil {
			params := portaudio.LowLatencyParameters(dev, nil)
			params.Input.Channels = Channels
			params.SampleRate = float64(sampleRate)
			params.FramesPerBuffer = bufferSize
			stream, err = portaudio.OpenStream(params, callback)
		}
	}
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	return &portAudioStream{stream: stream}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	once   sync.Once
}

func (s *portAudioStream) Start() error { return s.stream.Start() }

func (s *portAudioStream) Stop() error { return s.stream.Stop() }

// Close releases the stream and the PortAudio reference taken by Open.
func (s *portAudioStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.stream.Close()
		if terr := portaudio.Terminate(); err == nil {
			err = terr
		}
	})
	return err
}

func inputDeviceByID(id int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("device with ID %d not found", id)
	}
	dev := devices[id]
	if dev.MaxInputChannels < Channels {
		return nil, fmt.Errorf("device '%s' is not an input device", dev.Name)
	}
	return dev, nil
}
