package insights

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefault         bool    `json:"is_default"`
	HostAPI           string  `json:"host_api"`
}

// ListInputDevices returns every device that can capture at least one channel.
// IDs are positions in PortAudio's device list and are what AudioConfig.DeviceID expects.
func ListInputDevices() ([]AudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	logger := GetGlobalLogger().WithComponent("devices")

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		logger.WithError(err).Warn("No default input device")
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	out := make([]AudioDevice, 0, len(devices))
	for i, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		hostAPIName := "Unknown"
		if dev.HostApi != nil {
			hostAPIName = dev.HostApi.Name
		}
		out = append(out, AudioDevice{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         defaultInput != nil && dev == defaultInput,
			HostAPI:           hostAPIName,
		})
	}
	logger.WithField("device_count", len(out)).Debug("Listed input devices")
	return out, nil
}

// FindDevice returns the device with the given ID.
func FindDevice(devices []AudioDevice, id int) (*AudioDevice, error) {
	for i := range devices {
		if devices[i].ID == id {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("device with ID %d not found", id)
}

// ValidateDevice checks that device can capture mono audio at the fixed rate.
// A default rate far from SampleRate is allowed (PortAudio resamples) but reported.
func ValidateDevice(device AudioDevice) (warnings []string, err error) {
	if device.MaxInputChannels < Channels {
		return nil, fmt.Errorf("device '%s' supports max %d input channels, requested %d",
			device.Name, device.MaxInputChannels, Channels)
	}
	if device.DefaultSampleRate > 0 {
		ratio := SampleRate / device.DefaultSampleRate
		if ratio < 0.25 || ratio > 2.0 {
			warnings = append(warnings, fmt.Sprintf("default sample rate %.0f Hz differs from %d Hz", device.DefaultSampleRate, SampleRate))
		}
	}
	return warnings, nil
}

// DeviceInfo returns a human-readable description of device.
func DeviceInfo(device AudioDevice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Device: %s\n", device.Name)
	fmt.Fprintf(&b, "  ID: %d\n", device.ID)
	fmt.Fprintf(&b, "  Host API: %s\n", device.HostAPI)
	fmt.Fprintf(&b, "  Input Channels: %d\n", device.MaxInputChannels)
	fmt.Fprintf(&b, "  Default Sample Rate: %.1f Hz\n", device.DefaultSampleRate)
	fmt.Fprintf(&b, "  Is Default: %v\n", device.IsDefault)
	return b.String()
}
