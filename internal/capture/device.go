package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// micFrames is the capture frame size in samples; 20ms at 24kHz.
const micFrames = 480

// MicSource reads PCM16 mono frames from the default input device.
type MicSource struct {
	stream *portaudio.Stream
	buffer []int16
}

// OpenMic acquires the default input device at the given sample rate.
func OpenMic(sampleRate int) (Source, error) {
	m := &MicSource{buffer: make([]int16, micFrames)}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), micFrames, &m.buffer)
	if err != nil {
		return nil, fmt.Errorf("open input device: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	m.stream = stream
	return m, nil
}

// Read blocks until one frame has been captured and returns a copy of it.
func (m *MicSource) Read() ([]int16, error) {
	if err := m.stream.Read(); err != nil {
		return nil, err
	}
	frame := make([]int16, len(m.buffer))
	copy(frame, m.buffer)
	return frame, nil
}

func (m *MicSource) Close() error {
	_ = m.stream.Stop()
	return m.stream.Close()
}
