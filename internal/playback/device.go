package playback

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// deviceFrames is the portaudio buffer size in samples per write.
const deviceFrames = 1024

// SpeakerOutput plays PCM16LE mono through the default output device. The
// device is owned exclusively by the playback scheduler.
type SpeakerOutput struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []int16
	pending []int16
	closed  bool
}

// OpenSpeaker acquires the default output device at the given sample rate.
func OpenSpeaker(sampleRate int) (*SpeakerOutput, error) {
	o := &SpeakerOutput{buffer: make([]int16, deviceFrames)}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), deviceFrames, &o.buffer)
	if err != nil {
		return nil, fmt.Errorf("playback: open output device: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("playback: start output stream: %w", err)
	}
	o.stream = stream
	return o, nil
}

// Write blocks until the given PCM bytes have been handed to the device.
// Samples that do not fill a whole device buffer are held for the next call.
func (o *SpeakerOutput) Write(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("playback: output closed")
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		o.pending = append(o.pending, int16(binary.LittleEndian.Uint16(pcm[i:i+2])))
	}
	for len(o.pending) >= deviceFrames {
		copy(o.buffer, o.pending[:deviceFrames])
		o.pending = o.pending[deviceFrames:]
		if err := o.stream.Write(); err != nil {
			return fmt.Errorf("playback: device write: %w", err)
		}
	}
	return nil
}

// Drain pads the held tail with silence and plays it out, so a turn's last
// samples are audible before its completion is reported.
func (o *SpeakerOutput) Drain() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	return o.drainLocked()
}

// Reset discards samples held back for the next device buffer. Called on flush
// so a cancelled turn's tail cannot leak into the next turn's first write.
func (o *SpeakerOutput) Reset() {
	o.mu.Lock()
	o.pending = o.pending[:0]
	o.mu.Unlock()
}

// Close pads and flushes any held samples, then releases the device.
func (o *SpeakerOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	_ = o.drainLocked()
	_ = o.stream.Stop()
	return o.stream.Close()
}

func (o *SpeakerOutput) drainLocked() error {
	if len(o.pending) == 0 {
		return nil
	}
	for i := range o.buffer {
		o.buffer[i] = 0
	}
	copy(o.buffer, o.pending)
	o.pending = o.pending[:0]
	if err := o.stream.Write(); err != nil {
		return fmt.Errorf("playback: device write: %w", err)
	}
	return nil
}
