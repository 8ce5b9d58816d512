package playback

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"
)

// PCMPassthrough is the decoder for pcm16 fragments: the payload is already
// little-endian PCM and is played as-is.
type PCMPassthrough struct{}

func (PCMPassthrough) Decode(payload []byte) ([]byte, error) {
	if len(payload)%2 != 0 {
		payload = payload[:len(payload)-1]
	}
	return payload, nil
}

// OpusFragmentDecoder decodes opus packets to PCM16LE mono at the configured
// sample rate. A single decoder instance carries codec state across fragments,
// so it must only be used from the playback worker.
type OpusFragmentDecoder struct {
	dec     *opus.Decoder
	samples []int16
}

// NewOpusFragmentDecoder creates a mono decoder for the given output rate.
func NewOpusFragmentDecoder(sampleRate int) (*OpusFragmentDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("playback: opus decoder: %w", err)
	}
	// 120ms at 48kHz is the largest opus frame
	return &OpusFragmentDecoder{dec: dec, samples: make([]int16, 5760)}, nil
}

func (d *OpusFragmentDecoder) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("playback: empty opus packet")
	}
	n, err := d.dec.Decode(payload, d.samples)
	if err != nil {
		return nil, fmt.Errorf("playback: opus decode: %w", err)
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(d.samples[i]))
	}
	return out, nil
}
