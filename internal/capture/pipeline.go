// Package capture owns the microphone: it reads fixed-size frames from the
// input device, converts them to the wire sample format and forwards them while
// the gate is open. Frames read behind a closed gate are dropped on the spot,
// never buffered, so stale audio cannot leak into a later turn.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrDeviceUnavailable reports a missing or permission-denied input device.
var ErrDeviceUnavailable = errors.New("input device unavailable")

// Gate is the controller-owned microphone gate. The pipeline only ever reads it.
type Gate interface {
	Open() bool
}

// Forwarder receives outbound microphone audio. Forward carries one frame of
// PCM16LE; Commit signals the end of the utterance buffer.
type Forwarder interface {
	ForwardAudio(pcm []byte) error
	CommitAudio() error
}

// Source abstracts the input device: Read returns one fixed-size frame of
// samples and blocks until it is available.
type Source interface {
	Read() ([]int16, error)
	Close() error
}

// Pipeline pumps frames from a Source to a Forwarder, honouring the gate.
type Pipeline struct {
	open    func() (Source, error)
	gate    Gate
	forward Forwarder

	mu      sync.Mutex
	src     Source
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewPipeline builds a pipeline; open is called on Start so a failed device
// acquisition surfaces there, not at construction.
func NewPipeline(open func() (Source, error), gate Gate, forward Forwarder) *Pipeline {
	return &Pipeline{open: open, gate: gate, forward: forward}
}

// Start acquires the input device and begins forwarding frames.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	src, err := p.open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	p.src = src
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.started = true
	go p.run(src, p.stop, p.done)
	return nil
}

// Stop releases the device and emits one buffer commit so the service knows the
// utterance ended. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	stop, done, src := p.stop, p.done, p.src
	p.src = nil
	p.mu.Unlock()

	close(stop)
	<-done
	_ = src.Close()
	if err := p.forward.CommitAudio(); err != nil {
		log.Printf("capture: commit: %v", err)
	}
}

func (p *Pipeline) run(src Source, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := src.Read()
		if err != nil {
			select {
			case <-stop:
			default:
				log.Printf("capture: read: %v", err)
			}
			return
		}
		if !p.gate.Open() {
			continue
		}
		if err := p.forward.ForwardAudio(frameBytes(frame)); err != nil {
			log.Printf("capture: forward: %v", err)
			return
		}
	}
}

func frameBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}
