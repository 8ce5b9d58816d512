// Package playback turns the stream of audio fragments for a turn into ordered,
// non-overlapping output on the speaker device, with hard-stop cancellation for
// barge-in.
package playback

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Fragment is one chunk of a turn's audio in arrival order. A Final fragment
// carries no payload and marks the end of the turn's audio.
type Fragment struct {
	TurnID  string
	Seq     int
	Payload []byte
	Final   bool
}

// Decoder converts one encoded fragment payload into PCM16LE bytes. Decoding
// may block; the scheduler never starts decoding fragment n+1 until fragment n
// has finished playing.
type Decoder interface {
	Decode(payload []byte) ([]byte, error)
}

// Output is the exclusive playback device. Write blocks until the given PCM has
// been handed to the device; samples short of a device buffer may be held back.
// Drain plays the held tail out padded with silence, Reset discards it.
type Output interface {
	Write(pcm []byte) error
	Drain() error
	Reset()
	Close() error
}

// writeChunk bounds how much PCM is written between cancellation checks.
const writeChunk = 4096

// Scheduler drains fragments one at a time through decode then playback,
// preserving enqueue order with no overlap. FlushAndStop discards everything
// queued and halts in-progress playback before returning.
type Scheduler struct {
	dec Decoder
	out Output
	gap time.Duration

	gen atomic.Uint64

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Fragment
	playing  bool
	stopped  bool
	disabled bool

	finished chan string
	failures chan error
}

// NewScheduler starts the playback worker. gap is the inter-fragment pause that
// absorbs decoder boundary clicks.
func NewScheduler(dec Decoder, out Output, gap time.Duration) *Scheduler {
	s := &Scheduler{
		dec:      dec,
		out:      out,
		gap:      gap,
		finished: make(chan string, 16),
		failures: make(chan error, 1),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.worker()
	return s
}

// Enqueue appends a fragment to the playback queue. Fragments enqueued before a
// flush never play after it.
func (s *Scheduler) Enqueue(f Fragment) {
	s.mu.Lock()
	if !s.stopped && !s.disabled {
		s.queue = append(s.queue, f)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// FlushAndStop discards all queued fragments and halts any in-progress playback.
// When it returns, no discarded fragment can play afterwards. The generation
// bump happens under the queue lock so the worker cannot pop a doomed fragment
// and then load the post-flush generation.
func (s *Scheduler) FlushAndStop() {
	s.mu.Lock()
	s.gen.Add(1)
	s.queue = nil
	for s.playing {
		s.cond.Wait()
	}
	s.mu.Unlock()
	s.out.Reset()
}

// Finished reports turn ids whose final fragment has completed playback.
func (s *Scheduler) Finished() <-chan string { return s.finished }

// Failures reports at most one fatal output-device error; after it fires the
// scheduler silently drops all further fragments so text keeps working.
func (s *Scheduler) Failures() <-chan error { return s.failures }

// Close stops the worker and releases the output device.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.gen.Add(1)
	s.stopped = true
	s.queue = nil
	s.cond.Broadcast()
	for s.playing {
		s.cond.Wait()
	}
	s.mu.Unlock()
	return s.out.Close()
}

func (s *Scheduler) worker() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		f := s.queue[0]
		s.queue = s.queue[1:]
		gen := s.gen.Load()
		s.playing = true
		s.mu.Unlock()

		s.play(f, gen)

		s.mu.Lock()
		s.playing = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *Scheduler) play(f Fragment, gen uint64) {
	if f.Final {
		if s.gen.Load() == gen {
			// Play out the device tail before reporting the turn finished, so
			// the last samples are not deferred into the next turn.
			if err := s.out.Drain(); err != nil {
				log.Printf("playback: drain: %v", err)
			}
			s.finished <- f.TurnID
		}
		return
	}

	pcm, err := s.dec.Decode(f.Payload)
	if err != nil {
		log.Printf("playback: skipping fragment %s/%d: %v", f.TurnID, f.Seq, err)
		return
	}

	for off := 0; off < len(pcm); off += writeChunk {
		if s.gen.Load() != gen {
			return
		}
		end := off + writeChunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := s.out.Write(pcm[off:end]); err != nil {
			log.Printf("playback: output device failed: %v", err)
			s.mu.Lock()
			s.disabled = true
			s.queue = nil
			s.mu.Unlock()
			select {
			case s.failures <- err:
			default:
			}
			return
		}
	}

	if s.gap > 0 && s.gen.Load() == gen {
		time.Sleep(s.gap)
	}
}
