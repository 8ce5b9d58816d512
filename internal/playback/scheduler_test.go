package playback

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeOutput struct {
	mu     sync.Mutex
	writes [][]byte
	failAt int // fail on the nth write, 0 disables
	count  int
	delay  time.Duration
	drains int
	resets int
	closed bool
}

func (o *fakeOutput) Write(pcm []byte) error {
	o.mu.Lock()
	o.count++
	n := o.count
	if o.failAt > 0 && n >= o.failAt {
		o.mu.Unlock()
		return errors.New("device gone")
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	o.writes = append(o.writes, cp)
	o.mu.Unlock()
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	return nil
}

func (o *fakeOutput) Drain() error {
	o.mu.Lock()
	o.drains++
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) Reset() {
	o.mu.Lock()
	o.resets++
	o.mu.Unlock()
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) written() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.writes...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func TestScheduler_PlaysInOrderAndSignalsFinish(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(PCMPassthrough{}, out, 0)
	defer s.Close()

	s.Enqueue(Fragment{TurnID: "t1", Seq: 1, Payload: []byte{1, 0}})
	s.Enqueue(Fragment{TurnID: "t1", Seq: 2, Payload: []byte{2, 0}})
	s.Enqueue(Fragment{TurnID: "t1", Final: true})

	select {
	case id := <-s.Finished():
		if id != "t1" {
			t.Fatalf("finished wrong turn %q", id)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for finish signal")
	}

	writes := out.written()
	if len(writes) != 2 || writes[0][0] != 1 || writes[1][0] != 2 {
		t.Fatalf("unexpected write order: %v", writes)
	}
	out.mu.Lock()
	drains := out.drains
	out.mu.Unlock()
	if drains != 1 {
		t.Fatalf("final fragment must drain the device tail, drains=%d", drains)
	}
}

func TestScheduler_FlushDiscardsQueued(t *testing.T) {
	out := &fakeOutput{delay: 10 * time.Millisecond}
	s := NewScheduler(PCMPassthrough{}, out, 0)
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Enqueue(Fragment{TurnID: "t1", Seq: i + 1, Payload: []byte{byte(i), 0}})
	}
	waitFor(t, func() bool { return len(out.written()) >= 1 }, "first write")
	s.FlushAndStop()
	flushed := len(out.written())

	// Nothing enqueued before the flush may play after it.
	time.Sleep(50 * time.Millisecond)
	if got := len(out.written()); got != flushed {
		t.Fatalf("discarded fragment played after flush: %d -> %d", flushed, got)
	}
}

func TestScheduler_FinalAfterFlushDoesNotSignal(t *testing.T) {
	out := &fakeOutput{delay: 20 * time.Millisecond}
	s := NewScheduler(PCMPassthrough{}, out, 0)
	defer s.Close()

	s.Enqueue(Fragment{TurnID: "t1", Seq: 1, Payload: []byte{1, 0}})
	s.Enqueue(Fragment{TurnID: "t1", Final: true})
	waitFor(t, func() bool { return len(out.written()) == 1 }, "playback start")
	s.FlushAndStop()

	select {
	case id := <-s.Finished():
		t.Fatalf("flushed turn %q must not signal finish", id)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestScheduler_FlushResetsDeviceTail(t *testing.T) {
	out := &fakeOutput{delay: 10 * time.Millisecond}
	s := NewScheduler(PCMPassthrough{}, out, 0)
	defer s.Close()

	s.Enqueue(Fragment{TurnID: "t1", Seq: 1, Payload: []byte{1, 0}})
	waitFor(t, func() bool { return len(out.written()) == 1 }, "playback start")
	s.FlushAndStop()

	out.mu.Lock()
	resets := out.resets
	out.mu.Unlock()
	if resets != 1 {
		t.Fatalf("flush must discard the device tail, resets=%d", resets)
	}
}

func TestScheduler_FlushBeforePlaybackNeverSignals(t *testing.T) {
	out := &fakeOutput{delay: 10 * time.Millisecond}
	s := NewScheduler(PCMPassthrough{}, out, 0)
	defer s.Close()

	// Race the flush against the worker picking up the fragments. Whichever
	// side wins, a turn enqueued before the flush must never report finished.
	for i := 0; i < 25; i++ {
		s.Enqueue(Fragment{TurnID: "t1", Seq: 1, Payload: []byte{1, 0}})
		s.Enqueue(Fragment{TurnID: "t1", Final: true})
		s.FlushAndStop()
	}

	time.Sleep(30 * time.Millisecond)
	select {
	case id := <-s.Finished():
		t.Fatalf("flushed turn %q signalled finish", id)
	default:
	}
}

type failingDecoder struct{}

func (failingDecoder) Decode([]byte) ([]byte, error) { return nil, errors.New("corrupt") }

func TestScheduler_SkipsUndecodableFragment(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(failingDecoder{}, out, 0)
	defer s.Close()

	s.Enqueue(Fragment{TurnID: "t1", Seq: 1, Payload: []byte{9}})
	s.Enqueue(Fragment{TurnID: "t1", Final: true})

	select {
	case <-s.Finished():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("decode failure must not stall the turn")
	}
	if len(out.written()) != 0 {
		t.Fatalf("failed fragment must not reach the device")
	}
}

func TestScheduler_DeviceFailureDisablesPlayback(t *testing.T) {
	out := &fakeOutput{failAt: 1}
	s := NewScheduler(PCMPassthrough{}, out, 0)
	defer s.Close()

	s.Enqueue(Fragment{TurnID: "t1", Seq: 1, Payload: []byte{1, 0}})

	select {
	case err := <-s.Failures():
		if err == nil {
			t.Fatalf("expected device error")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for failure notification")
	}

	// Later fragments are dropped silently.
	s.Enqueue(Fragment{TurnID: "t2", Seq: 1, Payload: []byte{2, 0}})
	time.Sleep(30 * time.Millisecond)
	if len(out.written()) != 0 {
		t.Fatalf("playback must stay disabled after device failure")
	}
}

func TestPCMPassthrough_TrimsOddTrailingByte(t *testing.T) {
	got, err := PCMPassthrough{}.Decode([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected odd byte trimmed, got %d bytes", len(got))
	}
}
