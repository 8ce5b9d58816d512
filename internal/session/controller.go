// Package session implements the turn-taking controller: a single event loop
// that owns session, turn and gate state, interprets inbound protocol events,
// and drives the capture pipeline, playback scheduler and presentation sink.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"voicebridge/internal/playback"
	"voicebridge/internal/sink"
	"voicebridge/internal/wire"
)

// ErrClosed is returned when input is submitted to a terminated session.
var ErrClosed = errors.New("session closed")

// listeningPlaceholder is the pending user transcript shown while the service
// transcribes. It is plain display text, replaced in place by the final
// transcript.
const listeningPlaceholder = "Listening..."

// Transport is the duplex message channel to the speech service.
type Transport interface {
	Open(ctx context.Context) error
	Send(ev wire.Event) error
	Events() <-chan wire.Event
	Disconnected() <-chan struct{}
	Close() error
}

// Player is the audio playback scheduler. FlushAndStop must be synchronous:
// once it returns, nothing discarded can play.
type Player interface {
	Enqueue(f playback.Fragment)
	FlushAndStop()
	Finished() <-chan string
	Failures() <-chan error
}

// Gate exposes the microphone gate to the capture pipeline. Readers poll it;
// only the controller mutates it.
type Gate interface {
	Open() bool
}

// ToolInvoker executes a function call requested by the service and returns its
// JSON-encoded output. The business backend behind it is opaque to the session.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Options tune one controller instance.
type Options struct {
	Config   wire.SessionConfig
	Cooldown time.Duration
	Tools    ToolInvoker
}

type cmdKind int

const (
	cmdText cmdKind = iota
	cmdAudio
	cmdCommit
	cmdGateReopen
	cmdToolOutput
	cmdStop
)

type command struct {
	kind   cmdKind
	text   string
	audio  []byte
	gen    uint64
	callID string
	output string
}

// Controller owns all per-session state. Construct one per conversation; a
// closed controller cannot be restarted.
type Controller struct {
	ch     Transport
	player Player
	out    sink.Sink
	opts   Options

	gate      *micGate
	state     atomic.Int32
	current   *turn
	closeGen  uint64
	sessionID string
	pending   []command

	cmds chan command
	done chan struct{}
}

// New wires a controller to its collaborators. Call Start to connect.
func New(ch Transport, player Player, out sink.Sink, opts Options) *Controller {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 300 * time.Millisecond
	}
	c := &Controller{
		ch:     ch,
		player: player,
		out:    out,
		opts:   opts,
		gate:   newMicGate(),
		cmds:   make(chan command, 256),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateIdle))
	return c
}

// State reports the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Gate returns the microphone gate for the capture pipeline to poll.
func (c *Controller) Gate() Gate { return c.gate }

// Done is closed when the session reaches Closed.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Start opens the channel, sends the session configuration exactly once and
// begins the event loop.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return fmt.Errorf("session: already started")
	}
	if err := c.ch.Open(ctx); err != nil {
		c.state.Store(int32(StateClosed))
		close(c.done)
		return err
	}
	cfg := c.opts.Config
	if err := c.ch.Send(wire.Event{Type: wire.TypeSessionUpdate, Session: &cfg}); err != nil {
		c.state.Store(int32(StateClosed))
		_ = c.ch.Close()
		close(c.done)
		return fmt.Errorf("session: send configuration: %w", err)
	}
	c.state.Store(int32(StateConfiguring))
	go c.run(ctx)
	return nil
}

// SendText submits a typed user message. Typed input always interrupts an
// in-flight assistant turn, regardless of the microphone gate.
func (c *Controller) SendText(text string) error {
	return c.submit(command{kind: cmdText, text: text})
}

// ForwardAudio implements the capture forwarder: one frame of PCM16LE.
func (c *Controller) ForwardAudio(pcm []byte) error {
	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	return c.submit(command{kind: cmdAudio, audio: frame})
}

// CommitAudio implements the capture forwarder's end-of-utterance signal.
func (c *Controller) CommitAudio() error {
	return c.submit(command{kind: cmdCommit})
}

// Stop terminates the session. Idempotent.
func (c *Controller) Stop() {
	_ = c.submit(command{kind: cmdStop})
}

func (c *Controller) submit(cmd command) error {
	// A closed session always rejects, even while the command buffer has room.
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.cmds <- cmd:
		return nil
	}
}

func (c *Controller) setState(s State) { c.state.Store(int32(s)) }

// run is the single event loop; it is the only goroutine that mutates session,
// turn and gate state.
func (c *Controller) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.ch.Disconnected():
			c.out.OnError(sink.ErrorChannelClosed, "connection to speech service lost")
			c.shutdown()
			return
		case err := <-c.player.Failures():
			c.out.OnError(sink.ErrorDeviceUnavailable, fmt.Sprintf("audio playback disabled: %v", err))
		case turnID := <-c.player.Finished():
			c.onPlaybackFinished(turnID)
		case cmd := <-c.cmds:
			if cmd.kind == cmdStop {
				c.shutdown()
				return
			}
			c.handleCommand(ctx, cmd)
		case ev, ok := <-c.ch.Events():
			if !ok {
				continue
			}
			if stop := c.handleEvent(ctx, ev); stop {
				c.shutdown()
				return
			}
		}
	}
}

func (c *Controller) shutdown() {
	c.player.FlushAndStop()
	_ = c.ch.Close()
	c.current = nil
	// done closes before the state store so any caller that observes Closed is
	// guaranteed to have its input rejected.
	close(c.done)
	c.setState(StateClosed)
}

func (c *Controller) handleCommand(ctx context.Context, cmd command) {
	st := c.State()
	switch cmd.kind {
	case cmdText, cmdAudio, cmdCommit:
		// Input before Ready is buffered, not dropped, and flushed in order.
		if st == StateConnecting || st == StateConfiguring {
			c.pending = append(c.pending, cmd)
			return
		}
	}

	switch cmd.kind {
	case cmdText:
		c.interrupt(false)
		c.out.OnUserTranscript(cmd.text, true)
		c.send(wire.Event{Type: wire.TypeItemCreate, Item: &wire.Item{
			Type: "message",
			Role: "user",
			Content: []wire.ContentPart{
				{Type: "input_text", Text: cmd.text},
			},
		}})
		c.requestResponse()
		c.setState(StateUserTurn)
	case cmdAudio:
		c.send(wire.Event{
			Type:  wire.TypeInputAudioAppend,
			Audio: base64.StdEncoding.EncodeToString(cmd.audio),
		})
	case cmdCommit:
		c.send(wire.Event{Type: wire.TypeInputAudioCommit})
	case cmdGateReopen:
		c.gate.Reopen(cmd.gen)
	case cmdToolOutput:
		c.send(wire.Event{Type: wire.TypeItemCreate, Item: &wire.Item{
			Type:   "function_call_output",
			CallID: cmd.callID,
			Output: cmd.output,
		}})
		c.requestResponse()
	}
}

// handleEvent dispatches one inbound event; it returns true when the session
// must terminate.
func (c *Controller) handleEvent(ctx context.Context, ev wire.Event) bool {
	switch ev.Type {
	case wire.TypeSessionCreated:
		if ev.SessionInfo != nil {
			c.sessionID = ev.SessionInfo.ID
			c.out.OnSystemMessage("connected, session " + c.sessionID)
		}
	case wire.TypeSessionUpdated:
		if c.State() == StateConfiguring {
			c.enterReady(ctx)
		}
	case wire.TypeError:
		return c.handleServiceError(ev)
	case wire.TypeSpeechStarted:
		// Self-triggered onsets during playback and cooldown are ignored.
		if !c.gate.Open() {
			return false
		}
		c.interrupt(true)
	case wire.TypeSpeechStopped:
		// The placeholder stays until the final transcript arrives.
	case wire.TypeInputAudioCommitted:
		c.requestResponse()
	case wire.TypeResponseCreated:
		id := ""
		if ev.Response != nil {
			id = ev.Response.ID
		}
		c.beginAssistantTurn(id)
	case wire.TypeAudioDelta:
		c.onAudioDelta(ev)
	case wire.TypeAudioDone:
		if c.current != nil {
			c.current.audioDone = true
			c.player.Enqueue(playback.Fragment{TurnID: c.current.id, Final: true})
		}
	case wire.TypeTextDelta, wire.TypeAudioTranscriptDelta:
		if c.current != nil && !c.current.textClosed && ev.Delta != "" {
			c.current.text.WriteString(ev.Delta)
			c.out.OnAssistantText(ev.Delta)
		}
	case wire.TypeTextDone, wire.TypeAudioTranscriptDone:
		if c.current != nil && !c.current.textClosed {
			c.current.textClosed = true
			c.out.OnAssistantDone(c.current.text.String())
		}
	case wire.TypeUserTranscriptCompleted:
		if ev.Transcript != "" {
			c.out.OnUserTranscript(ev.Transcript, true)
		}
	case wire.TypeResponseDone:
		c.onResponseDone(ctx, ev)
	default:
		log.Printf("session: unhandled event type %q", ev.Type)
	}
	return false
}

func (c *Controller) enterReady(ctx context.Context) {
	c.setState(StateReady)
	c.out.OnSystemMessage("session configured")
	buffered := c.pending
	c.pending = nil
	for _, cmd := range buffered {
		c.handleCommand(ctx, cmd)
	}
}

// interrupt supersedes any in-flight assistant turn: cancellation request
// first, then a synchronous playback flush, then local turn state is cleared.
// Safe to invoke when nothing is in flight.
func (c *Controller) interrupt(speechOnset bool) {
	if c.current != nil && !c.current.responseDone {
		c.send(wire.Event{Type: wire.TypeResponseCancel})
	}
	if !speechOnset {
		// Typed input: the service buffer may hold stray mic audio that must
		// not attach to this turn. A speech onset's own audio stays.
		c.send(wire.Event{Type: wire.TypeInputAudioClear})
	}
	c.player.FlushAndStop()
	c.releaseGate()
	c.current = nil
	c.setState(StateUserTurn)
	if speechOnset {
		c.out.OnUserTranscript(listeningPlaceholder, false)
	}
}

func (c *Controller) beginAssistantTurn(id string) {
	if c.current != nil && !c.current.finished() {
		c.player.FlushAndStop()
		c.releaseGate()
	}
	c.current = newTurn(id)
	c.setState(StateAssistantTurn)
}

func (c *Controller) onAudioDelta(ev wire.Event) {
	if c.current == nil {
		return
	}
	if ev.ResponseID != "" && c.current.id != "" && ev.ResponseID != c.current.id {
		// Stale audio from a superseded response.
		return
	}
	payload, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		log.Printf("session: undecodable audio delta: %v", err)
		return
	}
	if !c.current.audioStarted {
		c.current.audioStarted = true
		c.closeGen = c.gate.Close()
	}
	c.player.Enqueue(playback.Fragment{
		TurnID:  c.current.id,
		Seq:     c.current.nextSeq(),
		Payload: payload,
	})
}

func (c *Controller) onPlaybackFinished(turnID string) {
	if c.current == nil || c.current.id != turnID {
		return
	}
	c.current.audioFinished = true
	c.scheduleGateReopen()
	c.maybeFinishTurn()
}

// scheduleGateReopen arms the cooldown timer for the current close generation.
// A timer made stale by a later Close is a no-op: Reopen checks the generation.
func (c *Controller) scheduleGateReopen() {
	gen := c.closeGen
	time.AfterFunc(c.opts.Cooldown, func() {
		_ = c.submit(command{kind: cmdGateReopen, gen: gen})
	})
}

// releaseGate schedules a cooldown reopen for a turn that closed the gate but
// will never report playback finished, because its audio was flushed. Without
// this, an interrupted or errored turn would leave the microphone dead.
func (c *Controller) releaseGate() {
	if c.current != nil && c.current.audioStarted && !c.current.audioFinished {
		c.scheduleGateReopen()
	}
}

func (c *Controller) onResponseDone(ctx context.Context, ev wire.Event) {
	if c.current == nil {
		return
	}
	if ev.Response != nil && ev.Response.ID != "" && c.current.id != "" && ev.Response.ID != c.current.id {
		return
	}
	c.current.responseDone = true
	if c.current.audioStarted && !c.current.audioDone {
		// The audio.done marker is missing; synthesize the sentinel so the
		// turn can still finish once playback drains.
		c.current.audioDone = true
		c.player.Enqueue(playback.Fragment{TurnID: c.current.id, Final: true})
	}
	if ev.Response != nil && ev.Response.Status == "completed" && c.opts.Tools != nil {
		for _, item := range ev.Response.Output {
			if item.Type == "function_call" {
				go c.invokeTool(ctx, item)
			}
		}
	}
	c.maybeFinishTurn()
}

func (c *Controller) maybeFinishTurn() {
	if c.current == nil || !c.current.finished() {
		return
	}
	if !c.current.textClosed && c.current.text.Len() > 0 {
		// The text.done marker never arrived; close the stream with what we
		// accumulated.
		c.out.OnAssistantDone(c.current.text.String())
	}
	c.current = nil
	c.setState(StateReady)
}

func (c *Controller) invokeTool(ctx context.Context, item wire.OutputItem) {
	output, err := c.opts.Tools.Invoke(ctx, item.Name, json.RawMessage(item.Arguments))
	if err != nil {
		log.Printf("session: tool %s failed: %v", item.Name, err)
		output = fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	_ = c.submit(command{kind: cmdToolOutput, callID: item.CallID, output: output})
}

func (c *Controller) handleServiceError(ev wire.Event) bool {
	detail := "unknown service error"
	if ev.Error != nil && ev.Error.Message != "" {
		detail = ev.Error.Message
	}
	if c.State() == StateConfiguring {
		c.out.OnError(sink.ErrorConfigRejected, detail)
		return true
	}
	c.out.OnError(sink.ErrorService, detail)
	if c.current != nil {
		c.player.FlushAndStop()
		c.releaseGate()
		c.current = nil
	}
	if st := c.State(); st == StateAssistantTurn || st == StateUserTurn {
		c.setState(StateReady)
	}
	return false
}

func (c *Controller) requestResponse() {
	c.send(wire.Event{Type: wire.TypeResponseCreate, Response: &wire.Response{
		Modalities: []string{"text", "audio"},
	}})
}

// send logs and absorbs transport errors; a dead channel surfaces separately
// through the disconnect notification.
func (c *Controller) send(ev wire.Event) {
	if err := c.ch.Send(ev); err != nil {
		log.Printf("session: send %s: %v", ev.Type, err)
	}
}
