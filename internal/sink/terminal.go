package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Terminal renders the conversation to a writer, one line per completed
// message. Assistant deltas are streamed inline as they arrive.
type Terminal struct {
	mu        sync.Mutex
	w         io.Writer
	streaming bool
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) OnSystemMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakStream()
	fmt.Fprintf(t.w, "[system] %s\n", text)
}

func (t *Terminal) OnUserTranscript(text string, final bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakStream()
	if final {
		fmt.Fprintf(t.w, "[you] %s\n", text)
	} else {
		fmt.Fprintf(t.w, "[you] %s\r", text)
	}
}

func (t *Terminal) OnAssistantText(delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.streaming {
		fmt.Fprint(t.w, "[assistant] ")
		t.streaming = true
	}
	fmt.Fprint(t.w, delta)
}

func (t *Terminal) OnAssistantDone(final string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.streaming {
		t.streaming = false
		fmt.Fprintln(t.w)
		return
	}
	if strings.TrimSpace(final) != "" {
		fmt.Fprintf(t.w, "[assistant] %s\n", final)
	}
}

func (t *Terminal) OnError(kind ErrorKind, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakStream()
	fmt.Fprintf(t.w, "[error:%s] %s\n", kind, detail)
}

func (t *Terminal) breakStream() {
	if t.streaming {
		fmt.Fprintln(t.w)
		t.streaming = false
	}
}
