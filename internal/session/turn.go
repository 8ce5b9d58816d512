package session

import "strings"

// turn tracks one assistant response cycle. At most one is in progress; a new
// response supersedes any incomplete predecessor and its unplayed audio.
type turn struct {
	id            string
	seq           int
	text          strings.Builder
	responseDone  bool
	audioDone     bool
	audioFinished bool
	audioStarted  bool
	textClosed    bool
}

func newTurn(id string) *turn {
	return &turn{id: id}
}

// nextSeq hands out arrival sequence numbers for audio fragments.
func (t *turn) nextSeq() int {
	t.seq++
	return t.seq
}

// finished reports whether the turn is fully over: the service has closed the
// response and every queued fragment has played (or no audio was ever sent).
func (t *turn) finished() bool {
	if !t.responseDone {
		return false
	}
	if !t.audioStarted {
		return true
	}
	return t.audioFinished
}
