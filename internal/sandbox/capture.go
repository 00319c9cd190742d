package sandbox

import (
	"bytes"
	"sync"
)

// outputBudget caps the bytes kept across a run's stdout and stderr. Bytes
// past the cap are dropped and onExceed fires once.
type outputBudget struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	exceeded bool
	onExceed func()
}

func newOutputBudget(limit int64, onExceed func()) *outputBudget {
	return &outputBudget{limit: limit, onExceed: onExceed}
}

func (b *outputBudget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

// Writer returns a sink that stores into buf while budget remains.
func (b *outputBudget) Writer(buf *bytes.Buffer) *cappedWriter {
	return &cappedWriter{budget: b, buf: buf}
}

type cappedWriter struct {
	budget *outputBudget
	buf    *bytes.Buffer
}

// Write never fails so the copying goroutine keeps draining the pipe until
// the process is killed.
func (w *cappedWriter) Write(p []byte) (int, error) {
	b := w.budget
	b.mu.Lock()
	room := b.limit - b.used
	keep := int64(len(p))
	if keep > room {
		keep = room
	}
	if keep > 0 {
		w.buf.Write(p[:keep])
		b.used += keep
	}
	fire := false
	if int64(len(p)) > keep && !b.exceeded {
		b.exceeded = true
		fire = true
	}
	b.mu.Unlock()

	if fire && b.onExceed != nil {
		b.onExceed()
	}
	return len(p), nil
}
