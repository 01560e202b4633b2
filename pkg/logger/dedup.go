package logger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Deduper squashes runs of identical messages into one line with a repeat
// count, flushed after a short quiet period. Cache hits during a run would
// otherwise drown the log.
type Deduper struct {
	log        *zap.SugaredLogger
	mu         sync.Mutex
	lastMsg    string
	count      int
	flushDelay time.Duration
	timer      *time.Timer
}

func NewDeduper(log *zap.SugaredLogger) *Deduper {
	return &Deduper{
		log:        log,
		flushDelay: 2 * time.Second,
	}
}

// flush emits the pending message. Caller holds d.mu.
func (d *Deduper) flush() {
	if d.count == 0 {
		return
	}
	if d.count == 1 {
		d.log.Info(d.lastMsg)
	} else {
		d.log.Infof("%s (%d)", d.lastMsg, d.count)
	}
	d.count = 0
	d.lastMsg = ""
}

// Infof logs at info level, deduplicating consecutive identical messages.
func (d *Deduper) Infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	d.mu.Lock()
	defer d.mu.Unlock()

	if msg == d.lastMsg {
		d.count++
		if d.timer != nil {
			d.timer.Stop()
		}
		d.timer = time.AfterFunc(d.flushDelay, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.flush()
		})
		return
	}

	d.flush()
	d.lastMsg = msg
	d.count = 1
	d.timer = time.AfterFunc(d.flushDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.flush()
	})
}
