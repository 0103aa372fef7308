// Package notify delivers human-readable status lines to a UI or operator console.
// Delivery never blocks the caller: lines are dropped when the consumer lags.
package notify

import (
	"fmt"
	"sync"
	"sync/atomic"

	"ledgerbridge/pkg/logger"
)

// Sink receives status lines.
type Sink interface {
	Notify(line string)
}

// Notifyf formats and sends a line to s. A nil sink is ignored.
func Notifyf(s Sink, format string, args ...any) {
	if s == nil {
		return
	}
	s.Notify(fmt.Sprintf(format, args...))
}

// Nop discards every line.
type Nop struct{}

// Notify implements Sink.
func (Nop) Notify(string) {}

// Func adapts a function to Sink.
type Func func(line string)

// Notify implements Sink.
func (f Func) Notify(line string) { f(line) }

// LogSink writes status lines to the structured log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a Sink backed by log.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("notify")}
}

// Notify implements Sink.
func (s *LogSink) Notify(line string) {
	s.log.Infow(line)
}

// Async decouples producers from a slow consumer through a bounded buffer.
type Async struct {
	next    Sink
	lines   chan string
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync starts a goroutine forwarding lines to next. Close stops it.
func NewAsync(next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:  next,
		lines: make(chan string, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify implements Sink. It never blocks.
func (a *Async) Notify(line string) {
	select {
	case <-a.done:
		a.dropped.Add(1)
	case a.lines <- line:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many lines were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops forwarding. Lines still buffered are discarded.
func (a *Async) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

func (a *Async) run() {
	for {
		select {
		case <-a.done:
			return
		case line := <-a.lines:
			a.next.Notify(line)
		}
	}
}
