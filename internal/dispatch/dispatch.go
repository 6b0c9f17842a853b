// Package dispatch provides the single dispatcher goroutine that owns all
// visible feed state, plus runtime assertions that separate dispatcher-side
// code from worker-side code. The dispatcher plays the role a captive UI
// thread plays in a desktop toolkit: state mutation happens only on it, and
// blocking network calls must never run on it.
package dispatch

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrThreadViolation is returned when dispatcher-only code runs on a
// worker goroutine. It signals a programming error in the caller, fatal to
// the call but not to the process.
var ErrThreadViolation = errors.New("dispatch: not on the dispatcher goroutine")

// ErrBlockingOnDispatcher is returned when worker-only code (anything that
// may block on network I/O) runs on the dispatcher goroutine.
var ErrBlockingOnDispatcher = errors.New("dispatch: blocking call on the dispatcher goroutine")

// Dispatcher runs tasks on a single dedicated goroutine. Tasks enqueued
// from one goroutine execute in FIFO order relative to each other; no
// ordering holds across enqueuing goroutines.
type Dispatcher struct {
	tasks chan func()
	done  chan struct{}
	ended chan struct{}
	goid  atomic.Uint64

	stopOnce sync.Once
}

// New creates a Dispatcher and starts its loop goroutine.
func New() *Dispatcher {
	d := &Dispatcher{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
		ended: make(chan struct{}),
	}

	ready := make(chan struct{})
	go d.loop(ready)
	<-ready

	return d
}

func (d *Dispatcher) loop(ready chan<- struct{}) {
	d.goid.Store(currentGoroutineID())
	close(ready)
	defer close(d.ended)

	for {
		select {
		case task := <-d.tasks:
			task()
		case <-d.done:
			return
		}
	}
}

// Run executes task on the dispatcher goroutine: synchronously when the
// caller already is the dispatcher, otherwise enqueued for asynchronous
// execution. Tasks submitted after Stop are dropped.
func (d *Dispatcher) Run(task func()) {
	if d.onDispatcher() {
		task()
		return
	}

	select {
	case <-d.done:
	case d.tasks <- task:
	}
}

// RunWait is Run, but blocks the calling worker until the task finished.
// Calling it from the dispatcher goroutine degrades to a synchronous call.
func (d *Dispatcher) RunWait(task func()) {
	if d.onDispatcher() {
		task()
		return
	}

	finished := make(chan struct{})
	d.Run(func() {
		defer close(finished)
		task()
	})

	select {
	case <-finished:
	case <-d.ended:
	}
}

// Stop terminates the loop goroutine and waits for it to exit. Idempotent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	<-d.ended
}

// AssertDispatcher returns ErrThreadViolation unless called on the
// dispatcher goroutine. Guards code that mutates visible feed state.
func (d *Dispatcher) AssertDispatcher() error {
	if !d.onDispatcher() {
		return ErrThreadViolation
	}
	return nil
}

// AssertWorker returns ErrBlockingOnDispatcher when called on the
// dispatcher goroutine. Guards code that performs blocking network I/O.
func (d *Dispatcher) AssertWorker() error {
	if d.onDispatcher() {
		return ErrBlockingOnDispatcher
	}
	return nil
}

func (d *Dispatcher) onDispatcher() bool {
	return currentGoroutineID() == d.goid.Load()
}

var goroutinePrefix = []byte("goroutine ")

// currentGoroutineID parses the numeric goroutine id out of the first line
// of a stack trace ("goroutine 18 [running]:"). The runtime offers no
// public accessor, and the dispatcher only needs identity comparison.
func currentGoroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)

	line := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(line, ' '); i >= 0 {
		line = line[:i]
	}

	id, err := strconv.ParseUint(string(line), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
