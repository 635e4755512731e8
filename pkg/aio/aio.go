// Package aio provides asynchronous submission of blocking I/O operations
// with poll-style completion checking and a coalescing wake-up channel.
//
// Each submitted operation runs on its own goroutine; the kernel parallelism
// of a positioned read or write comes from those goroutines blocking in the
// syscall concurrently. The caller polls the returned Request without
// blocking and sleeps between polls in Dispatcher.Wait, which returns as
// soon as any operation completes or a timeout elapses. Completion delivery
// mutates no shared state: a worker hands its result to the request's
// buffered channel and pokes the wake channel, nothing more, so a
// single-goroutine scheduler can own all state outside this package.
package aio

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrInProgress is returned by Request.Poll while the operation has not
// completed yet. Callers re-poll after Dispatcher.Wait.
var ErrInProgress = errors.New("aio: operation in progress")

// ErrCanceled reports an operation that was abandoned before transferring
// any bytes. Operations themselves return it (the dispatcher never cancels
// on its own); pollers release the associated resources without treating
// it as a failure.
var ErrCanceled = errors.New("aio: operation canceled")

// Op performs one blocking I/O operation and reports bytes transferred.
type Op func() (int, error)

type result struct {
	n   int
	err error
}

// Request tracks one submitted operation. Poll is not safe for concurrent
// use; a request belongs to the goroutine that submitted it.
type Request struct {
	done    chan result
	res     result
	settled bool
}

// Poll checks the operation without blocking. It returns ErrInProgress
// until the operation completes, then the operation's byte count and error
// on every subsequent call.
func (r *Request) Poll() (int, error) {
	if !r.settled {
		select {
		case res := <-r.done:
			r.res = res
			r.settled = true
		default:
			return 0, ErrInProgress
		}
	}
	return r.res.n, r.res.err
}

// Dispatcher runs operations in background goroutines and coalesces their
// completion notifications so one polling loop can wait for any of them.
//
// Wait must only be called from a single goroutine; Submit may be called
// from that same goroutine between waits.
type Dispatcher struct {
	wake     chan struct{}
	timer    *time.Timer
	inflight atomic.Int64
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		wake: make(chan struct{}, 1),
	}
}

// Submit starts op on a background goroutine and returns the request to
// poll for its completion. Submission itself cannot fail; errors surface
// through Poll.
func (d *Dispatcher) Submit(op Op) *Request {
	r := &Request{done: make(chan result, 1)}
	d.inflight.Add(1)

	go func() {
		n, err := op()
		d.inflight.Add(-1)
		r.done <- result{n: n, err: err}

		// Coalescing notification: a full wake channel already promises
		// the loop another pass, so dropping the send loses nothing.
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}()

	return r
}

// Wait blocks until a completion notification arrives or timeout elapses.
// A notification delivered between polls is buffered, so a completion can
// never be missed; at worst the loop runs one spare iteration.
func (d *Dispatcher) Wait(timeout time.Duration) {
	if d.timer == nil {
		d.timer = time.NewTimer(timeout)
	} else {
		d.timer.Reset(timeout)
	}

	select {
	case <-d.wake:
		if !d.timer.Stop() {
			select {
			case <-d.timer.C:
			default:
			}
		}
	case <-d.timer.C:
	}
}

// Inflight returns the number of operations submitted but not yet finished
// executing. Finished operations count as zero even before they are polled.
func (d *Dispatcher) Inflight() int64 {
	return d.inflight.Load()
}
