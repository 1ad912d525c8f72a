package chat

import (
	"errors"
	"sync"
)

// errDispatcherClosed is returned for work submitted after close.
var errDispatcherClosed = errors.New("dispatcher closed")

type dispatchResult struct {
	value any
	err   error
}

// dispatcher serializes all mirror state changes onto a single goroutine.
//
// Commands arrive from caller goroutines and broker pushes arrive from the
// transport's read goroutine; funneling both through one queue gives the
// mirror the event-loop ordering a UI runtime would provide, without locks
// around multi-step transitions.
type dispatcher struct {
	closeOnce sync.Once
	q         chan func()
	done      chan struct{}
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case fn := <-d.q:
				if fn != nil {
					fn()
				}
			case <-d.done:
				return
			}
		}
	}()
	return d
}

// close stops the dispatch goroutine. Queued work may be dropped; submissions
// after close return errDispatcherClosed. Safe to call more than once.
func (d *dispatcher) close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}

// do enqueues fn without waiting for it to run.
func (d *dispatcher) do(fn func()) error {
	if d == nil {
		return errors.New("dispatcher not initialized")
	}
	if fn == nil {
		return nil
	}
	select {
	case d.q <- fn:
		return nil
	case <-d.done:
		return errDispatcherClosed
	}
}

// call runs fn on the dispatch goroutine and waits for its result.
func (d *dispatcher) call(fn func() (any, error)) (any, error) {
	if d == nil {
		return nil, errors.New("dispatcher not initialized")
	}
	if fn == nil {
		return nil, nil
	}
	result := make(chan dispatchResult, 1)
	if err := d.do(func() {
		value, err := fn()
		result <- dispatchResult{value: value, err: err}
	}); err != nil {
		return nil, err
	}
	select {
	case res := <-result:
		return res.value, res.err
	case <-d.done:
		return nil, errDispatcherClosed
	}
}
