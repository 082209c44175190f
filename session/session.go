// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session implements the event loop that multiplexes all open
// devices of an acquisition session.
//
// One reactor goroutine owns every registered source. Source
// callbacks run on that goroutine, to completion and without
// preemption, so per-device state needs no locking. Ordering across
// different sources is undefined; ordering within one source is
// strictly FIFO with respect to arrival.
package session // import "github.com/jhol/libsigrok/session"

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/jhol/libsigrok/datafeed"
)

// Callback receives the events of one registered source. All methods
// are invoked on the reactor goroutine.
type Callback interface {
	// OnData delivers bytes read from the source. The slice is only
	// valid for the duration of the call.
	OnData(p []byte)

	// OnTimeout signals that the source's inactivity timeout expired
	// without new data.
	OnTimeout()

	// OnError reports a transport failure. The source is not removed
	// automatically; the callback decides how to wind down.
	OnError(err error)
}

type event struct {
	key  string
	data []byte
	err  error

	timeout bool
	seq     uint64 // arm sequence the timeout belongs to
}

type source struct {
	key string
	rd  io.Reader
	cb  Callback

	timeout time.Duration
	timer   *time.Timer
	seq     uint64 // bumped on every re-arm; stale timeouts are dropped

	stop chan struct{}
}

// Session multiplexes the event sources of all open devices and fans
// decoded data-feed packets out to the registered consumers.
type Session struct {
	msg  *log.Logger
	evs  chan event
	wake chan struct{} // nudges Run after Add/Remove from other goroutines

	mu      sync.Mutex
	srcs    map[string]*source
	feeds   []datafeed.Func
	started bool // at least one source was ever added
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(msg *log.Logger) Option {
	return func(s *Session) { s.msg = msg }
}

// New creates an empty session.
func New(opts ...Option) *Session {
	s := &Session{
		msg:  log.New(os.Stdout, "session: ", 0),
		evs:  make(chan event, 128),
		wake: make(chan struct{}, 1),
		srcs: make(map[string]*source),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed registers a data-feed consumer. Consumers are invoked in
// registration order, on the goroutine that calls Send.
func (s *Session) Feed(fn datafeed.Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds = append(s.feeds, fn)
}

// Send delivers a data-feed packet from the device dev to every
// registered consumer.
func (s *Session) Send(dev string, pkt datafeed.Packet) {
	s.mu.Lock()
	feeds := s.feeds
	s.mu.Unlock()

	for _, fn := range feeds {
		fn(dev, pkt)
	}
}

// Add registers a source under key and starts pumping bytes from rd.
// A zero timeout arms the source without an inactivity timer.
func (s *Session) Add(key string, rd io.Reader, timeout time.Duration, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.srcs[key]; dup {
		return xerrors.Errorf("session: source %q already registered", key)
	}

	src := &source{
		key:     key,
		rd:      rd,
		cb:      cb,
		timeout: timeout,
		stop:    make(chan struct{}),
	}
	s.srcs[key] = src
	s.started = true
	s.armLocked(src)

	go s.pump(src)
	return nil
}

// Remove deregisters the source under key and reports whether it was
// still registered. Removing an absent source is a no-op, so drivers
// may call it from both their completion and their stop paths.
func (s *Session) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.srcs[key]
	if !ok {
		return false
	}
	delete(s.srcs, key)
	close(src.stop)
	if src.timer != nil {
		src.timer.Stop()
	}
	s.nudge()
	return true
}

func (s *Session) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetTimeout changes the inactivity timeout of the source under key
// and re-arms its timer. Drivers use it to move a source from the
// armed state (no timeout) to streaming once the first byte arrived.
func (s *Session) SetTimeout(key string, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.srcs[key]
	if !ok {
		return
	}
	src.timeout = timeout
	s.armLocked(src)
}

func (s *Session) armLocked(src *source) {
	if src.timer != nil {
		src.timer.Stop()
		src.timer = nil
	}
	src.seq++
	if src.timeout <= 0 {
		return
	}
	seq := src.seq
	key := src.key
	src.timer = time.AfterFunc(src.timeout, func() {
		select {
		case s.evs <- event{key: key, timeout: true, seq: seq}:
		case <-src.stop:
		}
	})
}

// pump forwards whatever rd yields into the event channel. It runs on
// its own goroutine per source; the reactor is the only consumer.
func (s *Session) pump(src *source) {
	buf := make([]byte, 512)
	for {
		select {
		case <-src.stop:
			return
		default:
		}

		n, err := src.rd.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			select {
			case s.evs <- event{key: src.key, data: p}:
			case <-src.stop:
				return
			}
		}
		if err != nil {
			select {
			case s.evs <- event{key: src.key, err: err}:
			case <-src.stop:
			}
			return
		}
	}
}

// Run dispatches events until the context is cancelled or the last
// source has been removed. It is the session's only wait point;
// callbacks and data-feed consumers run on this goroutine.
func (s *Session) Run(ctx context.Context) error {
	for {
		if s.idle() {
			return nil
		}

		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case <-s.wake:
		case ev := <-s.evs:
			s.dispatch(ev)
		}
	}
}

func (s *Session) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && len(s.srcs) == 0
}

func (s *Session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, src := range s.srcs {
		delete(s.srcs, key)
		close(src.stop)
		if src.timer != nil {
			src.timer.Stop()
		}
	}
}

func (s *Session) dispatch(ev event) {
	s.mu.Lock()
	src, ok := s.srcs[ev.key]
	if ok && ev.timeout && ev.seq != src.seq {
		// Stale timer: the source was re-armed after this timeout
		// was queued.
		ok = false
	}
	if ok && ev.data != nil {
		s.armLocked(src)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	switch {
	case ev.err != nil:
		s.msg.Printf("source %q: transport error: %+v", ev.key, ev.err)
		src.cb.OnError(ev.err)
	case ev.timeout:
		src.cb.OnTimeout()
	default:
		src.cb.OnData(ev.data)
	}
}
