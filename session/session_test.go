// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/jhol/libsigrok/datafeed"
)

type testCB struct {
	onData    func(p []byte)
	onTimeout func()
	onError   func(err error)
}

func (cb *testCB) OnData(p []byte) {
	if cb.onData != nil {
		cb.onData(p)
	}
}

func (cb *testCB) OnTimeout() {
	if cb.onTimeout != nil {
		cb.onTimeout()
	}
}

func (cb *testCB) OnError(err error) {
	if cb.onError != nil {
		cb.onError(err)
	}
}

// blockReader serves queued chunks and then blocks until closed.
type blockReader struct {
	ch     chan []byte
	cur    []byte
	closed chan struct{}
}

func newBlockReader() *blockReader {
	return &blockReader{
		ch:     make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (r *blockReader) Read(b []byte) (int, error) {
	if len(r.cur) == 0 {
		select {
		case d := <-r.ch:
			r.cur = d
		case <-r.closed:
			return 0, io.EOF
		}
	}
	n := copy(b, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func (r *blockReader) Close() error {
	close(r.closed)
	return nil
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSessionFIFO(t *testing.T) {
	sess := New(WithLogger(quiet()))

	input := []byte("the quick brown fox jumps over the lazy dog")
	var got bytes.Buffer

	cb := &testCB{
		onData: func(p []byte) { got.Write(p) },
		onError: func(err error) {
			if err != io.EOF {
				t.Errorf("invalid transport error: %+v", err)
			}
			sess.Remove("dev0")
		},
	}
	err := sess.Add("dev0", bytes.NewReader(input), 0, cb)
	if err != nil {
		t.Fatalf("could not add source: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = sess.Run(ctx)
	if err != nil {
		t.Fatalf("could not run session: %+v", err)
	}

	if !bytes.Equal(got.Bytes(), input) {
		t.Fatalf("invalid data:\ngot= %q\nwant=%q", got.Bytes(), input)
	}
}

func TestSessionDuplicateKey(t *testing.T) {
	sess := New(WithLogger(quiet()))
	rd := newBlockReader()
	defer rd.Close()

	if err := sess.Add("dev0", rd, 0, &testCB{}); err != nil {
		t.Fatalf("could not add source: %+v", err)
	}
	err := sess.Add("dev0", rd, 0, &testCB{})
	if err == nil {
		t.Fatalf("expected an error for a duplicate key")
	}
	if got, want := err.Error(), `session: source "dev0" already registered`; got != want {
		t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
	}
}

func TestSessionTimeout(t *testing.T) {
	sess := New(WithLogger(quiet()))
	rd := newBlockReader()
	defer rd.Close()

	var (
		data     bytes.Buffer
		timedOut bool
	)
	cb := &testCB{
		onData: func(p []byte) { data.Write(p) },
		onTimeout: func() {
			timedOut = true
			sess.Remove("dev0")
		},
	}
	err := sess.Add("dev0", rd, 20*time.Millisecond, cb)
	if err != nil {
		t.Fatalf("could not add source: %+v", err)
	}
	rd.ch <- []byte{0x01, 0x02}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = sess.Run(ctx)
	if err != nil {
		t.Fatalf("could not run session: %+v", err)
	}

	if !timedOut {
		t.Fatalf("inactivity timeout did not fire")
	}
	if got, want := data.Bytes(), []byte{0x01, 0x02}; !bytes.Equal(got, want) {
		t.Fatalf("invalid data before timeout: got=%v, want=%v", got, want)
	}
}

func TestSessionRemoveIdempotent(t *testing.T) {
	sess := New(WithLogger(quiet()))
	rd := newBlockReader()
	defer rd.Close()

	if err := sess.Add("dev0", rd, 0, &testCB{}); err != nil {
		t.Fatalf("could not add source: %+v", err)
	}
	if !sess.Remove("dev0") {
		t.Fatalf("first remove reported the source absent")
	}
	if sess.Remove("dev0") {
		t.Fatalf("second remove reported the source still present")
	}
}

func TestSessionErrorIsolation(t *testing.T) {
	sess := New(WithLogger(quiet()))

	// dev0 fails immediately; dev1 must still deliver everything.
	var (
		failed bool
		got    bytes.Buffer
	)
	err := sess.Add("dev0", errReader{}, 0, &testCB{
		onError: func(err error) {
			failed = true
			sess.Remove("dev0")
		},
	})
	if err != nil {
		t.Fatalf("could not add source: %+v", err)
	}

	input := []byte("uninterrupted")
	err = sess.Add("dev1", bytes.NewReader(input), 0, &testCB{
		onData: func(p []byte) { got.Write(p) },
		onError: func(err error) {
			sess.Remove("dev1")
		},
	})
	if err != nil {
		t.Fatalf("could not add source: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = sess.Run(ctx)
	if err != nil {
		t.Fatalf("could not run session: %+v", err)
	}

	if !failed {
		t.Fatalf("faulty source never reported its error")
	}
	if !bytes.Equal(got.Bytes(), input) {
		t.Fatalf("healthy source lost data:\ngot= %q\nwant=%q", got.Bytes(), input)
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestSessionSendFanout(t *testing.T) {
	sess := New(WithLogger(quiet()))

	var (
		got1 []string
		got2 []string
	)
	sess.Feed(func(dev string, pkt datafeed.Packet) {
		got1 = append(got1, dev)
	})
	sess.Feed(func(dev string, pkt datafeed.Packet) {
		got2 = append(got2, dev)
	})

	sess.Send("dev0", datafeed.Trigger{})
	sess.Send("dev1", datafeed.End{})

	want := []string{"dev0", "dev1"}
	for _, got := range [][]string{got1, got2} {
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("invalid fan-out: got=%v, want=%v", got, want)
		}
	}
}

func TestSessionCancel(t *testing.T) {
	sess := New(WithLogger(quiet()))
	rd := newBlockReader()
	defer rd.Close()

	if err := sess.Add("dev0", rd, 0, &testCB{}); err != nil {
		t.Fatalf("could not add source: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := sess.Run(ctx)
	if err != context.Canceled {
		t.Fatalf("invalid error: got=%v, want=%v", err, context.Canceled)
	}
}
