// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dmm

import (
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/jhol/libsigrok/datafeed"
	"github.com/jhol/libsigrok/driver"
	"github.com/jhol/libsigrok/session"
)

// Driver acquires readings from one multimeter family. The meter
// streams continuously, so an acquisition runs until the sample limit
// is reached or the caller stops it.
type Driver struct {
	fam Family
	msg *log.Logger

	mu    sync.Mutex
	limit uint64
	runs  map[string]*run
}

type run struct {
	drv  *Driver
	dev  *driver.Device
	sess *session.Session
	send datafeed.SendFunc
	ras  *Reassembler

	limit uint64
	num   uint64
}

// NewDriver creates a driver for the given family.
func NewDriver(fam Family) *Driver {
	return &Driver{
		fam:  fam,
		msg:  log.New(os.Stdout, fam.Name+": ", 0),
		runs: make(map[string]*run),
	}
}

// Name implements driver.Driver.
func (drv *Driver) Name() string { return drv.fam.Name }

// Longname implements driver.Driver.
func (drv *Driver) Longname() string { return drv.fam.Vendor + " " + drv.fam.Model }

// SetLimitSamples caps subsequent acquisitions at n readings.
// 0 means unlimited.
func (drv *Driver) SetLimitSamples(n uint64) {
	drv.mu.Lock()
	drv.limit = n
	drv.mu.Unlock()
}

// AcquisitionStart implements driver.Driver. It emits the feed header
// and analog metadata, then registers dev's port on the session.
func (drv *Driver) AcquisitionStart(dev *driver.Device, sess *session.Session, send datafeed.SendFunc) error {
	if dev.Port == nil {
		return xerrors.Errorf("dmm: device %q has no open port", dev.ID)
	}

	drv.mu.Lock()
	if _, dup := drv.runs[dev.ID]; dup {
		drv.mu.Unlock()
		return xerrors.Errorf("dmm: device %q is already acquiring", dev.ID)
	}
	r := &run{
		drv:   drv,
		dev:   dev,
		sess:  sess,
		send:  send,
		ras:   NewReassembler(drv.fam),
		limit: drv.limit,
	}
	drv.runs[dev.ID] = r
	drv.mu.Unlock()

	send(datafeed.Header{FeedVersion: 1, StartTime: time.Now()})
	send(datafeed.MetaAnalog{NumProbes: 1})

	err := sess.Add(dev.ID, dev.Port, 0, r)
	if err != nil {
		drv.mu.Lock()
		delete(drv.runs, dev.ID)
		drv.mu.Unlock()
		return xerrors.Errorf("dmm: could not register device %q: %w", dev.ID, err)
	}

	dev.Status = driver.StatusAcquiring
	return nil
}

// AcquisitionStop implements driver.Driver. Stopping an idle device
// is a no-op.
func (drv *Driver) AcquisitionStop(dev *driver.Device) error {
	drv.mu.Lock()
	r, ok := drv.runs[dev.ID]
	drv.mu.Unlock()
	if !ok {
		return nil
	}
	r.stop()
	return nil
}

// stop tears down the run. The End record is emitted exactly once, by
// whoever actually removed the source.
func (r *run) stop() {
	if r.sess.Remove(r.dev.ID) {
		r.send(datafeed.End{})
	}
	r.drv.mu.Lock()
	delete(r.drv.runs, r.dev.ID)
	r.drv.mu.Unlock()
	r.dev.Status = driver.StatusActive
}

// OnData implements session.Callback. Every reassembled reading goes
// downstream, including those with an unmapped mode: their record
// carries no quantity, but consumers decide what to do with it.
func (r *run) OnData(p []byte) {
	for _, reading := range r.ras.Feed(p) {
		if reading.Err != nil {
			r.drv.msg.Printf("device %q: %+v", r.dev.ID, reading.Err)
		}
		r.send(reading.Analog)
		r.num++
		if r.limit > 0 && r.num >= r.limit {
			r.stop()
			return
		}
	}
}

// OnTimeout implements session.Callback. The meter streams without
// prompting, so no inactivity timeout is armed.
func (r *run) OnTimeout() {}

// OnError implements session.Callback.
func (r *run) OnError(err error) {
	r.drv.msg.Printf("device %q: aborting acquisition: %+v", r.dev.ID, err)
	r.stop()
}
