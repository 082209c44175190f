// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ols

import (
	"io"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/jhol/libsigrok/datafeed"
	"github.com/jhol/libsigrok/driver"
	"github.com/jhol/libsigrok/session"
	"github.com/jhol/libsigrok/transport"
)

// Comm holds the analyzer's serial line parameters.
const Comm = "115200/8n1"

// The inactivity window that signals end of capture. The protocol has
// no "done" marker: once the device starts sending it does not pause,
// so a gap means it finished.
const drainTimeout = 30 * time.Millisecond

// Driver acquires captures from OLS compatible analyzers.
type Driver struct {
	msg *log.Logger

	mu   sync.Mutex
	cfgs map[string]*Config
	runs map[string]*run
}

type run struct {
	drv  *Driver
	dev  *driver.Device
	sess *session.Session
	send datafeed.SendFunc
	cfg  *Config

	fr        *Framer
	triggerAt int64
	started   bool
}

// NewDriver creates the analyzer driver.
func NewDriver() *Driver {
	return &Driver{
		msg:  log.New(os.Stdout, "ols: ", 0),
		cfgs: make(map[string]*Config),
		runs: make(map[string]*run),
	}
}

// Name implements driver.Driver.
func (drv *Driver) Name() string { return "ols" }

// Longname implements driver.Driver.
func (drv *Driver) Longname() string { return "Openbench Logic Sniffer" }

// Configure attaches a capture configuration to dev. It replaces any
// previous configuration.
func (drv *Driver) Configure(dev *driver.Device, cfg *Config) {
	drv.mu.Lock()
	drv.cfgs[dev.ID] = cfg
	drv.mu.Unlock()
}

// Scan probes the device behind port: it resets the analyzer,
// verifies the SUMP identity reply and, on protocol 1 devices,
// retrieves the metadata record.
func Scan(port transport.Port) (Metadata, error) {
	var md Metadata

	for i := 0; i < 5; i++ {
		if err := sendShort(port, cmdReset); err != nil {
			return md, err
		}
	}
	if err := sendShort(port, cmdID); err != nil {
		return md, err
	}

	var id [4]byte
	if _, err := io.ReadFull(port, id[:]); err != nil {
		return md, xerrors.Errorf("ols: could not read device id: %w", err)
	}

	switch string(id[:]) {
	case "1SLO":
		// OLS with metadata support.
		if err := sendShort(port, cmdMetadata); err != nil {
			return md, err
		}
		md, err := ReadMetadata(port)
		if err != nil {
			return md, err
		}
		if md.Name == "" {
			md.Name = "Openbench Logic Sniffer"
		}
		return md, nil
	case "1ALS":
		// Original SUMP analyzer, no metadata.
		md.Name = "Sump Logic Analyzer"
		md.NumProbes = NumProbes
		return md, nil
	}

	return md, xerrors.Errorf("ols: unknown device id %q", string(id[:]))
}

// AcquisitionStart implements driver.Driver. It arms the analyzer
// (trigger stages, divider, capture size, flag register), issues the
// run command and registers the port on the session. Sample data
// arrives once the trigger fires.
func (drv *Driver) AcquisitionStart(dev *driver.Device, sess *session.Session, send datafeed.SendFunc) error {
	if dev.Port == nil {
		return xerrors.Errorf("ols: device %q has no open port", dev.ID)
	}

	drv.mu.Lock()
	if _, dup := drv.runs[dev.ID]; dup {
		drv.mu.Unlock()
		return xerrors.Errorf("ols: device %q is already acquiring", dev.ID)
	}
	cfg := drv.cfgs[dev.ID]
	drv.mu.Unlock()

	if cfg == nil {
		return xerrors.Errorf("ols: device %q has no capture configuration", dev.ID)
	}
	if cfg.limitSamples == 0 {
		return xerrors.Errorf("ols: device %q has no sample limit set", dev.ID)
	}

	changrpMask, numChannels := cfg.changrp()
	if numChannels == 0 {
		return xerrors.Errorf("ols: device %q has no probes enabled", dev.ID)
	}

	// Limit the read count so the hardware never runs past the end
	// of its sample memory. The device counts in 4-sample words.
	limit := cfg.limitSamples
	if cfg.maxSamples != 0 && cfg.maxSamples/uint64(numChannels) < limit {
		limit = cfg.maxSamples / uint64(numChannels)
	}
	readcount := uint16(limit / 4)

	var (
		delaycount uint16
		triggerAt  int64 = -1
	)
	if cfg.triggerMask[0] != 0 {
		var triggerConfig [numTriggerStages]uint32
		if cfg.numStages > 0 {
			triggerConfig[cfg.numStages-1] |= 0x08
		}
		delaycount = uint16(float64(readcount) * (1 - float64(cfg.captureRatio)/100.0))
		triggerAt = int64(readcount-delaycount)*4 - int64(cfg.numStages)

		for i := 0; i < numTriggerStages; i++ {
			off := byte(4 * i)
			if err := sendLong(dev.Port, cmdSetTriggerMask0+off, reverse32(cfg.triggerMask[i])); err != nil {
				return err
			}
			if err := sendLong(dev.Port, cmdSetTriggerValue0+off, reverse32(cfg.triggerValue[i])); err != nil {
				return err
			}
			if err := sendLong(dev.Port, cmdSetTriggerConfig0+off, triggerConfig[i]); err != nil {
				return err
			}
		}
	} else {
		if err := sendLong(dev.Port, cmdSetTriggerMask0, 0); err != nil {
			return err
		}
		if err := sendLong(dev.Port, cmdSetTriggerValue0, 0); err != nil {
			return err
		}
		if err := sendLong(dev.Port, cmdSetTriggerConfig0, 0x00000008); err != nil {
			return err
		}
		delaycount = readcount
	}

	drv.msg.Printf("device %q: samplerate %d Hz (divider %d, demux %v)",
		dev.ID, cfg.sampleRate, cfg.divider, cfg.flagReg&flagDemux != 0)
	if err := sendLong(dev.Port, cmdSetDivider, reverse32(cfg.divider)); err != nil {
		return err
	}

	// Sample count and pre/post-trigger split, in 4-sample words.
	data := (uint32(readcount-1) & 0xffff) << 16
	data |= uint32(delaycount-1) & 0xffff
	if err := sendLong(dev.Port, cmdCaptureSize, reverse16(data)); err != nil {
		return err
	}

	// The flag register wants the channel groups inverted: a set bit
	// disables the group.
	cfg.flagReg |= uint16(^(changrpMask << 2)) & 0x3c
	cfg.flagReg |= flagFilter
	data = uint32(cfg.flagReg)<<24 | (uint32(cfg.flagReg)<<8)&0xff0000
	if err := sendLong(dev.Port, cmdSetFlags, data); err != nil {
		return err
	}

	if err := sendShort(dev.Port, cmdRun); err != nil {
		return err
	}

	r := &run{
		drv:       drv,
		dev:       dev,
		sess:      sess,
		send:      send,
		cfg:       cfg,
		triggerAt: triggerAt,
	}
	drv.mu.Lock()
	drv.runs[dev.ID] = r
	drv.mu.Unlock()

	// No timeout while armed: the trigger may take arbitrarily long.
	err := sess.Add(dev.ID, dev.Port, 0, r)
	if err != nil {
		drv.mu.Lock()
		delete(drv.runs, dev.ID)
		drv.mu.Unlock()
		return xerrors.Errorf("ols: could not register device %q: %w", dev.ID, err)
	}

	send(datafeed.Header{FeedVersion: 1, StartTime: time.Now()})
	send(datafeed.MetaLogic{SampleRate: cfg.sampleRate, NumProbes: NumProbes})

	dev.Status = driver.StatusAcquiring
	return nil
}

// AcquisitionStop implements driver.Driver. A completed or never
// started device is a no-op.
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

func (r *run) stop() {
	if r.sess.Remove(r.dev.ID) {
		r.send(datafeed.End{})
	}
	r.drv.mu.Lock()
	delete(r.drv.runs, r.dev.ID)
	r.drv.mu.Unlock()
	r.dev.Status = driver.StatusActive
}

// OnData implements session.Callback.
func (r *run) OnData(p []byte) {
	if !r.started {
		// The device started sending and will not pause until
		// done, so from now on a silent gap means the capture
		// finished.
		r.started = true
		r.sess.SetTimeout(r.dev.ID, drainTimeout)
		r.fr = NewFramer(r.cfg.flagReg, r.cfg.limitSamples, r.triggerAt)
	}
	r.fr.Feed(p)
}

// OnTimeout implements session.Callback. The inactivity window
// elapsed, so the capture is complete: emit it and wind down.
func (r *run) OnTimeout() {
	r.fr.Emit(r.send)
	r.stop()
}

// OnError implements session.Callback. A transport failure aborts the
// capture without emitting partial data.
func (r *run) OnError(err error) {
	r.drv.msg.Printf("device %q: aborting acquisition: %+v", r.dev.ID, err)
	r.stop()
}
