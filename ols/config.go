// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ols

import (
	"golang.org/x/xerrors"
)

// Probe is one logic channel of the analyzer.
type Probe struct {
	Index   int
	Enabled bool

	// Trigger holds one match character per trigger stage, '0' or
	// '1'. Empty means the probe does not participate in the
	// trigger.
	Trigger string
}

// Config accumulates the capture parameters for one analyzer. The
// zero value is not ready for use; NewConfig applies the hardware
// defaults.
type Config struct {
	sampleRate uint64
	divider    uint32
	flagReg    uint16

	limitSamples uint64
	captureRatio uint64

	probeMask    uint32
	triggerMask  [numTriggerStages]uint32
	triggerValue [numTriggerStages]uint32
	numStages    int

	// hardware limits, filled in from device metadata
	maxSamples    uint64
	maxSampleRate uint64
}

// NewConfig creates a capture configuration with the device defaults:
// all probes enabled, no trigger, 200kHz sample rate.
func NewConfig() *Config {
	cfg := &Config{
		probeMask: 0xffffffff,
	}
	_ = cfg.SetSampleRate(200000)
	return cfg
}

// ApplyMetadata imports the hardware limits a device scan reported.
// A zero field leaves the corresponding limit at its default.
func (cfg *Config) ApplyMetadata(md Metadata) {
	cfg.maxSamples = md.MaxSamples
	cfg.maxSampleRate = md.MaxSampleRate
}

// SampleRate returns the actual sample rate the divider realizes.
func (cfg *Config) SampleRate() uint64 { return cfg.sampleRate }

// LimitSamples returns the configured sample limit.
func (cfg *Config) LimitSamples() uint64 { return cfg.limitSamples }

// SetSampleRate configures the divider for the closest realizable
// rate at or below rate. Rates above the base clock engage the demux
// mode, which interleaves two channel groups to double the rate.
func (cfg *Config) SetSampleRate(rate uint64) error {
	max := uint64(2 * ClockRate)
	if cfg.maxSampleRate != 0 {
		max = cfg.maxSampleRate
	}
	if rate < 10 || rate > max {
		return xerrors.Errorf("ols: samplerate %d out of range", rate)
	}

	if rate > ClockRate {
		cfg.flagReg |= flagDemux
		cfg.divider = uint32(ClockRate*2/rate) - 1
	} else {
		cfg.flagReg &^= flagDemux
		cfg.divider = uint32(ClockRate/rate) - 1
	}

	cfg.sampleRate = ClockRate / uint64(cfg.divider+1)
	if cfg.flagReg&flagDemux != 0 {
		cfg.sampleRate *= 2
	}
	return nil
}

// SetLimitSamples caps the capture at n samples.
func (cfg *Config) SetLimitSamples(n uint64) error {
	if n < minNumSamples {
		return xerrors.Errorf("ols: sample limit %d below minimum %d", n, minNumSamples)
	}
	if cfg.maxSamples != 0 && n > cfg.maxSamples {
		return xerrors.Errorf("ols: sample limit %d exceeds device memory %d", n, cfg.maxSamples)
	}
	cfg.limitSamples = n
	return nil
}

// SetCaptureRatio sets the percentage of samples to acquire before
// the trigger fires.
func (cfg *Config) SetCaptureRatio(pct uint64) error {
	if pct > 100 {
		cfg.captureRatio = 0
		return xerrors.Errorf("ols: capture ratio %d out of range", pct)
	}
	cfg.captureRatio = pct
	return nil
}

// EnableRLE turns on hardware run-length encoding of the sample
// stream.
func (cfg *Config) EnableRLE() {
	cfg.flagReg |= flagRLE
}

// ConfigureProbes compiles the probe list into the channel-enable
// mask and the per-stage trigger masks. A probe's trigger string
// assigns one match per stage; more than four stages cannot be
// expressed by the hardware.
func (cfg *Config) ConfigureProbes(probes []Probe) error {
	cfg.probeMask = 0
	for i := range cfg.triggerMask {
		cfg.triggerMask[i] = 0
		cfg.triggerValue[i] = 0
	}
	cfg.numStages = 0

	for _, probe := range probes {
		if !probe.Enabled {
			continue
		}
		bit := uint32(1) << uint(probe.Index)
		cfg.probeMask |= bit

		if probe.Trigger == "" {
			continue
		}
		stage := 0
		for _, tc := range probe.Trigger {
			if stage >= numTriggerStages {
				return xerrors.Errorf("ols: probe %d: only %d trigger stages supported",
					probe.Index, numTriggerStages)
			}
			cfg.triggerMask[stage] |= bit
			if tc == '1' {
				cfg.triggerValue[stage] |= bit
			}
			stage++
		}
		if stage > cfg.numStages {
			cfg.numStages = stage
		}
	}

	return nil
}

// changrp returns the channel-group enable mask (bit per 8-probe
// group) and the number of enabled groups.
func (cfg *Config) changrp() (mask uint8, n int) {
	for i := 0; i < 4; i++ {
		if cfg.probeMask&(0xff<<(uint(i)*8)) != 0 {
			mask |= 1 << uint(i)
			n++
		}
	}
	return mask, n
}
