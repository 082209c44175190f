// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ols drives Openbench Logic Sniffer compatible logic
// analyzers speaking the SUMP protocol over a serial link.
package ols // import "github.com/jhol/libsigrok/ols"

import (
	"io"

	"golang.org/x/xerrors"
)

// ClockRate is the analyzer's base sampling clock, in Hz.
const ClockRate = 100000000

// NumProbes is the number of logic probes on the PCB.
const NumProbes = 32

const (
	numTriggerStages = 4
	minNumSamples    = 4
)

// Short SUMP commands.
const (
	cmdReset    = 0x00
	cmdRun      = 0x01
	cmdID       = 0x02
	cmdMetadata = 0x04
)

// Long SUMP commands, each followed by 4 data bytes.
const (
	cmdSetDivider  = 0x80
	cmdCaptureSize = 0x81
	cmdSetFlags    = 0x82

	// Trigger stage n uses command + 4*n.
	cmdSetTriggerMask0   = 0xc0
	cmdSetTriggerValue0  = 0xc1
	cmdSetTriggerConfig0 = 0xc2
)

// Flag register bits.
const (
	flagDemux        = 0x0001
	flagFilter       = 0x0002
	flagChanGroup1   = 0x0004 // 1 means "group disabled"
	flagChanGroup2   = 0x0008
	flagChanGroup3   = 0x0010
	flagChanGroup4   = 0x0020
	flagClockExt     = 0x0040
	flagClockInverse = 0x0080
	flagRLE          = 0x0100
)

func sendShort(w io.Writer, cmd byte) error {
	n, err := w.Write([]byte{cmd})
	switch {
	case err != nil:
		return xerrors.Errorf("ols: could not send cmd 0x%02x: %w", cmd, err)
	case n != 1:
		return xerrors.Errorf("ols: could not send cmd 0x%02x: %w", cmd, io.ErrShortWrite)
	}
	return nil
}

func sendLong(w io.Writer, cmd byte, data uint32) error {
	buf := []byte{
		cmd,
		byte(data >> 24),
		byte(data >> 16),
		byte(data >> 8),
		byte(data),
	}
	n, err := w.Write(buf)
	switch {
	case err != nil:
		return xerrors.Errorf("ols: could not send cmd 0x%02x data 0x%08x: %w", cmd, data, err)
	case n != len(buf):
		return xerrors.Errorf("ols: could not send cmd 0x%02x data 0x%08x: %w", cmd, data, io.ErrShortWrite)
	}
	return nil
}

func reverse16(in uint32) uint32 {
	var out uint32
	out = (in & 0xff) << 8
	out |= (in & 0xff00) >> 8
	out |= (in & 0xff0000) << 8
	out |= (in & 0xff000000) >> 8
	return out
}

func reverse32(in uint32) uint32 {
	var out uint32
	out = (in & 0xff) << 24
	out |= (in & 0xff00) << 8
	out |= (in & 0xff0000) >> 8
	out |= (in & 0xff000000) >> 24
	return out
}
