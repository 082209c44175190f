// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"golang.org/x/xerrors"

	"go.bug.st/serial"
)

var (
	serialOpen = serialOpenImpl
)

func serialOpenImpl(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// OpenSerial opens the serial port at path with the given line
// parameters.
func OpenSerial(path string, comm Comm) (Port, error) {
	var parity serial.Parity
	switch comm.Parity {
	case 'n':
		parity = serial.NoParity
	case 'e':
		parity = serial.EvenParity
	case 'o':
		parity = serial.OddParity
	default:
		return nil, xerrors.Errorf("transport: invalid parity %q", comm.Parity)
	}

	var stopbits serial.StopBits
	switch comm.StopBits {
	case 1:
		stopbits = serial.OneStopBit
	case 2:
		stopbits = serial.TwoStopBits
	default:
		return nil, xerrors.Errorf("transport: invalid stop bits %d", comm.StopBits)
	}

	port, err := serialOpen(path, &serial.Mode{
		BaudRate: comm.Baud,
		DataBits: comm.DataBits,
		Parity:   parity,
		StopBits: stopbits,
	})
	if err != nil {
		return nil, xerrors.Errorf("transport: could not open serial port %q: %w", path, err)
	}
	return port, nil
}
