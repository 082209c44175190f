// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport abstracts the byte pipes acquisition drivers read
// from, and opens the serial and FTDI flavors used by real devices.
package transport // import "github.com/jhol/libsigrok/transport"

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Port is a device byte pipe. Reads block until data arrives or the
// port is closed; Close unblocks pending reads.
type Port interface {
	io.ReadWriteCloser
}

// Comm holds serial line parameters.
type Comm struct {
	Baud     int
	DataBits int
	Parity   byte // 'n', 'e' or 'o'
	StopBits int
}

// ParseComm parses a "conn params" string of the form "115200/8n1".
func ParseComm(s string) (Comm, error) {
	var comm Comm

	i := strings.IndexByte(s, '/')
	if i < 0 {
		return comm, xerrors.Errorf("transport: invalid comm params %q", s)
	}

	baud, err := strconv.Atoi(s[:i])
	if err != nil || baud <= 0 {
		return comm, xerrors.Errorf("transport: invalid baud rate in %q", s)
	}

	frame := s[i+1:]
	if len(frame) != 3 {
		return comm, xerrors.Errorf("transport: invalid frame format in %q", s)
	}

	databits := int(frame[0] - '0')
	if databits < 5 || databits > 8 {
		return comm, xerrors.Errorf("transport: invalid data bits in %q", s)
	}

	parity := frame[1]
	switch parity {
	case 'n', 'e', 'o':
	default:
		return comm, xerrors.Errorf("transport: invalid parity in %q", s)
	}

	stopbits := int(frame[2] - '0')
	if stopbits != 1 && stopbits != 2 {
		return comm, xerrors.Errorf("transport: invalid stop bits in %q", s)
	}

	comm = Comm{
		Baud:     baud,
		DataBits: databits,
		Parity:   parity,
		StopBits: stopbits,
	}
	return comm, nil
}

// String renders the params in "115200/8n1" form.
func (c Comm) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(c.Baud))
	sb.WriteByte('/')
	sb.WriteByte(byte('0' + c.DataBits))
	sb.WriteByte(c.Parity)
	sb.WriteByte(byte('0' + c.StopBits))
	return sb.String()
}
