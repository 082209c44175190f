// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dmm implements acquisition from serial digital multimeters
// that continuously stream fixed-size display packets.
package dmm // import "github.com/jhol/libsigrok/dmm"

import (
	"github.com/jhol/libsigrok/datafeed"
	"github.com/jhol/libsigrok/rs9lcd"
	"github.com/jhol/libsigrok/transport"
)

// Family describes one multimeter protocol: the framing of its packet
// stream and the decoder for one packet.
type Family struct {
	Name       string // short driver name
	Vendor     string
	Model      string
	Comm       string // serial line parameters, e.g. "4800/8n1"
	PacketSize int

	// Valid reports whether buf holds a well-formed packet.
	Valid func(buf []byte) bool
	// Parse decodes one valid packet into an analog record.
	Parse func(buf []byte) (datafeed.Analog, error)
}

// RadioShack22812 is the RadioShack 22-812 digital multimeter, which
// streams 9-byte LCD snapshots at 4800 baud.
var RadioShack22812 = Family{
	Name:       "radioshack-dmm",
	Vendor:     "RadioShack",
	Model:      "22-812",
	Comm:       "4800/8n1",
	PacketSize: rs9lcd.PacketSize,
	Valid:      rs9lcd.Valid,
	Parse:      rs9lcd.Parse,
}

// CommParams returns the family's parsed serial line parameters.
func (fam Family) CommParams() (transport.Comm, error) {
	return transport.ParseComm(fam.Comm)
}

// Reading is one decoded packet. Err is set when the packet framed
// correctly but could not be decoded; Analog is only meaningful when
// Err is nil.
type Reading struct {
	Analog datafeed.Analog
	Err    error
}

// Reassembler recovers packet boundaries from an unsynchronized byte
// stream. Validation failures slip the window by a single byte, so a
// stream joined mid-packet resynchronizes within one packet length.
type Reassembler struct {
	fam Family
	buf []byte
}

// NewReassembler creates a reassembler for the given family.
func NewReassembler(fam Family) *Reassembler {
	return &Reassembler{
		fam: fam,
		buf: make([]byte, 0, 4*fam.PacketSize),
	}
}

// Feed appends p to the window and returns the readings for every
// packet that validated. Bytes that never line up with a valid packet
// are silently discarded.
func (ras *Reassembler) Feed(p []byte) []Reading {
	ras.buf = append(ras.buf, p...)

	var out []Reading
	for len(ras.buf) >= ras.fam.PacketSize {
		pkt := ras.buf[:ras.fam.PacketSize]
		if !ras.fam.Valid(pkt) {
			ras.buf = ras.buf[1:]
			continue
		}
		analog, err := ras.fam.Parse(pkt)
		out = append(out, Reading{Analog: analog, Err: err})
		ras.buf = ras.buf[ras.fam.PacketSize:]
	}

	return out
}

// Pending returns the number of buffered bytes not yet framed.
func (ras *Reassembler) Pending() int { return len(ras.buf) }
