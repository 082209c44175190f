// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ols

import (
	"github.com/jhol/libsigrok/datafeed"
)

// Framer assembles the analyzer's raw byte stream into chronologically
// ordered 32-bit samples.
//
// The device transmits its capture buffer newest-sample-first, each
// sample narrowed to the enabled channel groups, optionally run-length
// encoded. The framer back-fills a fixed buffer from the tail so the
// result is oldest-first without a reversal pass.
type Framer struct {
	flagReg   uint16
	limit     uint64
	triggerAt int64 // sample index, -1 when no trigger armed

	groups int // bytes per transmitted sample

	sample [4]byte
	nbytes int
	rle    uint64
	num    uint64 // samples assembled so far, never exceeds limit

	buf []byte
}

// NewFramer creates a framer for a capture of at most limit samples.
// flagReg is the device flag register the capture was armed with;
// triggerAt is the sample index the trigger fired at, or -1.
func NewFramer(flagReg uint16, limit uint64, triggerAt int64) *Framer {
	fr := &Framer{
		flagReg:   flagReg,
		limit:     limit,
		triggerAt: triggerAt,
		buf:       make([]byte, limit*4),
	}
	for i := uint16(0x20); i > 0x02; i /= 2 {
		if fr.flagReg&i == 0 {
			fr.groups++
		}
	}
	return fr
}

// Feed consumes raw bytes from the device. Bytes beyond the sample
// limit are discarded.
func (fr *Framer) Feed(p []byte) {
	for _, b := range p {
		if fr.num >= fr.limit {
			return
		}
		fr.sample[fr.nbytes] = b
		fr.nbytes++
		if fr.nbytes < fr.groups {
			continue
		}
		fr.endSample()
	}
}

// endSample finishes one narrow sample: either latch it as an RLE
// repeat count or expand and store it.
func (fr *Framer) endSample() {
	if fr.flagReg&flagRLE != 0 && fr.sample[fr.nbytes-1]&0x80 != 0 {
		// Bit 31 is reserved as the RLE marker, so this is a
		// repeat count for the previous sample, not data.
		fr.sample[fr.nbytes-1] &= 0x7f
		fr.rle = uint64(fr.sample[0]) | uint64(fr.sample[1])<<8 |
			uint64(fr.sample[2])<<16 | uint64(fr.sample[3])<<24
		fr.nbytes = 0
		for i := range fr.sample {
			fr.sample[i] = 0
		}
		return
	}

	fr.num += fr.rle + 1
	if fr.num > fr.limit {
		fr.rle -= fr.num - fr.limit
		fr.num = fr.limit
	}

	// Scatter the narrow sample into full 32-bit positions. A set
	// group bit in the flag register means that group was disabled
	// and reads as zero.
	var full [4]byte
	if fr.groups < 4 {
		j := 0
		for i := 0; i < 4; i++ {
			if (fr.flagReg>>2)&(1<<uint(i)) == 0 {
				full[i] = fr.sample[j]
				j++
			}
		}
	} else {
		full = fr.sample
	}

	// Back-fill: the device sends newest samples first.
	offset := (fr.limit - fr.num) * 4
	for i := uint64(0); i <= fr.rle; i++ {
		copy(fr.buf[offset+i*4:offset+i*4+4], full[:])
	}

	for i := range fr.sample {
		fr.sample[i] = 0
	}
	fr.nbytes = 0
	fr.rle = 0
}

// Done reports whether the sample limit has been reached.
func (fr *Framer) Done() bool { return fr.num >= fr.limit }

// NumSamples returns the number of samples assembled so far.
func (fr *Framer) NumSamples() uint64 { return fr.num }

// Emit sends the assembled capture downstream. With an armed trigger
// the capture is split into pre-trigger samples, a trigger marker and
// post-trigger samples; otherwise a single segment covers everything.
func (fr *Framer) Emit(send datafeed.SendFunc) {
	base := (fr.limit - fr.num) * 4

	if fr.triggerAt != -1 {
		// Small captures can place the trigger before sample 0
		// once the stage count is subtracted; clamp it.
		var at uint64
		if fr.triggerAt > 0 {
			at = uint64(fr.triggerAt)
		}
		if at > fr.num {
			at = fr.num
		}
		if at > 0 {
			send(datafeed.Logic{
				UnitSize: 4,
				Data:     fr.buf[base : base+at*4],
			})
		}
		send(datafeed.Trigger{})
		send(datafeed.Logic{
			UnitSize: 4,
			Data:     fr.buf[base+at*4 : base+fr.num*4],
		})
		return
	}

	send(datafeed.Logic{
		UnitSize: 4,
		Data:     fr.buf[base : base+fr.num*4],
	})
}
