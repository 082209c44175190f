// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rs9lcd parses the 9-byte LCD-snapshot protocol of the
// RadioShack 22-812 multimeter. Each packet is a 1:1 mapping of the
// LCD segments, hence the name. The device never identifies itself,
// so Valid applies every known structural check before a packet is
// accepted.
package rs9lcd // import "github.com/jhol/libsigrok/rs9lcd"

import (
	"math"

	"golang.org/x/xerrors"

	"github.com/jhol/libsigrok/datafeed"
)

// PacketSize is the fixed size of one rs9lcd packet, in bytes.
const PacketSize = 9

// ErrUnknownMode reports a structurally valid packet whose mode field
// is not mapped to any quantity.
var ErrUnknownMode = xerrors.New("rs9lcd: unknown mode")

// Byte offsets within a packet. Digit bytes run most-significant
// first: byte 3 holds the leading digit, byte 6 the trailing one.
const (
	bMode     = 0
	bInd1     = 1
	bInd2     = 2
	bDigit4   = 3 // most-significant digit
	bDigit3   = 4
	bDigit2   = 5
	bDigit1   = 6 // least-significant digit
	bInfo     = 7
	bChecksum = 8
)

// Indicator bits of byte 1.
const (
	ind1Hz    = 0x80
	ind1Ohm   = 0x40
	ind1Kilo  = 0x20
	ind1Mega  = 0x10
	ind1Farad = 0x08
	ind1Amp   = 0x04
	ind1Volt  = 0x02
	ind1Milli = 0x01
)

// Indicator bits of byte 2.
const (
	ind2Micro = 0x80
	ind2Nano  = 0x40
	ind2DBm   = 0x20
	ind2Sec   = 0x10
	ind2Duty  = 0x08
	ind2HFE   = 0x04
	ind2Rel   = 0x02
	ind2Min   = 0x01
)

// Info bits of byte 7.
const (
	infoBeep  = 0x80
	infoBat   = 0x20
	infoHold  = 0x10
	infoNeg   = 0x08
	infoAC    = 0x04
	infoRS232 = 0x02
	infoAuto  = 0x01
)

// The decimal-point bit of a digit byte. On the most-significant
// digit this bit carries the MAX flag instead of a decimal point.
const (
	dpMask  = 0x08
	dig4Max = 0x08
)

// 7-segment patterns, decimal point masked out.
const (
	lcd0 = 0xd7
	lcd1 = 0x50
	lcd2 = 0xb5
	lcd3 = 0xf1
	lcd4 = 0x72
	lcd5 = 0xe3
	lcd6 = 0xe7
	lcd7 = 0x51
	lcd8 = 0xf7
	lcd9 = 0xf3

	lcdC = 0x87 // Celsius marker
	lcdh = 0x66 // "short" in continuity mode
	lcdH = 0x76 // "HI" in logic-probe mode
)

// Modes of byte 0.
const (
	modeDCV = iota
	modeACV
	modeDCuA
	modeDCmA
	modeDCA
	modeACuA
	modeACmA
	modeACA
	modeOhm
	modeFarad
	modeHz
	modeVoltHz
	modeAmpHz
	modeDuty
	modeVoltDuty
	modeAmpDuty
	modeWidth
	modeVoltWidth
	modeAmpWidth
	modeDiode
	modeCont
	modeHFE
	modeLogic
	modeDBm
	modeEF // never observed on the wire
	modeTemp
	modeInvalid
)

func checksumOK(buf []byte) bool {
	var sum uint8
	for i := 0; i < PacketSize-1; i++ {
		sum += buf[i]
	}
	// The checksum carries a funky constant. Not a CRC: this exact
	// construction was reverse-engineered from the device.
	sum += 57
	sum -= buf[bChecksum]
	return sum == 0
}

func selectionOK(buf []byte) bool {
	// A packet may assert at most one multiplier...
	n := 0
	for _, bit := range []struct {
		off  int
		mask byte
	}{
		{bInd1, ind1Kilo},
		{bInd1, ind1Mega},
		{bInd1, ind1Milli},
		{bInd2, ind2Micro},
		{bInd2, ind2Nano},
	} {
		if buf[bit.off]&bit.mask != 0 {
			n++
		}
	}
	if n > 1 {
		return false
	}

	// ... and at most one measurement type.
	n = 0
	for _, bit := range []struct {
		off  int
		mask byte
	}{
		{bInd1, ind1Hz},
		{bInd1, ind1Ohm},
		{bInd1, ind1Farad},
		{bInd1, ind1Amp},
		{bInd1, ind1Volt},
		{bInd2, ind2DBm},
		{bInd2, ind2Sec},
		{bInd2, ind2Duty},
		{bInd2, ind2HFE},
	} {
		if buf[bit.off]&bit.mask != 0 {
			n++
		}
	}
	return n <= 1
}

// Valid reports whether buf holds a well-formed rs9lcd packet.
// It never panics on malformed input; callers drop the packet and
// resume scanning.
func Valid(buf []byte) bool {
	if len(buf) != PacketSize {
		return false
	}

	// Check the mode range first: no point computing the checksum
	// for a packet we would reject anyway.
	if buf[bMode] >= modeInvalid {
		return false
	}

	if !checksumOK(buf) {
		return false
	}

	return selectionOK(buf)
}

type readMode int

const (
	readAll  readMode = iota // parse all 4 digits
	readTemp                 // last digit holds the C/F marker
)

// digit maps a 7-segment pattern (decimal point already masked out)
// to its numeric value. A blank display position reads as 0.
func digit(raw byte) (uint8, bool) {
	switch raw {
	case 0x00, lcd0:
		return 0, true
	case lcd1:
		return 1, true
	case lcd2:
		return 2, true
	case lcd3:
		return 3, true
	case lcd4:
		return 4, true
	case lcd5:
		return 5, true
	case lcd6:
		return 6, true
	case lcd7:
		return 7, true
	case lcd8:
		return 8, true
	case lcd9:
		return 9, true
	}
	return 0, false
}

// lcdValue assembles the displayed number, most-significant digit
// first. An unrecognized digit pattern poisons the whole value to NaN
// rather than yielding a partial number.
func lcdValue(buf []byte, rd readMode) float64 {
	var (
		val  float64
		mult = 1.0
		dp   bool
	)

	last := bDigit1
	if rd == readTemp {
		// The trailing digit holds the temperature-unit letter.
		last = bDigit2
	}

	for i := bDigit4; i <= last; i++ {
		raw := buf[i]
		d, ok := digit(raw &^ dpMask)
		if !ok {
			val = math.NaN()
			break
		}
		// The leading digit has no decimal point: its dp bit is
		// the MAX flag, so it must not be tested here.
		if i > bDigit4 && raw&dpMask != 0 {
			dp = true
		}
		if dp {
			mult /= 10
		}
		val = val*10 + float64(d)
	}
	val *= mult

	if buf[bInfo]&infoNeg != 0 {
		val = -val
	}

	// Exactly one of these can fire; Valid rejected the rest.
	switch {
	case buf[bInd2]&ind2Nano != 0:
		val *= 1e-9
	case buf[bInd2]&ind2Micro != 0:
		val *= 1e-6
	case buf[bInd1]&ind1Milli != 0:
		val *= 1e-3
	case buf[bInd1]&ind1Kilo != 0:
		val *= 1e3
	case buf[bInd1]&ind1Mega != 0:
		val *= 1e6
	}

	return val
}

func isCelsius(buf []byte) bool {
	return buf[bDigit1]&^dpMask == lcdC
}

func isShortCircuit(buf []byte) bool {
	return buf[bDigit2]&^dpMask == lcdh
}

func isLogicHigh(buf []byte) bool {
	return buf[bDigit2]&^dpMask == lcdH
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Parse decodes a validated packet into a single-sample analog record.
// An unmapped mode returns the record with no quantity assigned,
// wrapped in ErrUnknownMode; the caller reports it but must not drop
// the record.
func Parse(buf []byte) (datafeed.Analog, error) {
	var (
		err error
		val = lcdValue(buf, readAll)
		out = datafeed.Analog{Data: []float64{val}}
	)

	switch buf[bMode] {
	case modeDCV:
		out.MQ = datafeed.MQVoltage
		out.Unit = datafeed.UnitVolt
		out.Flags |= datafeed.FlagDC
	case modeACV:
		out.MQ = datafeed.MQVoltage
		out.Unit = datafeed.UnitVolt
		out.Flags |= datafeed.FlagAC
	case modeDCuA, modeDCmA, modeDCA:
		out.MQ = datafeed.MQCurrent
		out.Unit = datafeed.UnitAmpere
		out.Flags |= datafeed.FlagDC
	case modeACuA, modeACmA, modeACA:
		out.MQ = datafeed.MQCurrent
		out.Unit = datafeed.UnitAmpere
		out.Flags |= datafeed.FlagAC
	case modeOhm:
		out.MQ = datafeed.MQResistance
		out.Unit = datafeed.UnitOhm
	case modeFarad:
		out.MQ = datafeed.MQCapacitance
		out.Unit = datafeed.UnitFarad
	case modeCont:
		out.MQ = datafeed.MQContinuity
		out.Unit = datafeed.UnitBoolean
		out.Data[0] = boolValue(isShortCircuit(buf))
	case modeDiode:
		out.MQ = datafeed.MQVoltage
		out.Unit = datafeed.UnitVolt
		out.Flags |= datafeed.FlagDiode | datafeed.FlagDC
	case modeHz, modeVoltHz, modeAmpHz:
		out.MQ = datafeed.MQFrequency
		out.Unit = datafeed.UnitHertz
	case modeLogic:
		// Whether or not an actual voltage is displayed, the probe
		// measures voltage.
		out.MQ = datafeed.MQVoltage
		if !math.IsNaN(val) {
			out.Unit = datafeed.UnitVolt
		} else {
			// The display reads HI or LO instead of a number.
			out.Unit = datafeed.UnitBoolean
			out.Data[0] = boolValue(isLogicHigh(buf))
		}
	case modeHFE:
		out.MQ = datafeed.MQGain
		out.Unit = datafeed.UnitUnitless
	case modeDuty, modeVoltDuty, modeAmpDuty:
		out.MQ = datafeed.MQDutyCycle
		out.Unit = datafeed.UnitPercent
	case modeWidth, modeVoltWidth, modeAmpWidth:
		out.MQ = datafeed.MQPulseWidth
		out.Unit = datafeed.UnitSecond
	case modeDBm:
		out.MQ = datafeed.MQPower
		out.Unit = datafeed.UnitDecibelMW
		out.Flags |= datafeed.FlagAC
	case modeTemp:
		out.MQ = datafeed.MQTemperature
		// Reparse: the trailing digit is the unit letter.
		out.Data[0] = lcdValue(buf, readTemp)
		out.Unit = datafeed.UnitFahrenheit
		if isCelsius(buf) {
			out.Unit = datafeed.UnitCelsius
		}
	default:
		err = xerrors.Errorf("rs9lcd: mode %d: %w", buf[bMode], ErrUnknownMode)
	}

	if buf[bInfo]&infoHold != 0 {
		out.Flags |= datafeed.FlagHold
	}
	if buf[bDigit4]&dig4Max != 0 {
		out.Flags |= datafeed.FlagMax
	}
	if buf[bInd2]&ind2Min != 0 {
		out.Flags |= datafeed.FlagMin
	}
	if buf[bInfo]&infoAuto != 0 {
		out.Flags |= datafeed.FlagAutoRange
	}

	return out, err
}
