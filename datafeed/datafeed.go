// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package datafeed defines the typed records emitted by acquisition
// drivers to downstream consumers.
package datafeed // import "github.com/jhol/libsigrok/datafeed"

import (
	"strings"
	"time"
)

// MQ is a measured quantity.
type MQ int

const (
	MQVoltage MQ = iota + 1
	MQCurrent
	MQResistance
	MQCapacitance
	MQTemperature
	MQFrequency
	MQDutyCycle
	MQContinuity
	MQPulseWidth
	MQConductance
	MQPower
	MQGain
)

func (mq MQ) String() string {
	switch mq {
	case MQVoltage:
		return "voltage"
	case MQCurrent:
		return "current"
	case MQResistance:
		return "resistance"
	case MQCapacitance:
		return "capacitance"
	case MQTemperature:
		return "temperature"
	case MQFrequency:
		return "frequency"
	case MQDutyCycle:
		return "duty-cycle"
	case MQContinuity:
		return "continuity"
	case MQPulseWidth:
		return "pulse-width"
	case MQConductance:
		return "conductance"
	case MQPower:
		return "power"
	case MQGain:
		return "gain"
	}
	return "unknown"
}

// Unit is the unit a value is expressed in.
type Unit int

const (
	UnitVolt Unit = iota + 1
	UnitAmpere
	UnitOhm
	UnitFarad
	UnitKelvin
	UnitCelsius
	UnitFahrenheit
	UnitHertz
	UnitPercent
	UnitBoolean
	UnitSecond
	UnitSiemens
	UnitDecibelMW
	UnitUnitless
)

func (u Unit) String() string {
	switch u {
	case UnitVolt:
		return "V"
	case UnitAmpere:
		return "A"
	case UnitOhm:
		return "Ohm"
	case UnitFarad:
		return "F"
	case UnitKelvin:
		return "K"
	case UnitCelsius:
		return "degC"
	case UnitFahrenheit:
		return "degF"
	case UnitHertz:
		return "Hz"
	case UnitPercent:
		return "%"
	case UnitBoolean:
		return "bool"
	case UnitSecond:
		return "s"
	case UnitSiemens:
		return "S"
	case UnitDecibelMW:
		return "dBm"
	case UnitUnitless:
		return ""
	}
	return "?"
}

// Flags qualifies a measurement (AC/DC coupling, hold, ...).
type Flags uint32

const (
	FlagAC Flags = 1 << iota
	FlagDC
	FlagRMS
	FlagDiode
	FlagHold
	FlagMax
	FlagMin
	FlagAutoRange
	FlagRelative
)

func (f Flags) String() string {
	var (
		o     = new(strings.Builder)
		names = []struct {
			flag Flags
			name string
		}{
			{FlagAC, "AC"},
			{FlagDC, "DC"},
			{FlagRMS, "RMS"},
			{FlagDiode, "diode"},
			{FlagHold, "hold"},
			{FlagMax, "max"},
			{FlagMin, "min"},
			{FlagAutoRange, "auto"},
			{FlagRelative, "rel"},
		}
	)
	for _, n := range names {
		if f&n.flag == 0 {
			continue
		}
		if o.Len() > 0 {
			o.WriteString("|")
		}
		o.WriteString(n.name)
	}
	return o.String()
}

// Packet is one record of the data feed. Concrete types are Header,
// MetaLogic, MetaAnalog, Logic, Analog, Trigger and End.
type Packet interface {
	isPacket()
}

// Header opens a device's data feed.
type Header struct {
	FeedVersion uint8
	StartTime   time.Time
}

// MetaLogic describes the Logic records to come.
type MetaLogic struct {
	SampleRate uint64 // samples per second
	NumProbes  int
}

// MetaAnalog describes the Analog records to come.
type MetaAnalog struct {
	NumProbes int
}

// Logic carries logic samples in chronological order. Data holds
// len(Data)/UnitSize samples of UnitSize bytes each.
type Logic struct {
	UnitSize int
	Data     []byte
}

// Analog carries analog samples in chronological order.
type Analog struct {
	MQ    MQ
	Unit  Unit
	Flags Flags
	Data  []float64
}

// Trigger marks the trigger point between two Logic records.
type Trigger struct{}

// End closes a device's data feed.
type End struct{}

func (Header) isPacket()     {}
func (MetaLogic) isPacket()  {}
func (MetaAnalog) isPacket() {}
func (Logic) isPacket()      {}
func (Analog) isPacket()     {}
func (Trigger) isPacket()    {}
func (End) isPacket()        {}

// SendFunc delivers one packet to the downstream sink. Packets sent
// through a single SendFunc arrive in the order they were sent.
type SendFunc func(pkt Packet)

// Func receives the packets of every device attached to a session.
type Func func(dev string, pkt Packet)
