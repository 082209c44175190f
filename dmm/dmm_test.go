// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dmm

import (
	"bytes"
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/jhol/libsigrok/datafeed"
	"github.com/jhol/libsigrok/driver"
	"github.com/jhol/libsigrok/session"
)

// 7-segment digits as the 22-812 sends them.
const (
	lcd1 = 0x50
	lcd2 = 0xb5
	lcd3 = 0xf1
	lcd4 = 0x72

	dp = 0x08
)

// packet builds a 9-byte 22-812 frame with a correct checksum.
func packet(mode, ind1, ind2, d4, d3, d2, d1, info byte) []byte {
	buf := []byte{mode, ind1, ind2, d4, d3, d2, d1, info, 0}
	var sum byte
	for _, b := range buf[:8] {
		sum += b
	}
	buf[8] = sum + 57
	return buf
}

// dcVolts is a "1.234 V DC" frame.
func dcVolts() []byte {
	return packet(0, 0x02, 0, lcd1, lcd2|dp, lcd3, lcd4, 0x01)
}

func TestReassembler(t *testing.T) {
	ras := NewReassembler(RadioShack22812)

	// Joining mid-stream: two garbage bytes, then a packet split
	// across three feeds.
	pkt := dcVolts()
	var got []Reading
	got = append(got, ras.Feed([]byte{0xff, 0x00})...)
	got = append(got, ras.Feed(pkt[:4])...)
	got = append(got, ras.Feed(pkt[4:])...)

	if len(got) != 1 {
		t.Fatalf("invalid number of readings: got=%d, want=1", len(got))
	}
	if got[0].Err != nil {
		t.Fatalf("could not decode packet: %+v", got[0].Err)
	}
	checkVolts(t, got[0].Analog)

	// A corrupted byte between packets must not derail the next one.
	got = ras.Feed([]byte{0x42})
	got = append(got, ras.Feed(pkt)...)
	if len(got) != 1 {
		t.Fatalf("did not resynchronize: got=%d readings, want=1", len(got))
	}
	checkVolts(t, got[0].Analog)
}

func TestReassemblerUnknownMode(t *testing.T) {
	ras := NewReassembler(RadioShack22812)

	// Mode 24 frames correctly but has no quantity mapping.
	got := ras.Feed(packet(24, 0, 0, lcd1, lcd2, lcd3, lcd4, 0))
	if len(got) != 1 {
		t.Fatalf("invalid number of readings: got=%d, want=1", len(got))
	}
	if got[0].Err == nil {
		t.Fatalf("expected a decode error")
	}
}

func checkVolts(t *testing.T, analog datafeed.Analog) {
	t.Helper()
	if got, want := analog.MQ, datafeed.MQVoltage; got != want {
		t.Fatalf("invalid quantity: got=%v, want=%v", got, want)
	}
	if got, want := analog.Unit, datafeed.UnitVolt; got != want {
		t.Fatalf("invalid unit: got=%v, want=%v", got, want)
	}
	if analog.Flags&datafeed.FlagDC == 0 {
		t.Fatalf("missing DC flag: got=%v", analog.Flags)
	}
	if len(analog.Data) != 1 || math.Abs(analog.Data[0]-1.234) > 1e-9 {
		t.Fatalf("invalid value: got=%v, want=[1.234]", analog.Data)
	}
}

type fakePort struct {
	io.Reader
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *fakePort) Close() error                { return nil }

func TestDriverAcquisition(t *testing.T) {
	// A stream joined mid-packet, then four frames. The sample limit
	// is three, so the fourth frame must never be forwarded.
	var stream []byte
	stream = append(stream, 0xaa, 0x55)
	for i := 0; i < 4; i++ {
		stream = append(stream, dcVolts()...)
	}

	drv := NewDriver(RadioShack22812)
	drv.SetLimitSamples(3)

	var got []datafeed.Packet
	send := func(pkt datafeed.Packet) { got = append(got, pkt) }

	sess := session.New()
	dev := &driver.Device{
		ID:   "dmm0",
		Port: &fakePort{bytes.NewReader(stream)},
	}

	err := drv.AcquisitionStart(dev, sess, send)
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = sess.Run(ctx)
	if err != nil {
		t.Fatalf("could not run session: %+v", err)
	}

	if len(got) != 6 {
		t.Fatalf("invalid number of packets: got=%d, want=6", len(got))
	}
	if _, ok := got[0].(datafeed.Header); !ok {
		t.Fatalf("invalid first packet: got=%T, want=datafeed.Header", got[0])
	}
	meta, ok := got[1].(datafeed.MetaAnalog)
	if !ok {
		t.Fatalf("invalid second packet: got=%T, want=datafeed.MetaAnalog", got[1])
	}
	if got, want := meta.NumProbes, 1; got != want {
		t.Fatalf("invalid probe count: got=%d, want=%d", got, want)
	}
	for i := 2; i < 5; i++ {
		analog, ok := got[i].(datafeed.Analog)
		if !ok {
			t.Fatalf("invalid packet %d: got=%T, want=datafeed.Analog", i, got[i])
		}
		checkVolts(t, analog)
	}
	if _, ok := got[5].(datafeed.End); !ok {
		t.Fatalf("invalid last packet: got=%T, want=datafeed.End", got[5])
	}

	// Stopping after completion is a no-op.
	err = drv.AcquisitionStop(dev)
	if err != nil {
		t.Fatalf("could not stop idle device: %+v", err)
	}
	if len(got) != 6 {
		t.Fatalf("duplicate end-of-stream record: got=%d packets", len(got))
	}
}

func TestDriverUnknownModeForwarded(t *testing.T) {
	// A structurally valid frame with an unmapped mode still reaches
	// the sink, quantity unset, and counts toward the sample limit.
	var stream []byte
	stream = append(stream, packet(24, 0, 0, lcd1, lcd2, lcd3, lcd4, 0)...)
	stream = append(stream, dcVolts()...)

	drv := NewDriver(RadioShack22812)
	drv.SetLimitSamples(2)

	var got []datafeed.Packet
	send := func(pkt datafeed.Packet) { got = append(got, pkt) }

	sess := session.New()
	dev := &driver.Device{
		ID:   "dmm0",
		Port: &fakePort{bytes.NewReader(stream)},
	}

	err := drv.AcquisitionStart(dev, sess, send)
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = sess.Run(ctx)
	if err != nil {
		t.Fatalf("could not run session: %+v", err)
	}

	if len(got) != 5 {
		t.Fatalf("invalid number of packets: got=%d, want=5", len(got))
	}
	unknown, ok := got[2].(datafeed.Analog)
	if !ok {
		t.Fatalf("invalid third packet: got=%T, want=datafeed.Analog", got[2])
	}
	if got := unknown.MQ; got != 0 {
		t.Fatalf("unmapped mode must carry no quantity: got=%v", got)
	}
	if len(unknown.Data) != 1 {
		t.Fatalf("invalid value count: got=%v", unknown.Data)
	}
	analog, ok := got[3].(datafeed.Analog)
	if !ok {
		t.Fatalf("invalid fourth packet: got=%T, want=datafeed.Analog", got[3])
	}
	checkVolts(t, analog)
	if _, ok := got[4].(datafeed.End); !ok {
		t.Fatalf("invalid last packet: got=%T, want=datafeed.End", got[4])
	}
}
