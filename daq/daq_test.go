// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jhol/libsigrok/datafeed"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daq.toml")
	err := os.WriteFile(path, []byte(`
[[device]]
id = "dmm0"
driver = "radioshack-dmm"
port = "/dev/ttyUSB0"
limit_samples = 100

[[device]]
id = "la0"
driver = "ols"
port = "/dev/ttyACM0"
limit_samples = 4096
samplerate = 1000000
capture_ratio = 10
rle = true
`), 0644)
	if err != nil {
		t.Fatalf("could not write config: %+v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	want := Config{Devices: []DeviceConfig{
		{
			ID: "dmm0", Driver: "radioshack-dmm", Port: "/dev/ttyUSB0",
			LimitSamples: 100,
		},
		{
			ID: "la0", Driver: "ols", Port: "/dev/ttyACM0",
			LimitSamples: 4096, SampleRate: 1000000, CaptureRatio: 10, RLE: true,
		},
	}}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("invalid config:\ngot= %#v\nwant=%#v", cfg, want)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		toml string
	}{
		{
			name: "empty",
			toml: ``,
		},
		{
			name: "duplicate-id",
			toml: `
[[device]]
id = "dev0"
driver = "ols"
port = "/dev/ttyACM0"

[[device]]
id = "dev0"
driver = "ols"
port = "/dev/ttyACM1"
`,
		},
		{
			name: "missing-port",
			toml: `
[[device]]
id = "dev0"
driver = "ols"
`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "daq.toml")
			if err := os.WriteFile(path, []byte(tc.toml), 0644); err != nil {
				t.Fatalf("could not write config: %+v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestPacketCodec(t *testing.T) {
	analog := datafeed.Analog{
		MQ:    datafeed.MQVoltage,
		Unit:  datafeed.UnitVolt,
		Flags: datafeed.FlagDC | datafeed.FlagAutoRange,
		Data:  []float64{1.234},
	}
	raw, err := encodePacket("dmm0", analog)
	if err != nil {
		t.Fatalf("could not encode analog packet: %+v", err)
	}
	dev, pkt, err := decodePacket(raw)
	if err != nil {
		t.Fatalf("could not decode analog packet: %+v", err)
	}
	if dev != "dmm0" {
		t.Fatalf("invalid device: got=%q, want=%q", dev, "dmm0")
	}
	if !reflect.DeepEqual(pkt, analog) {
		t.Fatalf("invalid packet:\ngot= %#v\nwant=%#v", pkt, analog)
	}

	logic := datafeed.Logic{
		UnitSize: 4,
		Data:     []byte{1, 1, 1, 1, 2, 2, 2, 2},
	}
	raw, err = encodePacket("la0", logic)
	if err != nil {
		t.Fatalf("could not encode logic packet: %+v", err)
	}
	dev, pkt, err = decodePacket(raw)
	if err != nil {
		t.Fatalf("could not decode logic packet: %+v", err)
	}
	if dev != "la0" {
		t.Fatalf("invalid device: got=%q, want=%q", dev, "la0")
	}
	got := pkt.(datafeed.Logic)
	if got.UnitSize != 4 || !bytes.Equal(got.Data, logic.Data) {
		t.Fatalf("invalid packet:\ngot= %#v\nwant=%#v", got, logic)
	}
}

func TestPacketCodecUnknownTag(t *testing.T) {
	raw, err := encodePacket("dev0", datafeed.Trigger{})
	if err != nil {
		t.Fatalf("could not encode trigger packet: %+v", err)
	}
	raw[len(raw)-1] = 0xff // corrupt the tag
	if _, _, err := decodePacket(raw); err == nil {
		t.Fatalf("expected an error for an unknown tag")
	}
}

func TestParseFTDIAddr(t *testing.T) {
	for _, tc := range []struct {
		addr     string
		vid, pid uint16
		ok       bool
	}{
		{addr: "ftdi:0403:6001", vid: 0x0403, pid: 0x6001, ok: true},
		{addr: "ftdi:403:6014", vid: 0x0403, pid: 0x6014, ok: true},
		{addr: "/dev/ttyUSB0"},
		{addr: "ftdi:0403"},
		{addr: "ftdi:0403:xyz"},
		{addr: "ftdi:10403:6001"},
	} {
		t.Run(tc.addr, func(t *testing.T) {
			vid, pid, ok := parseFTDIAddr(tc.addr)
			if ok != tc.ok || vid != tc.vid || pid != tc.pid {
				t.Fatalf("invalid address: got=(%#x, %#x, %v), want=(%#x, %#x, %v)",
					vid, pid, ok, tc.vid, tc.pid, tc.ok,
				)
			}
		})
	}
}
