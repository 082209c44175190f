// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// DeviceConfig describes one device entry of the DAQ configuration.
type DeviceConfig struct {
	ID     string `toml:"id"`
	Driver string `toml:"driver"`
	Port   string `toml:"port"`

	LimitSamples uint64 `toml:"limit_samples"`

	// logic-analyzer options
	SampleRate   uint64 `toml:"samplerate"`
	CaptureRatio uint64 `toml:"capture_ratio"`
	RLE          bool   `toml:"rle"`
}

// Config is the DAQ server configuration, loaded from a TOML file
// with one [[device]] table per device.
type Config struct {
	Devices []DeviceConfig `toml:"device"`
}

// Load reads and validates the configuration at path.
func Load(path string) (Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, xerrors.Errorf("daq: could not load config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, xerrors.Errorf("daq: invalid config %q: %w", path, err)
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if len(cfg.Devices) == 0 {
		return xerrors.New("no devices configured")
	}
	seen := make(map[string]bool, len(cfg.Devices))
	for i, dev := range cfg.Devices {
		if dev.ID == "" {
			return xerrors.Errorf("device %d: missing id", i)
		}
		if seen[dev.ID] {
			return xerrors.Errorf("device %d: duplicate id %q", i, dev.ID)
		}
		seen[dev.ID] = true
		if dev.Driver == "" {
			return xerrors.Errorf("device %q: missing driver", dev.ID)
		}
		if dev.Port == "" {
			return xerrors.Errorf("device %q: missing port", dev.ID)
		}
	}
	return nil
}
