// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq exposes acquisition sessions as a TDAQ process: devices
// are opened from a TOML configuration and their data-feed packets
// published on the /data output stream.
package daq // import "github.com/jhol/libsigrok/daq"

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-daq/tdaq"
	"golang.org/x/xerrors"

	"github.com/jhol/libsigrok/datafeed"
	"github.com/jhol/libsigrok/dmm"
	"github.com/jhol/libsigrok/driver"
	"github.com/jhol/libsigrok/ols"
	"github.com/jhol/libsigrok/session"
	"github.com/jhol/libsigrok/transport"
)

// seams for tests
var (
	openSerial = transport.OpenSerial
	openFTDI   = transport.OpenFTDI
)

// openPort opens a device address: either a serial port path or an
// "ftdi:vid:pid" USB address with hexadecimal IDs.
func openPort(addr string, comm transport.Comm) (transport.Port, error) {
	if vid, pid, ok := parseFTDIAddr(addr); ok {
		return openFTDI(vid, pid)
	}
	return openSerial(addr, comm)
}

func parseFTDIAddr(addr string) (vid, pid uint16, ok bool) {
	if !strings.HasPrefix(addr, "ftdi:") {
		return 0, 0, false
	}
	parts := strings.Split(strings.TrimPrefix(addr, "ftdi:"), ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(v), uint16(p), true
}

type device struct {
	cfg DeviceConfig
	dev *driver.Device
	drv driver.Driver
}

// Server drives the configured devices through the TDAQ state
// machine: config loads the file, init opens the hardware, start arms
// an acquisition session, stop winds it down.
type Server struct {
	cfgPath string
	cfg     Config

	reg    *driver.Registry
	dmmDrv *dmm.Driver
	olsDrv *ols.Driver

	devs []*device
	sess *session.Session
	data chan []byte
}

// NewServer creates a DAQ server reading its configuration from
// cfgPath on the /config command.
func NewServer(cfgPath string) *Server {
	srv := &Server{
		cfgPath: cfgPath,
		reg:     driver.NewRegistry(),
		dmmDrv:  dmm.NewDriver(dmm.RadioShack22812),
		olsDrv:  ols.NewDriver(),
	}
	_ = srv.reg.Register(srv.dmmDrv)
	_ = srv.reg.Register(srv.olsDrv)
	return srv
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg, err := Load(srv.cfgPath)
	if err != nil {
		ctx.Msg.Errorf("could not load config: %+v", err)
		return err
	}
	srv.cfg = cfg

	for _, dev := range cfg.Devices {
		if _, err := srv.reg.Lookup(dev.Driver); err != nil {
			ctx.Msg.Errorf("device %q: %+v", dev.ID, err)
			return err
		}
		ctx.Msg.Infof("device %q: driver=%q port=%q", dev.ID, dev.Driver, dev.Port)
	}
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	srv.data = make(chan []byte, 1024)
	for _, devcfg := range srv.cfg.Devices {
		dev, err := srv.open(devcfg)
		if err != nil {
			ctx.Msg.Errorf("could not open device %q: %+v", devcfg.ID, err)
			srv.closeAll()
			return err
		}
		srv.devs = append(srv.devs, dev)
		ctx.Msg.Infof("device %q: %s %s", devcfg.ID, dev.dev.Vendor, dev.dev.Model)
	}
	return nil
}

// open opens one configured device and applies its capture options.
func (srv *Server) open(devcfg DeviceConfig) (*device, error) {
	drv, err := srv.reg.Lookup(devcfg.Driver)
	if err != nil {
		return nil, err
	}

	dev := &driver.Device{ID: devcfg.ID, Status: driver.StatusActive}

	switch drv {
	case srv.dmmDrv:
		comm, err := dmm.RadioShack22812.CommParams()
		if err != nil {
			return nil, err
		}
		port, err := openPort(devcfg.Port, comm)
		if err != nil {
			return nil, err
		}
		dev.Port = port
		dev.Vendor = dmm.RadioShack22812.Vendor
		dev.Model = dmm.RadioShack22812.Model
		srv.dmmDrv.SetLimitSamples(devcfg.LimitSamples)

	case srv.olsDrv:
		comm, err := transport.ParseComm(ols.Comm)
		if err != nil {
			return nil, err
		}
		port, err := openPort(devcfg.Port, comm)
		if err != nil {
			return nil, err
		}
		md, err := ols.Scan(port)
		if err != nil {
			port.Close()
			return nil, err
		}
		dev.Port = port
		dev.Vendor = "Openbench"
		dev.Model = md.Name

		cfg := ols.NewConfig()
		cfg.ApplyMetadata(md)
		if devcfg.SampleRate != 0 {
			if err := cfg.SetSampleRate(devcfg.SampleRate); err != nil {
				port.Close()
				return nil, err
			}
		}
		if err := cfg.SetLimitSamples(devcfg.LimitSamples); err != nil {
			port.Close()
			return nil, err
		}
		if devcfg.CaptureRatio != 0 {
			if err := cfg.SetCaptureRatio(devcfg.CaptureRatio); err != nil {
				port.Close()
				return nil, err
			}
		}
		if devcfg.RLE {
			cfg.EnableRLE()
		}
		srv.olsDrv.Configure(dev, cfg)

	default:
		return nil, xerrors.Errorf("daq: driver %q not wired", devcfg.Driver)
	}

	return &device{cfg: devcfg, dev: dev, drv: drv}, nil
}

func (srv *Server) closeAll() {
	for _, dev := range srv.devs {
		if dev.dev.Port != nil {
			_ = dev.dev.Port.Close()
		}
	}
	srv.devs = nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.closeAll()
	srv.sess = nil
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	sess := session.New()
	sess.Feed(func(dev string, pkt datafeed.Packet) {
		raw, err := encodePacket(dev, pkt)
		if err != nil {
			ctx.Msg.Errorf("device %q: %+v", dev, err)
			return
		}
		select {
		case srv.data <- raw:
		default:
			// downstream not keeping up, drop
		}
	})

	for _, dev := range srv.devs {
		dev := dev
		send := func(pkt datafeed.Packet) { sess.Send(dev.dev.ID, pkt) }
		err := dev.drv.AcquisitionStart(dev.dev, sess, send)
		if err != nil {
			ctx.Msg.Errorf("could not start device %q: %+v", dev.dev.ID, err)
			return err
		}
	}

	srv.sess = sess
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	for _, dev := range srv.devs {
		err := dev.drv.AcquisitionStop(dev.dev)
		if err != nil {
			ctx.Msg.Errorf("could not stop device %q: %+v", dev.dev.ID, err)
			return err
		}
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	srv.closeAll()
	return nil
}

// Data serves the /data output stream: one encoded data-feed packet
// per frame.
func (srv *Server) Data(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case raw := <-srv.data:
		dst.Body = raw
	}
	return nil
}

// Run dispatches the acquisition session for the current run. It
// returns when every device completed or the run is stopped.
func (srv *Server) Run(ctx tdaq.Context) error {
	sess := srv.sess
	if sess == nil {
		<-ctx.Ctx.Done()
		return nil
	}
	err := sess.Run(ctx.Ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
