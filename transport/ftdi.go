// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"io"

	"golang.org/x/xerrors"

	"github.com/ziutek/ftdi"
)

type ftdiDevice interface {
	Reset() error

	SetBitmode(iomask byte, mode ftdi.Mode) error
	SetFlowControl(flowctrl ftdi.FlowCtrl) error
	SetLatencyTimer(lt int) error
	SetWriteChunkSize(cs int) error
	SetReadChunkSize(cs int) error
	PurgeBuffers() error

	io.Writer
	io.Reader
	io.Closer
}

type ftdiPort struct {
	vid uint16
	pid uint16
	ft  ftdiDevice
}

var (
	ftdiOpen    = ftdiOpenImpl
	ftdiFindAll = ftdi.FindAll
)

func ftdiOpenImpl(vid, pid uint16) (ftdiDevice, error) {
	dev, err := ftdi.OpenFirst(int(vid), int(pid), ftdi.ChannelAny)
	return dev, err
}

// FTDIInfo describes one enumerated FTDI device.
type FTDIInfo struct {
	VendorID uint16
	ProdID   uint16
	Serial   string
}

// ListFTDI enumerates attached FTDI devices matching (vid, pid).
func ListFTDI(vid, pid uint16) ([]FTDIInfo, error) {
	lst, err := ftdiFindAll(int(vid), int(pid))
	if err != nil {
		return nil, xerrors.Errorf("transport: could not list FTDI devices (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	var devs []FTDIInfo
	for _, dev := range lst {
		devs = append(devs, FTDIInfo{
			VendorID: vid,
			ProdID:   pid,
			Serial:   dev.Serial,
		})
		dev.Close()
	}
	return devs, nil
}

// OpenFTDI opens the first FTDI device matching (vid, pid) and brings
// it into a known state.
func OpenFTDI(vid, pid uint16) (Port, error) {
	ft, err := ftdiOpen(vid, pid)
	if err != nil {
		return nil, xerrors.Errorf("transport: could not open FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	port := &ftdiPort{vid: vid, pid: pid, ft: ft}
	err = port.init()
	if err != nil {
		ft.Close()
		return nil, xerrors.Errorf("transport: could not initialize FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	return port, nil
}

func (port *ftdiPort) init() error {
	var err error

	err = port.ft.Reset()
	if err != nil {
		return xerrors.Errorf("could not reset USB: %w", err)
	}

	err = port.ft.SetBitmode(0, ftdi.ModeReset)
	if err != nil {
		return xerrors.Errorf("could not reset bit mode: %w", err)
	}

	err = port.ft.SetFlowControl(ftdi.FlowCtrlDisable)
	if err != nil {
		return xerrors.Errorf("could not disable flow control: %w", err)
	}

	err = port.ft.SetLatencyTimer(2)
	if err != nil {
		return xerrors.Errorf("could not set latency timer to 2: %w", err)
	}

	err = port.ft.SetWriteChunkSize(0xffff)
	if err != nil {
		return xerrors.Errorf("could not set write chunk-size to 0xffff: %w", err)
	}

	err = port.ft.SetReadChunkSize(0xffff)
	if err != nil {
		return xerrors.Errorf("could not set read chunk-size to 0xffff: %w", err)
	}

	err = port.ft.PurgeBuffers()
	if err != nil {
		return xerrors.Errorf("could not purge USB buffers: %w", err)
	}

	return err
}

func (port *ftdiPort) Read(p []byte) (int, error)  { return port.ft.Read(p) }
func (port *ftdiPort) Write(p []byte) (int, error) { return port.ft.Write(p) }
func (port *ftdiPort) Close() error                { return port.ft.Close() }
