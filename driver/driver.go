// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package driver defines the boundary between the acquisition core
// and the per-device-family drivers, and the registry that owns them.
package driver // import "github.com/jhol/libsigrok/driver"

import (
	"sort"
	"sync"

	"golang.org/x/xerrors"

	"github.com/jhol/libsigrok/datafeed"
	"github.com/jhol/libsigrok/session"
	"github.com/jhol/libsigrok/transport"
)

// Status is the lifecycle state of a device instance.
type Status int

const (
	StatusInactive Status = iota
	StatusActive
	StatusAcquiring
)

// Device is one open device instance. Discovery and open/close are
// owned by the caller; the core only consumes the transport.
type Device struct {
	ID     string // unique key within a session
	Vendor string
	Model  string
	Port   transport.Port
	Status Status
}

// Driver is the capability interface one device family implements.
type Driver interface {
	// Name returns the short driver name used in registries and
	// configuration files.
	Name() string

	// Longname returns the human-readable driver name.
	Longname() string

	// AcquisitionStart arms dev on the session and starts feeding
	// decoded packets to send.
	AcquisitionStart(dev *Device, sess *session.Session, send datafeed.SendFunc) error

	// AcquisitionStop winds down dev's acquisition. It is safe to
	// call after the device already signaled completion; at most one
	// End record is emitted per acquisition.
	AcquisitionStop(dev *Device) error
}

// Registry maps driver names to drivers. It is an explicit object
// owned by the caller, not process-wide state.
type Registry struct {
	mu   sync.RWMutex
	drvs map[string]Driver
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drvs: make(map[string]Driver)}
}

// Register adds drv under its name.
func (reg *Registry) Register(drv Driver) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	name := drv.Name()
	if _, dup := reg.drvs[name]; dup {
		return xerrors.Errorf("driver: %q already registered", name)
	}
	reg.drvs[name] = drv
	return nil
}

// Lookup returns the driver registered under name.
func (reg *Registry) Lookup(name string) (Driver, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	drv, ok := reg.drvs[name]
	if !ok {
		return nil, xerrors.Errorf("driver: no driver %q", name)
	}
	return drv, nil
}

// Drivers returns the registered driver names, sorted.
func (reg *Registry) Drivers() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	names := make([]string, 0, len(reg.drvs))
	for name := range reg.drvs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
