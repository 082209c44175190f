// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sr-scan lists attached serial ports and FTDI devices, and
// optionally probes a port for an Openbench Logic Sniffer.
package main // import "github.com/jhol/libsigrok/cmd/sr-scan"

import (
	"flag"
	"log"

	"go.bug.st/serial"

	"github.com/jhol/libsigrok/ols"
	"github.com/jhol/libsigrok/transport"
)

// usbIDs are the FTDI (vid, pid) pairs found on sigrok-supported
// hardware.
var usbIDs = [][2]uint16{
	{0x0403, 0x6001},
	{0x0403, 0x6010},
	{0x0403, 0x6014},
}

func main() {
	log.SetPrefix("sr-scan: ")
	log.SetFlags(0)

	probe := flag.String("probe", "", "serial port to probe for a logic analyzer")

	flag.Parse()

	err := run(*probe)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(probe string) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return err
	}
	for _, port := range ports {
		log.Printf("serial: %s", port)
	}

	for _, id := range usbIDs {
		devs, err := transport.ListFTDI(id[0], id[1])
		if err != nil {
			continue
		}
		for _, dev := range devs {
			log.Printf("ftdi:%04x:%04x serial=%q", dev.VendorID, dev.ProdID, dev.Serial)
		}
	}

	if probe == "" {
		return nil
	}
	return scanOLS(probe)
}

func scanOLS(portName string) error {
	comm, err := transport.ParseComm(ols.Comm)
	if err != nil {
		return err
	}
	port, err := transport.OpenSerial(portName, comm)
	if err != nil {
		return err
	}
	defer port.Close()

	md, err := ols.Scan(port)
	if err != nil {
		return err
	}

	log.Printf("%s: %s", portName, md.Name)
	if md.Version != "" {
		log.Printf("  version:         %s", md.Version)
	}
	log.Printf("  probes:          %d", md.NumProbes)
	if md.MaxSamples != 0 {
		log.Printf("  max samples:     %d", md.MaxSamples)
	}
	if md.MaxSampleRate != 0 {
		log.Printf("  max sample rate: %d Hz", md.MaxSampleRate)
	}
	if md.ProtocolVersion != 0 {
		log.Printf("  protocol:        %d", md.ProtocolVersion)
	}
	return nil
}
