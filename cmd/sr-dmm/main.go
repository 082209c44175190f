// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sr-dmm streams measurements from a serial multimeter to
// stdout.
package main // import "github.com/jhol/libsigrok/cmd/sr-dmm"

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/jhol/libsigrok/datafeed"
	"github.com/jhol/libsigrok/dmm"
	"github.com/jhol/libsigrok/driver"
	"github.com/jhol/libsigrok/session"
	"github.com/jhol/libsigrok/transport"
)

func main() {
	log.SetPrefix("sr-dmm: ")
	log.SetFlags(0)

	var (
		port  = flag.String("port", "/dev/ttyUSB0", "serial port the meter is connected to")
		limit = flag.Uint64("n", 0, "number of readings to acquire (0: until interrupted)")
	)

	flag.Parse()

	err := run(*port, *limit)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(portName string, limit uint64) error {
	fam := dmm.RadioShack22812

	comm, err := fam.CommParams()
	if err != nil {
		return err
	}
	port, err := transport.OpenSerial(portName, comm)
	if err != nil {
		return err
	}
	defer port.Close()

	drv := dmm.NewDriver(fam)
	drv.SetLimitSamples(limit)

	dev := &driver.Device{
		ID:     "dmm0",
		Vendor: fam.Vendor,
		Model:  fam.Model,
		Port:   port,
		Status: driver.StatusActive,
	}

	sess := session.New()
	sess.Feed(func(_ string, pkt datafeed.Packet) {
		switch p := pkt.(type) {
		case datafeed.Analog:
			log.Printf("%v %v %v", p.Data[0], p.Unit, p.Flags)
		case datafeed.End:
			log.Printf("done")
		}
	})

	err = drv.AcquisitionStart(dev, sess, func(pkt datafeed.Packet) {
		sess.Send(dev.ID, pkt)
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = sess.Run(ctx)
	if err == context.Canceled {
		return drv.AcquisitionStop(dev)
	}
	return err
}
