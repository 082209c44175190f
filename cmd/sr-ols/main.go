// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sr-ols captures logic samples from an Openbench Logic
// Sniffer and writes them to a file.
package main // import "github.com/jhol/libsigrok/cmd/sr-ols"

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/jhol/libsigrok/datafeed"
	"github.com/jhol/libsigrok/driver"
	"github.com/jhol/libsigrok/ols"
	"github.com/jhol/libsigrok/session"
	"github.com/jhol/libsigrok/transport"
)

func main() {
	log.SetPrefix("sr-ols: ")
	log.SetFlags(0)

	var (
		port    = flag.String("port", "/dev/ttyACM0", "serial port the analyzer is connected to")
		oname   = flag.String("o", "capture.bin", "output file for the raw samples")
		samples = flag.Uint64("n", 4096, "number of samples to capture")
		rate    = flag.Uint64("rate", 1000000, "sample rate in Hz")
		ratio   = flag.Uint64("ratio", 0, "pre-trigger capture ratio in percent")
		rle     = flag.Bool("rle", false, "enable hardware run-length encoding")
		trigger = flag.String("trigger", "", "trigger spec, e.g. 0=1,3=01 (probe=match per stage)")
	)

	flag.Parse()

	err := run(*port, *oname, *samples, *rate, *ratio, *rle, *trigger)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(portName, oname string, samples, rate, ratio uint64, rle bool, trigger string) error {
	port, err := transport.OpenSerial(portName, mustComm(ols.Comm))
	if err != nil {
		return err
	}
	defer port.Close()

	md, err := ols.Scan(port)
	if err != nil {
		return err
	}
	log.Printf("found %s (%s)", md.Name, md.Version)

	cfg := ols.NewConfig()
	cfg.ApplyMetadata(md)
	if err := cfg.SetSampleRate(rate); err != nil {
		return err
	}
	if err := cfg.SetLimitSamples(samples); err != nil {
		return err
	}
	if err := cfg.SetCaptureRatio(ratio); err != nil {
		return err
	}
	if rle {
		cfg.EnableRLE()
	}

	probes, err := parseTrigger(trigger)
	if err != nil {
		return err
	}
	if err := cfg.ConfigureProbes(probes); err != nil {
		return err
	}

	out, err := os.Create(oname)
	if err != nil {
		return xerrors.Errorf("could not create output file: %w", err)
	}
	defer out.Close()

	drv := ols.NewDriver()
	dev := &driver.Device{
		ID:     "ols0",
		Vendor: "Openbench",
		Model:  md.Name,
		Port:   port,
		Status: driver.StatusActive,
	}
	drv.Configure(dev, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	grp, gctx := errgroup.WithContext(ctx)

	data := make(chan []byte, 16)
	sess := session.New()
	sess.Feed(func(_ string, pkt datafeed.Packet) {
		switch p := pkt.(type) {
		case datafeed.Trigger:
			log.Printf("trigger")
		case datafeed.Logic:
			forwardLogic(gctx, data, p)
		}
	})

	err = drv.AcquisitionStart(dev, sess, func(pkt datafeed.Packet) {
		sess.Send(dev.ID, pkt)
	})
	if err != nil {
		return err
	}

	grp.Go(func() error {
		err := sess.Run(gctx)
		serr := drv.AcquisitionStop(dev)
		close(data)
		if err == context.Canceled {
			return serr
		}
		return err
	})
	grp.Go(func() error {
		var n int
		for buf := range data {
			nn, err := out.Write(buf)
			n += nn
			if err != nil {
				return xerrors.Errorf("could not write samples: %w", err)
			}
		}
		log.Printf("wrote %d bytes (%d samples) to %s", n, n/4, oname)
		return nil
	})

	return grp.Wait()
}

// forwardLogic hands a sample payload to the writer goroutine. It
// runs on the session reactor, so it must never block indefinitely:
// when the capture is torn down the payload is dropped instead.
func forwardLogic(ctx context.Context, data chan<- []byte, p datafeed.Logic) {
	buf := make([]byte, len(p.Data))
	copy(buf, p.Data)
	select {
	case data <- buf:
	case <-ctx.Done():
	}
}

func mustComm(s string) transport.Comm {
	comm, err := transport.ParseComm(s)
	if err != nil {
		panic(err)
	}
	return comm
}

// parseTrigger turns "0=1,3=01" into a full probe list: all probes
// enabled, with the named ones carrying a per-stage match string.
func parseTrigger(spec string) ([]ols.Probe, error) {
	probes := make([]ols.Probe, ols.NumProbes)
	for i := range probes {
		probes[i] = ols.Probe{Index: i, Enabled: true}
	}
	if spec == "" {
		return probes, nil
	}

	for _, part := range strings.Split(spec, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, xerrors.Errorf("invalid trigger spec %q", part)
		}
		idx, err := strconv.Atoi(kv[0])
		if err != nil || idx < 0 || idx >= ols.NumProbes {
			return nil, xerrors.Errorf("invalid probe index %q", kv[0])
		}
		for _, c := range kv[1] {
			if c != '0' && c != '1' {
				return nil, xerrors.Errorf("invalid trigger match %q", kv[1])
			}
		}
		probes[idx].Trigger = kv[1]
	}
	return probes, nil
}
