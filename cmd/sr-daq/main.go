// Copyright 2024 The libsigrok Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sr-daq starts a TDAQ server publishing acquisition data
// from the devices listed in its configuration file.
package main // import "github.com/jhol/libsigrok/cmd/sr-daq"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/jhol/libsigrok/daq"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) != 1 {
		log.Fatalf("usage: sr-daq [tdaq flags] daq.toml")
	}

	dev := daq.NewServer(cmd.Args[0])

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/data", dev.Data)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
