// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"os"
	"time"

	"github.com/bbnote/swddude"
	log "github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// fatal prints err's cause chain innermost-first, then exits.
func fatal(err error) {
	for _, frame := range swddude.Stack(err) {
		log.Error(frame)
	}
	os.Exit(1)
}

func main() {
	flagProgrammer := flag.String("programmer", "um232h", "MPSSE adapter profile to use (um232h, bus_blaster)")
	flagDebug := flag.Int("debug", int(log.InfoLevel), "logrus level to log at")
	flagVID := flag.Uint("vid", 0, "override the programmer profile's USB vendor ID (0 = use profile default)")
	flagPID := flag.Uint("pid", 0, "override the programmer profile's USB product ID (0 = use profile default)")
	flagInterface := flag.Int("interface", -1, "override the programmer profile's USB interface index (-1 = use profile default)")
	flagCount := flag.Int("count", 256, "number of AP indices to probe, starting at 0")
	flag.Parse()

	log.SetLevel(log.Level(*flagDebug))
	log.SetFormatter(&prefixed.TextFormatter{
		DisableColors:   false,
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	})
	log.SetOutput(os.Stdout)
	swddude.SetLogger(log.StandardLogger())

	profile, err := swddude.LookupProfile(*flagProgrammer)
	if err != nil {
		fatal(err)
	}

	if *flagVID != 0 {
		profile.VID = uint16(*flagVID)
	}
	if *flagPID != 0 {
		profile.PID = uint16(*flagPID)
	}
	if *flagInterface >= 0 {
		profile.Interface = *flagInterface
	}

	mpsse, err := swddude.Open(profile)
	if err != nil {
		fatal(err)
	}
	defer mpsse.Close()

	driver := swddude.NewMPSSESWDDriver(mpsse)
	if err := driver.EnterReset(); err != nil {
		fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := driver.LeaveReset(); err != nil {
		fatal(err)
	}

	if _, err := driver.Initialize(); err != nil {
		fatal(err)
	}

	dap := swddude.NewDebugAccessPort(driver)
	if err := dap.ResetState(); err != nil {
		fatal(err)
	}

	records, err := swddude.CrawlDAP(dap, *flagCount)
	if err != nil {
		fatal(err)
	}

	for _, r := range records {
		log.Infof("AP %02X: %s at %08X (size %d)", r.APIndex, r.Kind, r.BaseAddr, r.Size)
	}
}
