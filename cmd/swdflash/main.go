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

// ramWorkspace is where the IAP command/response table and the image chunk
// being programmed both live while SWDDUDE drives the target's IAP ROM.
// LPC111x/13xx parts all have SRAM starting at 0x10000000.
const ramWorkspace = 0x10000000

// flashBlockSize is the IAP's minimum program granularity on this family.
const flashBlockSize = 256

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
	flagFlash := flag.String("flash", "", "binary image to program")
	flagFixChecksum := flag.Bool("fix_lpc_checksum", false, "patch the LPC boot checksum into the image before flashing")
	flagClockKHz := flag.Uint("clock_khz", 12000, "target CPU clock, in kHz, the IAP ROM should assume")
	flagVID := flag.Uint("vid", 0, "override the programmer profile's USB vendor ID (0 = use profile default)")
	flagPID := flag.Uint("pid", 0, "override the programmer profile's USB product ID (0 = use profile default)")
	flagInterface := flag.Int("interface", -1, "override the programmer profile's USB interface index (-1 = use profile default)")
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

	if *flagFlash == "" {
		log.Fatal("--flash is required")
	}

	image, err := os.ReadFile(*flagFlash)
	if err != nil {
		fatal(err)
	}

	if *flagFixChecksum {
		swddude.FixLPCChecksum(image)
	}

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

	target := swddude.NewTarget(driver, dap, 0)
	if err := target.Initialize(); err != nil {
		fatal(err)
	}

	if err := target.ResetAndHalt(); err != nil {
		fatal(err)
	}

	if err := swddude.UnmapBootSector(target); err != nil {
		fatal(err)
	}

	startSector := uint32(0)
	endSector := uint32(len(image)/4096) + 1

	if err := swddude.EraseSectors(target, ramWorkspace, startSector, endSector, uint32(*flagClockKHz)); err != nil {
		fatal(err)
	}

	for offset := 0; offset < len(image); offset += flashBlockSize {
		end := offset + flashBlockSize
		if end > len(image) {
			end = len(image)
		}
		chunk := image[offset:end]

		packed := swddude.NewBuffer(len(chunk))
		packed.Write(chunk)
		words := packed.WordsLE()

		ramChunk := ramWorkspace + 512
		if err := target.WriteWords(words, ramChunk); err != nil {
			fatal(err)
		}

		if err := swddude.CopyRAMToFlash(target, ramWorkspace, uint32(offset), ramChunk, flashBlockSize, uint32(*flagClockKHz)); err != nil {
			fatal(err)
		}

		log.Infof("programmed %d/%d bytes", end, len(image))
	}

	log.Info("flash complete")
}
