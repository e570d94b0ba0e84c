// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bbnote/swddude"
	log "github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
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
	flagLocalEcho := flag.Bool("local-echo", false, "echo keystrokes sent to the target")
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

	target := swddude.NewTarget(driver, dap, 0)
	if err := target.Initialize(); err != nil {
		fatal(err)
	}
	if err := target.ResetHaltState(); err != nil {
		fatal(err)
	}

	if err := driver.LeaveReset(); err != nil {
		fatal(err)
	}

	var oldState *term.State
	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err = term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			fatal(err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)

		if *flagLocalEcho {
			enableEcho(int(os.Stdin.Fd()))
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		if oldState != nil {
			term.Restore(int(os.Stdin.Fd()), oldState)
		}
		os.Exit(1)
	}()

	console := swddude.Console{Out: os.Stdout, In: bufio.NewReader(os.Stdin)}

	for {
		halted, err := target.IsHalted()
		if err != nil {
			fatal(err)
		}

		if halted {
			if err := swddude.HandleHalt(target, console); err != nil {
				fatal(err)
			}
		}

		time.Sleep(time.Millisecond)
	}
}

// enableEcho re-enables the ECHO line discipline bit term.MakeRaw always
// strips, for users who want to see what they type into the target console.
func enableEcho(fd int) {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		log.Warnf("could not read terminal settings for local echo: %v", err)
		return
	}

	termios.Lflag |= unix.ECHO
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		log.Warnf("could not enable local echo: %v", err)
	}
}
