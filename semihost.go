// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swddude

import (
	"bufio"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

// Semihosting operation codes, per the ARM semihosting ABI.
const (
	semihostSysWriteC = 0x3
	semihostSysWrite0 = 0x4
	semihostSysReadC  = 0x7
)

// semihostBreakpoint is the instruction the debug monitor traps on: "BKPT
// 0xAB" encoded as a Thumb halfword.
const semihostBreakpoint = 0xBEAB

// Console is the host side of a semihosting session: where SYS_WRITEC/
// SYS_WRITE0 output goes, and where SYS_READC input comes from.
type Console struct {
	Out io.Writer
	In  *bufio.Reader
}

// HandleHalt inspects why the processor halted; if it was the semihosting
// breakpoint, dispatches the requested operation and resumes execution.
// Grounded on swdhost.cpp's handle_halt.
func HandleHalt(target *Target, console Console) error {
	dfsr, err := retryRead32(target, scbDFSR)
	if err != nil {
		return err
	}

	if dfsr&dfsrReasonMask != dfsrBkpt {
		return NewError(Failure, "processor halted for unexpected reason %#x", dfsr)
	}

	pc, err := retryReadRegister(target, RegPC)
	if err != nil {
		return err
	}

	// The PC is halfword-aligned but the target only supports 32-bit
	// accesses; load the whole word containing the current instruction.
	instrWord, err := retryRead32(target, pc&^3)
	if err != nil {
		return err
	}

	var instr uint32
	if pc&2 != 0 {
		instr = instrWord >> 16
	} else {
		instr = instrWord & 0xFFFF
	}

	if instr != semihostBreakpoint {
		return NewError(Failure, "unexpected non-semihosting breakpoint %04X @%08X", instr, pc)
	}

	operation, err := retryReadRegister(target, RegR0)
	if err != nil {
		return err
	}

	parameter, err := retryReadRegister(target, RegR1)
	if err != nil {
		return err
	}

	switch operation {
	case semihostSysWriteC:
		if err := writeChar(console, parameter); err != nil {
			return err
		}
	case semihostSysWrite0:
		if err := writeString(target, console, parameter); err != nil {
			return err
		}
	case semihostSysReadC:
		if err := readChar(target, console); err != nil {
			return err
		}
	default:
		return NewError(Failure, "unsupported semihosting operation %#x", operation)
	}

	pc += 2
	if err := target.WriteRegister(RegPC, pc); err != nil {
		return err
	}

	return target.Resume()
}

func writeChar(console Console, parameter uint32) error {
	log.Tracef("SYS_WRITEC %02X", parameter)
	_, err := fmt.Fprintf(console.Out, "%c", byte(parameter))
	return err
}

// writeString transfers a NUL-terminated byte string out of target memory.
// The target only supports 32-bit accesses, so this reads whole words and
// shifts bytes out of them until it finds the terminator.
func writeString(target *Target, console Console, parameter uint32) error {
	log.Tracef("SYS_WRITE0 %08X", parameter)

	wordAddr := parameter &^ 3
	word, err := target.ReadWord(wordAddr)
	if err != nil {
		return err
	}

	bytesLeft := 4 - (parameter & 3)
	word >>= 8 * (parameter & 3)

	for {
		for bytesLeft > 0 {
			c := byte(word & 0xFF)
			word >>= 8
			bytesLeft--

			if c == 0 {
				return nil
			}

			if _, err := fmt.Fprintf(console.Out, "%c", c); err != nil {
				return err
			}
		}

		wordAddr += 4
		word, err = target.ReadWord(wordAddr)
		if err != nil {
			return err
		}
		bytesLeft = 4
	}
}

func readChar(target *Target, console Console) error {
	log.Trace("SYS_READC")

	c, err := console.In.ReadByte()
	if err != nil {
		return target.WriteRegister(RegR0, 0xFFFFFFFF) // EOF: no standard encoding, pass through as -1.
	}

	return target.WriteRegister(RegR0, uint32(c))
}

func retryRead32(target *Target, addr uint32) (uint32, error) {
	var data uint32
	err := retryUntil(100, time.Millisecond, func() error {
		var err error
		data, err = target.ReadWord(addr)
		return err
	})
	return data, err
}

func retryReadRegister(target *Target, reg RegisterNumber) (uint32, error) {
	var data uint32
	err := retryUntil(100, time.Millisecond, func() error {
		var err error
		data, err = target.ReadRegister(reg)
		return err
	})
	return data, err
}
