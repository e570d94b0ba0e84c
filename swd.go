// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swddude

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// SWD request-byte header bits, per ARM ADIv5.
const (
	swdHeaderStart = 1 << 0

	swdHeaderAP = 1 << 1
	swdHeaderDP = 0 << 1

	swdHeaderRead  = 1 << 2
	swdHeaderWrite = 0 << 2

	swdHeaderParity = 1 << 5
	swdHeaderPark   = 1 << 7
)

// SWD ACK codes, as returned MSB-justified in the three-bit ACK phase.
const (
	swdAckOK    = 0x1
	swdAckWait  = 0x2
	swdAckFault = 0x4
)

// swdRequest builds the 8-bit SWD request header for an access to the given
// 2-bit register address, targeting either the Debug Port or the currently
// selected Access Port bank, as a read or a write.
func swdRequest(address uint, debugPort bool, write bool) byte {
	parity := debugPort != write

	request := byte(swdHeaderStart) | swdHeaderPark
	if debugPort {
		request |= swdHeaderDP
	} else {
		request |= swdHeaderAP
	}

	if write {
		request |= swdHeaderWrite
	} else {
		request |= swdHeaderRead
	}

	request |= byte((address & 0x3) << 3)

	switch address & 0x3 {
	case 0, 3:
		// Even number of set bits contributed by the address; no change.
	case 1, 2:
		parity = !parity
	}

	if parity {
		request |= swdHeaderParity
	}

	return request
}

// swdParity computes the even parity of a 32-bit word by XOR-folding it down
// to a single bit.
func swdParity(data uint32) bool {
	t := data
	t ^= t >> 16
	t ^= t >> 8
	t ^= t >> 4
	t ^= t >> 2
	t ^= t >> 1

	return t&1 != 0
}

// SWDDriver is the low-level interface to an SWD link. Each method maps
// directly onto an ADIv5 SWD protocol concept; higher layers (DebugAccessPort,
// Target) build retries and named registers on top of it.
type SWDDriver interface {
	Initialize() (idcode uint32, err error)
	EnterReset() error
	LeaveReset() error
	Read(address uint, debugPort bool) (uint32, error)
	Write(address uint, debugPort bool, data uint32) error
}

// MPSSESWDDriver drives SWD over an FT232H's MPSSE engine. Grounded on
// swd_mpsse.cpp's MPSSESWDDriver.
type MPSSESWDDriver struct {
	mpsse *MPSSE
}

func NewMPSSESWDDriver(mpsse *MPSSE) *MPSSESWDDriver {
	return &MPSSESWDDriver{mpsse: mpsse}
}

// Initialize performs the ADIv5 "connection and line reset sequence": at
// least 50 clocks with SWDIO held high, one idle clock, then a DP IDCODE
// read to confirm the target is listening.
func (d *MPSSESWDDriver) Initialize() (uint32, error) {
	commands := []byte{
		mpsseSetBitsLow, pinStateResetSWD, pinDirWrite,
		mpsseClkBytes, ftLow(6), ftHigh(6), // 48 bits...
		mpsseClkBits, ftLow(2), // ...and two more: 50 total.
		mpsseSetBitsLow, pinStateIdle, pinDirWrite,
		mpsseClkBits, ftLow(1),
	}

	if _, err := d.mpsse.outEP.Write(commands); err != nil {
		return 0, WrapError(InitFailed, err, "swd line reset failed")
	}

	idcode, err := d.Read(uint(dpRegIDCODE), true)
	if err != nil {
		return 0, WrapError(InitFailed, err, "idcode read failed")
	}

	log.Debugf("debug port IDCODE = %08X (version %X, part %X, designer %X)",
		idcode, idcode>>28, (idcode>>12)&0xFFFF, (idcode>>1)&0x7FF)

	return idcode, nil
}

// EnterReset asserts the target's external reset line.
func (d *MPSSESWDDriver) EnterReset() error {
	return d.mpsse.setPins(pinStateResetTarget, pinDirWrite)
}

// LeaveReset releases the target's external reset line back to idle.
func (d *MPSSESWDDriver) LeaveReset() error {
	return d.mpsse.setPins(pinStateIdle, pinDirWrite)
}

func (d *MPSSESWDDriver) Read(address uint, debugPort bool) (uint32, error) {
	requestCommands := []byte{
		mpsseDoWrite | mpsseLSB | mpsseBitmode, ftLow(8), swdRequest(address, debugPort, false),
		mpsseSetBitsLow, pinStateIdle, pinDirRead,
		mpsseClkBits, ftLow(1),
		mpsseDoRead | mpsseReadNeg | mpsseLSB | mpsseBitmode, ftLow(3),
	}

	ackResponse, err := d.mpsse.transact(requestCommands, 1, time.Second)
	if err != nil {
		return 0, err
	}

	ack := ackResponse[0] >> 5
	var data uint32

	if ack == swdAckOK {
		dataCommands := []byte{
			mpsseDoRead | mpsseReadNeg | mpsseLSB, ftLow(4), ftHigh(4),
			mpsseDoRead | mpsseReadNeg | mpsseLSB | mpsseBitmode, ftLow(2),
		}

		dataResponse, err := d.mpsse.transact(dataCommands, 5, time.Second)
		if err != nil {
			return 0, err
		}

		data = uint32(dataResponse[0]) | uint32(dataResponse[1])<<8 |
			uint32(dataResponse[2])<<16 | uint32(dataResponse[3])<<24
		parity := (dataResponse[4]>>6)&1 != 0

		if parity != swdParity(data) {
			d.cleanup()
			return 0, NewError(Failure, "swd read parity error at %08X", data)
		}
	}

	if err := d.cleanup(); err != nil {
		return 0, err
	}

	switch ack {
	case swdAckOK:
		return data, nil
	case swdAckWait:
		return 0, NewError(TryAgain, "swd read got WAIT")
	case swdAckFault:
		return 0, NewError(Failure, "swd read got FAULT")
	default:
		return 0, NewError(Failure, "swd read got unexpected ack %d", ack)
	}
}

func (d *MPSSESWDDriver) Write(address uint, debugPort bool, data uint32) error {
	requestCommands := []byte{
		mpsseDoWrite | mpsseLSB | mpsseBitmode, ftLow(8), swdRequest(address, debugPort, true),
		mpsseSetBitsLow, pinStateIdle, pinDirRead,
		mpsseClkBits, ftLow(1),
		mpsseDoRead | mpsseReadNeg | mpsseLSB | mpsseBitmode, ftLow(3),
		mpsseSetBitsLow, pinStateIdle, pinDirWrite,
		mpsseClkBits, ftLow(1),
	}

	response, err := d.mpsse.transact(requestCommands, 1, time.Second)
	if err != nil {
		return err
	}

	ack := response[0] >> 5

	if ack == swdAckOK {
		parityByte := byte(0x00)
		if swdParity(data) {
			parityByte = 0xFF
		}

		dataCommands := []byte{
			mpsseDoWrite | mpsseLSB, ftLow(4), ftHigh(4),
			byte(data), byte(data >> 8), byte(data >> 16), byte(data >> 24),
			mpsseDoWrite | mpsseLSB | mpsseBitmode, ftLow(1), parityByte,
		}

		if _, err := d.mpsse.outEP.Write(dataCommands); err != nil {
			return WrapError(Failure, err, "swd write data phase failed")
		}
	}

	switch ack {
	case swdAckOK:
		return nil
	case swdAckWait:
		return NewError(TryAgain, "swd write got WAIT")
	case swdAckFault:
		return NewError(Failure, "swd write got FAULT")
	default:
		return NewError(Failure, "swd write got unexpected ack %d", ack)
	}
}

// cleanup takes the bus back from the target and clocks out the trailing
// turnaround bit every read must perform whether or not it succeeded.
func (d *MPSSESWDDriver) cleanup() error {
	_, err := d.mpsse.outEP.Write([]byte{
		mpsseSetBitsLow, pinStateIdle, pinDirWrite,
		mpsseClkBits, ftLow(1),
	})
	if err != nil {
		return WrapError(Failure, err, "swd read cleanup failed")
	}
	return nil
}
