// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swddude

// Debug Access Port registers defined by ADIv5. Grounded on swd_dp.h's
// DebugAccessPort::Register enum.
const (
	dpRegABORT = 0x00 // Write-only
	dpRegIDCODE = 0x00 // Read-only

	dpRegCTRLSTAT = 0x01 // Only available when SELECT.CTRLSEL=0
	dpRegWCR      = 0x01 // Only available when SELECT.CTRLSEL=1

	dpRegSELECT = 0x02 // Write-only
	dpRegRESEND = 0x02 // Read-only

	dpRegRDBUFF = 0x03 // Read-only
)

// ABORT register clear bits.
const (
	abortSTKCMPCLR  = 1 << 1
	abortSTKERRCLR  = 1 << 2
	abortWDERRCLR   = 1 << 3
	abortORUNERRCLR = 1 << 4
)

// CTRL/STAT power-request bits.
const (
	ctrlStatCSYSPWRUPREQ = 1 << 30
	ctrlStatCDBGPWRUPREQ = 1 << 28
)

// selectUnknown is a SELECT value no real write can ever produce: bit 1 is
// reserved by ADIv5 and real hardware never sets it, so it's safe to use as
// an "uncached" sentinel.
const selectUnknown uint32 = 0xFFFFFFFF

// DebugAccessPort wraps an SWDDriver and provides the ADIv5-standard SWD-DP
// operations: direct DP register access, and AP register access through the
// SELECT-banked indirection ADIv5 defines. Only one DebugAccessPort should
// be used per SWDDriver, because it caches SELECT and assumes it's the only
// thing mutating it.
type DebugAccessPort struct {
	swd    SWDDriver
	SELECT uint32
}

func NewDebugAccessPort(swd SWDDriver) *DebugAccessPort {
	return &DebugAccessPort{swd: swd, SELECT: selectUnknown}
}

// selectAPBank selects the given AP and the bank that exposes address,
// skipping the write entirely when SELECT already holds the right value.
func (d *DebugAccessPort) selectAPBank(ap uint8, address uint8) error {
	sel := (uint32(ap) << 24) | uint32(address&0xF0) | (d.SELECT & 1)

	if sel != d.SELECT {
		return d.WriteSelect(sel)
	}

	return nil
}

// ResetState resets the Debug Access Port to a known state: reveals
// CTRL/STAT and the first AP bank, clears sticky error bits, and powers up
// the debug system.
func (d *DebugAccessPort) ResetState() error {
	if err := d.WriteSelect(0); err != nil {
		return err
	}

	if err := d.WriteAbort(abortSTKCMPCLR | abortSTKERRCLR | abortWDERRCLR | abortORUNERRCLR); err != nil {
		return err
	}

	return d.WriteCtrlStat(ctrlStatCSYSPWRUPREQ | ctrlStatCDBGPWRUPREQ)
}

func (d *DebugAccessPort) ReadIDCode() (uint32, error) {
	return d.swd.Read(dpRegIDCODE, true)
}

func (d *DebugAccessPort) WriteAbort(data uint32) error {
	return d.swd.Write(dpRegABORT, true, data)
}

func (d *DebugAccessPort) ReadCtrlStat() (uint32, error) {
	if d.SELECT&1 != 0 {
		if err := d.WriteSelect(d.SELECT &^ 1); err != nil {
			return 0, err
		}
	}

	return d.swd.Read(dpRegCTRLSTAT, true)
}

func (d *DebugAccessPort) WriteCtrlStat(data uint32) error {
	if d.SELECT&1 != 0 {
		if err := d.WriteSelect(d.SELECT &^ 1); err != nil {
			return err
		}
	}

	return d.swd.Write(dpRegCTRLSTAT, true, data)
}

func (d *DebugAccessPort) WriteSelect(data uint32) error {
	if err := d.swd.Write(dpRegSELECT, true, data); err != nil {
		return err
	}

	d.SELECT = data
	return nil
}

func (d *DebugAccessPort) ReadResend() (uint32, error) {
	return d.swd.Read(dpRegRESEND, true)
}

func (d *DebugAccessPort) ReadRDBuff() (uint32, error) {
	return d.swd.Read(dpRegRDBUFF, true)
}

// StartReadAP begins an asynchronous read of an AP register. The result is
// delivered by the next StepReadAP or ReadRDBuff call, not by this one.
func (d *DebugAccessPort) StartReadAP(apIndex uint8, address uint8) error {
	if address&3 != 0 {
		return NewError(ArgumentError, "ap register address %#x is not word-aligned", address)
	}

	if err := d.selectAPBank(apIndex, address); err != nil {
		return err
	}

	_, err := d.swd.Read(uint((address>>2)&3), false)
	return err
}

// StepReadAP starts a new AP register read and returns the result of the
// previous one, chaining pipelined reads together.
func (d *DebugAccessPort) StepReadAP(apIndex uint8, address uint8) (uint32, error) {
	if address&3 != 0 {
		return 0, NewError(ArgumentError, "ap register address %#x is not word-aligned", address)
	}

	if err := d.selectAPBank(apIndex, address); err != nil {
		return 0, err
	}

	return d.swd.Read(uint((address>>2)&3), false)
}

// WriteAP writes a new value into an AP register, possibly changing AP
// banks to do so.
func (d *DebugAccessPort) WriteAP(apIndex uint8, address uint8, data uint32) error {
	if address&3 != 0 {
		return NewError(ArgumentError, "ap register address %#x is not word-aligned", address)
	}

	if err := d.selectAPBank(apIndex, address); err != nil {
		return err
	}

	return d.swd.Write(uint((address>>2)&3), false, data)
}
