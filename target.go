// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swddude

import (
	"time"

	"github.com/boljen/go-bitmap"
	log "github.com/sirupsen/logrus"
)

// AP registers in the MEM-AP.
const (
	memAPCSW = 0x00
	memAPTAR = 0x04
	memAPDRW = 0x0C
)

// The System Control Block.
const (
	scbAIRCR         = 0xE000ED0C
	scbAIRCRVectKey  = 0x05FA << 16
	scbAIRCRSysReset = 1 << 2 // SYSRESETREQ

	scbDFSR           = 0xE000ED30
	dfsrExternal      = 1 << 4
	dfsrVCatch        = 1 << 3
	dfsrDWTTrap       = 1 << 2
	dfsrBkpt          = 1 << 1
	dfsrHalted        = 1 << 0
	dfsrReasonMask    = 0x1F
)

// The Debug Control Block.
const (
	dcbDHCSR        = 0xE000EDF0
	dhcsrDbgKey     = 0xA05F << 16
	dhcsrSRegRdy    = 1 << 16
	dhcsrSHalt      = 1 << 17
	dhcsrCHalt      = 1 << 1
	dhcsrCDebugen   = 1 << 0

	dcbDCRSR      = 0xE000EDF4
	dcrsrRead     = 0 << 16
	dcrsrWrite    = 1 << 16

	dcbDCRDR = 0xE000EDF8

	dcbDEMCR           = 0xE000EDFC
	demcrVCCoreReset   = 1 << 0
	demcrVCHardErr     = 1 << 10
	demcrTrcEna        = 1 << 24
)

// The BreakPoint Unit (ARMv6-M), compatible with ARMv7-M's Flash Patch and
// Breakpoint unit.
const (
	bpuBPCTRL          = 0xE0002000
	bpCtrlKey          = 1 << 1
	bpCtrlEnable       = 1 << 0
	bpCtrlNumCodePos   = 4
	bpCtrlNumCodeMask  = 0xF << bpCtrlNumCodePos

	bpuBPCOMP0 = 0xE0002008

	bpCompMatchLow  = 1 << 30
	bpCompMatchHigh = 2 << 30
	bpCompMask      = 0x1FFFFFFC
	bpCompEnable    = 1 << 0
)

// RegisterNumber names the processor core and special-purpose registers
// reachable through DCRSR/DCRDR. Grounded on target.h's RegisterNumber enum.
type RegisterNumber uint32

const (
	RegR0  RegisterNumber = 0
	RegR1  RegisterNumber = 1
	RegR2  RegisterNumber = 2
	RegR3  RegisterNumber = 3
	RegR4  RegisterNumber = 4
	RegR5  RegisterNumber = 5
	RegR6  RegisterNumber = 6
	RegR7  RegisterNumber = 7
	RegR8  RegisterNumber = 8
	RegR9  RegisterNumber = 9
	RegR10 RegisterNumber = 10
	RegR11 RegisterNumber = 11
	RegR12 RegisterNumber = 12
	RegR13 RegisterNumber = 13
	RegR14 RegisterNumber = 14
	RegR15 RegisterNumber = 15

	RegPSR            RegisterNumber = 16
	RegMSP            RegisterNumber = 17
	RegPSP            RegisterNumber = 18
	RegCONTROLPriMask RegisterNumber = 20

	RegStack        = RegR13
	RegLink         = RegR14
	RegDebugReturn  = RegR15
	RegPC           = RegR15
)

// Target wraps a DebugAccessPort with Cortex-M debug semantics: memory and
// register access, halt/resume, and hardware breakpoint management. Grounded
// on target.cpp.
type Target struct {
	swd           SWDDriver
	dap           *DebugAccessPort
	memAPIndex    uint8
	currentAPBank int32

	breakpoints bitmap.Bitmap
}

func NewTarget(swd SWDDriver, dap *DebugAccessPort, memAPIndex uint8) *Target {
	return &Target{
		swd:           swd,
		dap:           dap,
		memAPIndex:    memAPIndex,
		currentAPBank: -1,
		breakpoints:   bitmap.New(8),
	}
}

func (t *Target) selectBankForAddress(address uint8) error {
	bank := int32(address & 0xF0)
	if t.currentAPBank != bank {
		if err := t.dap.selectAPBank(t.memAPIndex, uint8(bank)); err != nil {
			return err
		}
		t.currentAPBank = bank
	}
	return nil
}

func (t *Target) writeAP(address uint8, data uint32) error {
	if err := t.selectBankForAddress(address); err != nil {
		return err
	}
	return t.dap.WriteAP(t.memAPIndex, address, data)
}

func (t *Target) startReadAP(address uint8) error {
	if err := t.selectBankForAddress(address); err != nil {
		return err
	}
	return t.dap.StartReadAP(t.memAPIndex, address)
}

func (t *Target) stepReadAP(nextAddress uint8) (uint32, error) {
	if err := t.selectBankForAddress(nextAddress); err != nil {
		return 0, err
	}
	return t.dap.StepReadAP(t.memAPIndex, nextAddress)
}

func (t *Target) finalReadAP() (uint32, error) {
	return t.dap.ReadRDBuff()
}

const apRetries = 100

// Peek32 reads a single 32-bit word from target memory through the MEM-AP.
func (t *Target) Peek32(address uint32) (uint32, error) {
	if err := t.writeAP(memAPTAR, address); err != nil {
		return 0, err
	}

	if err := retryUntil(apRetries, time.Millisecond, func() error {
		return t.startReadAP(memAPDRW)
	}); err != nil {
		return 0, err
	}

	var data uint32
	err := retryUntil(apRetries, time.Millisecond, func() error {
		var err error
		data, err = t.finalReadAP()
		return err
	})
	if err != nil {
		return 0, err
	}

	log.Tracef("peek32(%08X) = %08X", address, data)
	return data, nil
}

// Poke32 writes a single 32-bit word to target memory through the MEM-AP,
// blocking until CSW reports the transaction has completed.
func (t *Target) Poke32(address uint32, data uint32) error {
	log.Tracef("poke32(%08X, %08X)", address, data)

	if err := t.writeAP(memAPTAR, address); err != nil {
		return err
	}

	if err := retryUntil(apRetries, time.Millisecond, func() error {
		return t.writeAP(memAPDRW, data)
	}); err != nil {
		return err
	}

	for {
		var csw uint32
		err := retryUntil(apRetries, time.Millisecond, func() error {
			return t.startReadAP(memAPCSW)
		})
		if err != nil {
			return err
		}

		csw, err = t.finalReadAP()
		if err != nil {
			return err
		}

		if csw&(1<<7) == 0 { // TrInProg clear
			return nil
		}
	}
}

// Initialize configures the MEM-AP for 4-byte transactions and enables
// Cortex-M halting debug.
func (t *Target) Initialize() error {
	if err := t.startReadAP(memAPCSW); err != nil {
		return err
	}
	csw, err := t.finalReadAP()
	if err != nil {
		return err
	}

	csw = (csw & 0xFFFFF000) | 2
	if err := t.writeAP(memAPCSW, csw); err != nil {
		return err
	}

	dhcsr, err := t.Peek32(dcbDHCSR)
	if err != nil {
		return err
	}

	if dhcsr&dhcsrCDebugen == 0 {
		if err := t.Poke32(dcbDHCSR, (dhcsr&0xFFFF)|dhcsrDbgKey|dhcsrCDebugen); err != nil {
			return err
		}
	}

	return nil
}

// ReadWords reads count 32-bit words from word-aligned targetAddr, using the
// MEM-AP's auto-increment mode and pipelined reads for throughput.
func (t *Target) ReadWords(targetAddr uint32, count int) ([]uint32, error) {
	if err := t.startReadAP(memAPCSW); err != nil {
		return nil, err
	}
	csw, err := t.finalReadAP()
	if err != nil {
		return nil, err
	}

	csw = (csw & 0xFFFFF000) | (1 << 4) | 2
	if err := t.writeAP(memAPCSW, csw); err != nil {
		return nil, err
	}

	if err := t.writeAP(memAPTAR, targetAddr); err != nil {
		return nil, err
	}

	if err := retryUntil(apRetries, time.Millisecond, func() error {
		return t.startReadAP(memAPDRW)
	}); err != nil {
		return nil, err
	}

	words := make([]uint32, count)
	for i := 0; i < count; i++ {
		if err := retryUntil(apRetries, time.Millisecond, func() error {
			w, err := t.stepReadAP(memAPDRW)
			words[i] = w
			return err
		}); err != nil {
			return nil, err
		}
	}

	return words, nil
}

// WriteWords writes words to word-aligned targetAddr using the MEM-AP's
// auto-increment mode.
func (t *Target) WriteWords(words []uint32, targetAddr uint32) error {
	if err := t.startReadAP(memAPCSW); err != nil {
		return err
	}
	csw, err := t.finalReadAP()
	if err != nil {
		return err
	}

	csw = (csw & 0xFFFFF000) | (1 << 4) | 2
	if err := t.writeAP(memAPCSW, csw); err != nil {
		return err
	}

	if err := t.writeAP(memAPTAR, targetAddr); err != nil {
		return err
	}

	for _, w := range words {
		if err := t.writeAP(memAPDRW, w); err != nil {
			return err
		}
	}

	return nil
}

// ReadRegister reads one of the processor's core or special-purpose
// registers. Only valid while the processor is halted.
func (t *Target) ReadRegister(reg RegisterNumber) (uint32, error) {
	if err := t.Poke32(dcbDCRSR, dcrsrRead|(uint32(reg)&0x1F)); err != nil {
		return 0, err
	}

	for {
		dhcsr, err := t.Peek32(dcbDHCSR)
		if err != nil {
			return 0, err
		}
		if dhcsr&dhcsrSRegRdy != 0 {
			break
		}
	}

	return t.Peek32(dcbDCRDR)
}

// WriteRegister replaces the contents of one of the processor's core or
// special-purpose registers. Only valid while the processor is halted.
func (t *Target) WriteRegister(reg RegisterNumber, data uint32) error {
	if err := t.Poke32(dcbDCRDR, data); err != nil {
		return err
	}
	if err := t.Poke32(dcbDCRSR, dcrsrWrite|(uint32(reg)&0x1F)); err != nil {
		return err
	}

	for {
		dhcsr, err := t.Peek32(dcbDHCSR)
		if err != nil {
			return err
		}
		if dhcsr&dhcsrSRegRdy != 0 {
			return nil
		}
	}
}

// ResetAndHalt issues a system reset via AIRCR.SYSRESETREQ with vector catch
// enabled, and waits for the processor to come up halted.
//
// SYSRESETREQ is used rather than VECTRESET: VECTRESET is an ARMv7-M-only,
// implementation-defined bit that ARMv6-M (Cortex-M0) targets -- also in
// scope here -- don't implement.
func (t *Target) ResetAndHalt() error {
	demcr, err := t.Peek32(dcbDEMCR)
	if err != nil {
		return err
	}

	if err := t.Poke32(dcbDEMCR, demcr|demcrVCCoreReset|demcrVCHardErr|demcrTrcEna); err != nil {
		return err
	}

	if err := t.Poke32(scbAIRCR, scbAIRCRVectKey|scbAIRCRSysReset); err != nil {
		return err
	}

	if err := retryUntil(1000, time.Millisecond, func() error {
		return t.pollForHalt(dfsrVCatch)
	}); err != nil {
		return err
	}

	return t.Poke32(dcbDEMCR, demcr)
}

func (t *Target) pollForHalt(dfsrMask uint32) error {
	dhcsr, err := t.Peek32(dcbDHCSR)
	if err != nil {
		return err
	}

	dfsr, err := t.Peek32(scbDFSR)
	if err != nil {
		return err
	}

	if dhcsr&dhcsrSHalt != 0 && dfsr&dfsrMask != 0 {
		return nil
	}

	return NewError(TryAgain, "target not yet halted")
}

func (t *Target) Halt() error {
	return t.Poke32(dcbDHCSR, dhcsrDbgKey|dhcsrCHalt|dhcsrCDebugen)
}

func (t *Target) Resume() error {
	return t.Poke32(dcbDHCSR, dhcsrDbgKey|dhcsrCDebugen)
}

func (t *Target) IsHalted() (bool, error) {
	dhcsr, err := t.Peek32(dcbDHCSR)
	if err != nil {
		return false, err
	}
	return dhcsr&dhcsrSHalt != 0, nil
}

func (t *Target) ReadHaltState() (uint32, error) {
	dfsr, err := t.Peek32(scbDFSR)
	if err != nil {
		return 0, err
	}
	return dfsr & dfsrReasonMask, nil
}

func (t *Target) ResetHaltState() error {
	return t.Poke32(scbDFSR, dfsrReasonMask)
}

func (t *Target) ReadWord(addr uint32) (uint32, error) {
	return t.Peek32(addr)
}

func (t *Target) WriteWord(addr uint32, data uint32) error {
	return t.Poke32(addr, data)
}

func (t *Target) EnableBreakpoints() error {
	return t.Poke32(bpuBPCTRL, bpCtrlKey|bpCtrlEnable)
}

func (t *Target) DisableBreakpoints() error {
	return t.Poke32(bpuBPCTRL, bpCtrlKey)
}

func (t *Target) AreBreakpointsEnabled() (bool, error) {
	ctrl, err := t.Peek32(bpuBPCTRL)
	if err != nil {
		return false, err
	}
	return ctrl&bpCtrlEnable != 0, nil
}

func (t *Target) GetBreakpointCount() (int, error) {
	ctrl, err := t.Peek32(bpuBPCTRL)
	if err != nil {
		return 0, err
	}
	return int((ctrl & bpCtrlNumCodeMask) >> bpCtrlNumCodePos), nil
}

// EnableBreakpoint arms hardware breakpoint n at addr (bit 0 of addr, the
// Thumb marker, is ignored). Tracks which slots are enabled in a bitmap.
func (t *Target) EnableBreakpoint(n int, addr uint32) error {
	if addr&0xE0000000 != 0 {
		return NewError(ArgumentError, "breakpoint address %08X outside code region", addr)
	}

	matchType := uint32(bpCompMatchLow)
	if addr&2 != 0 {
		matchType = bpCompMatchHigh
	}

	if err := t.Poke32(bpuBPCOMP0+uint32(n)*4, matchType|(addr&bpCompMask)|bpCompEnable); err != nil {
		return err
	}

	t.breakpoints.Set(n, true)
	return nil
}

func (t *Target) DisableBreakpoint(n int) error {
	if err := t.Poke32(bpuBPCOMP0+uint32(n)*4, 0); err != nil {
		return err
	}

	t.breakpoints.Set(n, false)
	return nil
}

// EnabledBreakpoints reports which hardware breakpoint slots this Target has
// enabled, for diagnostic front-ends.
func (t *Target) EnabledBreakpoints() bitmap.Bitmap {
	return t.breakpoints
}
