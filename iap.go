// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swddude

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// In-Application Programming ROM entry point and workspace sizing for the
// NXP LPC111x/13xx series. Grounded on lpc11xx_13xx.h.
const (
	iapEntry          = 0x1FFF1FF0
	iapMinStackWords  = 128 / 4
	iapMaxCommandWords = 5
	iapMaxResponseWords = 5
)

// IAP command indices.
const (
	iapUnprotectSectors     = 50
	iapCopyRAMToFlash       = 51
	iapEraseSectors         = 52
	iapBlankCheckSectors    = 53
	iapReadPartID           = 54
	iapReadBootCodeVersion  = 55
	iapCompare              = 56
	iapReinvokeISP          = 57
	iapReadUID              = 58
)

// IAP result codes (the first response word).
const (
	iapResultCmdSuccess = 0
)

// System Configuration block: controls what's mapped at address 0.
const (
	sysconSYSMEMREMAP           = 0x40048000
	sysMemRemapMapBootloader    = 0
	sysMemRemapMapUserRAM       = 1
	sysMemRemapMapUserFlash     = 2
)

// UnmapBootSector switches the vector table at address 0 back to user
// flash, so code written there will actually run. Grounded on
// swdprobe.cpp's unmap_boot_sector.
func UnmapBootSector(target *Target) error {
	return target.WriteWord(sysconSYSMEMREMAP, sysMemRemapMapUserFlash)
}

// InvokeIAP calls the LPC ROM's IAP entry point with R0/R1 pointed at a
// command/response table the caller has already written into target RAM,
// using the breakpoint-on-return technique: LR and a hardware breakpoint
// are both set to the return address in RAM, so the call can be caught by
// a debug halt instead of needing a real return mechanism.
//
// Grounded on swdprobe.cpp's invoke_iap.
func InvokeIAP(target *Target, paramTable, resultTable uint32) error {
	if err := target.WriteRegister(RegR0, paramTable); err != nil {
		return err
	}
	if err := target.WriteRegister(RegR1, resultTable); err != nil {
		return err
	}
	if err := target.WriteRegister(RegDebugReturn, iapEntry); err != nil {
		return err
	}

	// Ask the ROM to return into RAM, and catch it there with a breakpoint.
	if err := target.WriteRegister(RegLink, paramTable|1); err != nil {
		return err
	}
	if err := target.EnableBreakpoint(0, paramTable); err != nil {
		return err
	}

	if err := target.ResetHaltState(); err != nil {
		return err
	}

	log.Debug("invoking IAP function...")
	if err := target.Resume(); err != nil {
		return err
	}

	halted := false
	for attempts := 0; attempts < 100 && !halted; attempts++ {
		var err error
		halted, err = target.IsHalted()
		if err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}

	reason, err := target.ReadHaltState()
	if err != nil {
		return err
	}

	if err := target.DisableBreakpoint(0); err != nil {
		return err
	}

	if reason&dfsrBkpt != 0 {
		return nil
	}

	if reason == 0 {
		log.Warn("target did not halt (or resume) after IAP invocation")
		if err := target.Halt(); err != nil {
			return err
		}
		pc, _ := target.ReadRegister(RegR15)
		return NewError(Failure, "target forcibly halted at %08X waiting for IAP return", pc)
	}

	pc, _ := target.ReadRegister(RegR15)
	return NewError(Failure, "target halted for unexpected reason %#x at %08X", reason, pc)
}

// iapCall writes command and its parameter words into a RAM workspace at
// ramBase, invokes the IAP ROM, and reads back up to iapMaxResponseWords of
// response. ramBase must leave room for the IAP's own minimum stack below
// the word where execution will return.
func iapCall(target *Target, ramBase uint32, command uint32, params []uint32) ([]uint32, error) {
	if len(params) > iapMaxCommandWords-1 {
		return nil, NewError(ArgumentError, "too many IAP command parameters: %d", len(params))
	}

	paramTable := ramBase + iapMinStackWords*4
	resultTable := paramTable + iapMaxCommandWords*4

	words := append([]uint32{command}, params...)
	if err := target.WriteWords(words, paramTable); err != nil {
		return nil, err
	}

	// The IAP's stack grows down from the command table into the words
	// reserved below it.
	if err := target.WriteRegister(RegStack, paramTable); err != nil {
		return nil, err
	}

	if err := InvokeIAP(target, paramTable, resultTable); err != nil {
		return nil, err
	}

	response, err := target.ReadWords(resultTable, iapMaxResponseWords)
	if err != nil {
		return nil, err
	}

	if response[0] != iapResultCmdSuccess {
		return response, NewError(Failure, "IAP command %d failed with status %d", command, response[0])
	}

	return response, nil
}

// EraseSectors erases flash sectors [start, end] inclusive.
func EraseSectors(target *Target, ramBase uint32, start, end, cpuClockKHz uint32) error {
	if _, err := iapCall(target, ramBase, iapUnprotectSectors, []uint32{start, end}); err != nil {
		return err
	}
	_, err := iapCall(target, ramBase, iapEraseSectors, []uint32{start, end, cpuClockKHz})
	return err
}

// CopyRAMToFlash programs a RAM-resident image of length bytes to a flash
// destination, in the device's fixed write-block granularity.
func CopyRAMToFlash(target *Target, ramBase, flashDest, ramSrc, length, cpuClockKHz uint32) error {
	sector := flashDest / 4096

	if _, err := iapCall(target, ramBase, iapUnprotectSectors, []uint32{sector, sector}); err != nil {
		return err
	}

	_, err := iapCall(target, ramBase, iapCopyRAMToFlash, []uint32{flashDest, ramSrc, length, cpuClockKHz})
	return err
}

// FixLPCChecksum overwrites the reserved vector at offset 0x1C of image
// with the two's-complement of the sum of the first seven Cortex-M vectors,
// so that the first eight words sum to zero, which the LPC111x/13xx boot ROM
// requires before it will treat the image's reset vector as valid.
func FixLPCChecksum(image []byte) {
	if len(image) < 32 {
		return
	}

	var sum uint32
	for i := 0; i < 28; i += 4 {
		sum += uint32(image[i]) | uint32(image[i+1])<<8 | uint32(image[i+2])<<16 | uint32(image[i+3])<<24
	}

	checksum := -sum
	image[28] = byte(checksum)
	image[29] = byte(checksum >> 8)
	image[30] = byte(checksum >> 16)
	image[31] = byte(checksum >> 24)
}
