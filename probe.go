// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swddude

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// AccessPortIDR bit 16 distinguishes MEM-APs (which expose target memory
// through TAR/DRW) from other AP kinds this toolkit doesn't crawl further.
const idrMemAPFlag = 1 << 16

// MEM-AP BASE register bits.
const (
	memAPBASE       = 0xF8
	baseRegFileMask = ^uint32(0xFFF)
)

// Component ID register offsets, relative to the top of a 4KiB peripheral
// block, and the ADIv5-mandated values three of its four words must hold.
const (
	componentIDOffset0 = 0xFF0
	componentIDClass1  = 0x0D
	componentIDClass3  = 0x05
	componentIDClass4  = 0xB1
)

const peripheralID4Offset = 0xFD0

// ComponentRecord describes one ADIv5 debug component discovered while
// crawling an AP's address space.
type ComponentRecord struct {
	APIndex    uint8
	RegFile    uint32
	BaseAddr   uint32
	Size       uint32
	Class      uint8
	CPUID      uint32
	Kind       string
}

// CrawlDAP probes up to count AP indices (0..count-1, clamped to the
// architectural maximum of 256) behind dap, reporting every MEM-AP it finds
// and recursively crawling its debug component tree. Grounded on
// swdprobe.cpp's crawl_dap.
func CrawlDAP(dap *DebugAccessPort, count int) ([]ComponentRecord, error) {
	if count <= 0 || count > 256 {
		count = 256
	}

	var found []ComponentRecord

	for i := 0; i < count; i++ {
		apIndex := uint8(i)
		log.Tracef("trying AP %02X", apIndex)

		if err := dap.StartReadAP(apIndex, 0xFC); err != nil {
			return found, err
		}
		idr, err := dap.ReadRDBuff()
		if err != nil {
			return found, err
		}

		if idr != 0 {
			log.Infof("AP %02X IDR = %08X", apIndex, idr)

			if idr&idrMemAPFlag != 0 {
				records, err := crawlMemoryAP(dap, apIndex)
				if err != nil {
					return found, err
				}
				found = append(found, records...)
			} else {
				log.Debug("non-MEM-AP, not crawled")
			}
		}
	}

	return found, nil
}

func crawlMemoryAP(dap *DebugAccessPort, apIndex uint8) ([]ComponentRecord, error) {
	if err := dap.StartReadAP(apIndex, memAPBASE); err != nil {
		return nil, err
	}
	base, err := dap.ReadRDBuff()
	if err != nil {
		return nil, err
	}
	log.Debugf("BASE = %08X", base)

	if base&3 != 3 {
		log.Debug("encountered non-ADIv5 legacy device")
		return nil, nil
	}

	if err := dap.StartReadAP(apIndex, memAPCSW); err != nil {
		return nil, err
	}
	csw, err := dap.ReadRDBuff()
	if err != nil {
		return nil, err
	}
	log.Debugf("MEM-AP initial CSW = %08X", csw)

	csw = (csw & 0xFFFFF000) | (1 << 4) | 2
	if err := dap.WriteAP(apIndex, memAPCSW, csw); err != nil {
		return nil, err
	}

	regfile := base & baseRegFileMask
	log.Debugf("register file at %08X", regfile)

	if regfile == 0xE00FF000 {
		log.Debug("looks like an ARMv7-M ROM table")
	}

	return crawlUnknownPeripheral(dap, apIndex, regfile)
}

func crawlUnknownPeripheral(dap *DebugAccessPort, apIndex uint8, regfile uint32) ([]ComponentRecord, error) {
	log.Debugf("--- peripheral at %08X in AP %02X", regfile, apIndex)

	if err := dap.WriteAP(apIndex, memAPTAR, regfile+componentIDOffset0); err != nil {
		return nil, err
	}
	if err := dap.StartReadAP(apIndex, memAPDRW); err != nil {
		return nil, err
	}

	var componentID [4]uint32
	for i := 0; i < 3; i++ {
		v, err := dap.StepReadAP(apIndex, memAPDRW)
		if err != nil {
			return nil, err
		}
		componentID[i] = v
	}
	last, err := dap.ReadRDBuff()
	if err != nil {
		return nil, err
	}
	componentID[3] = last

	for i, v := range componentID {
		log.Debugf("component ID %d = %08X", i, v)
	}

	if componentID[0] != componentIDClass1 || componentID[2] != componentIDClass3 || componentID[3] != componentIDClass4 {
		log.Warnf("component at %08X has malformed ADIv5 component ID", regfile)
		return nil, nil
	}

	if err := dap.WriteAP(apIndex, memAPTAR, regfile+peripheralID4Offset); err != nil {
		return nil, err
	}
	var peripheralID4 uint32
	if err := retryUntil(100, time.Millisecond, func() error {
		if err := dap.StartReadAP(apIndex, memAPDRW); err != nil {
			return err
		}
		var err error
		peripheralID4, err = dap.ReadRDBuff()
		return err
	}); err != nil {
		return nil, err
	}

	log2SizeInBlocks := (peripheralID4 >> 4) & 0xF
	size := (uint32(1) << log2SizeInBlocks) * 4 * 1024
	baseAddr := (regfile + 4*1024) - size
	log.Debugf(" size = 2^%d blocks = %d bytes", log2SizeInBlocks, size)

	componentClass := uint8((componentID[1] >> 4) & 0xF)

	record := ComponentRecord{
		APIndex:  apIndex,
		RegFile:  regfile,
		BaseAddr: baseAddr,
		Size:     size,
		Class:    componentClass,
	}

	if componentClass == 1 {
		record.Kind = "ROM table"
		records := []ComponentRecord{record}
		sub, err := crawlROMTable(dap, apIndex, baseAddr, regfile, size)
		if err != nil {
			return records, err
		}
		return append(records, sub...), nil
	}

	// Cortex-M0 returns bogus component classes; recognize the processor
	// heuristically from CPUID instead.
	cpuid, err := readCPUID(dap, apIndex)
	if err != nil {
		return []ComponentRecord{record}, err
	}
	record.CPUID = cpuid
	log.Debugf("CPUID = %08X", cpuid)

	archMajor := (cpuid >> 16) & 0xF
	switch {
	case archMajor == 0xC && regfile == 0xE000E000: // ARMv6-M SCS
		record.Kind = "ARMv6-M SCS"
	case archMajor == 0xC && regfile == 0xE0001000:
		record.Kind = "ARMv6-M DWT"
	case archMajor == 0xC && regfile == 0xE0002000:
		record.Kind = "ARMv6-M BPU"
	case archMajor == 0xF && regfile == 0xE000E000: // ARMv7-M SCS
		record.Kind = "ARMv7-M SCS"
	default:
		record.Kind = "unknown"
		log.Debugf("unknown component class %X", componentClass)
	}

	return []ComponentRecord{record}, nil
}

func crawlROMTable(dap *DebugAccessPort, apIndex uint8, baseAddr, regfile, size uint32) ([]ComponentRecord, error) {
	if size != 4096 {
		return nil, NewError(Failure, "ROM table size %d, expected 4096", size)
	}

	if err := dap.WriteAP(apIndex, memAPTAR, regfile+0xFCC); err != nil {
		return nil, err
	}
	if err := dap.StartReadAP(apIndex, memAPDRW); err != nil {
		return nil, err
	}
	memtype, err := dap.ReadRDBuff()
	if err != nil {
		return nil, err
	}

	if memtype&1 != 0 {
		log.Debug("ROM table is on a common bus with system memory")
	} else {
		log.Debug("ROM table is on a dedicated bus")
	}

	var subfiles []uint32

	if err := dap.WriteAP(apIndex, memAPTAR, baseAddr); err != nil {
		return nil, err
	}
	if err := dap.StartReadAP(apIndex, memAPDRW); err != nil {
		return nil, err
	}

	for i := uint32(0); i < 0xF00/4; i++ {
		entry, err := dap.StepReadAP(apIndex, memAPDRW)
		if err != nil {
			return nil, err
		}

		if entry == 0 {
			break
		}

		if entry&1 == 0 {
			log.Debugf("[%d]: not present", i)
			continue
		}

		offset := int32(entry &^ 0xFFF)
		subRegfile := uint32(int64(baseAddr) + int64(offset))
		subfiles = append(subfiles, subRegfile)
		log.Debugf("[%d]: base + %08X = %08X", i, offset, subRegfile)
	}

	var all []ComponentRecord
	for _, sub := range subfiles {
		records, err := crawlUnknownPeripheral(dap, apIndex, sub)
		if err != nil {
			log.Warnf("crawling peripheral at %08X failed: %v", sub, err)
			continue
		}
		all = append(all, records...)
	}

	return all, nil
}

func readCPUID(dap *DebugAccessPort, apIndex uint8) (uint32, error) {
	if err := dap.WriteAP(apIndex, memAPTAR, 0xE000ED00); err != nil {
		return 0, err
	}
	if err := dap.StartReadAP(apIndex, memAPDRW); err != nil {
		return 0, err
	}
	return dap.ReadRDBuff()
}
