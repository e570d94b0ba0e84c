// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package swddude

import (
	"bytes"
	"math"
)

// Buffer is a little-endian byte accumulator for building the word arrays
// IAP commands and flash images are exchanged in. Adapted from gostlink's
// Buffer (itself a bytes.Buffer wrapper); narrowed to little-endian only,
// since every wire format this toolkit touches -- SWD data phases, Cortex-M
// registers, the LPC IAP command table -- is little-endian.
type Buffer struct {
	bytes.Buffer
}

func NewBuffer(initSize int) *Buffer {
	b := &Buffer{}
	b.Grow(initSize)
	return b
}

func (buf *Buffer) WriteUint32LE(value uint32) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
	buf.WriteByte(byte(value >> 16))
	buf.WriteByte(byte(value >> 24))
}

func (buf *Buffer) WriteUint16LE(value uint16) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
}

func (buf *Buffer) ReadUint16LE() uint16 {
	return convertToUint16LE(buf.Bytes())
}

func (buf *Buffer) ReadUint32LE() uint32 {
	return convertToUint32LE(buf.Bytes())
}

// WordsLE packs the buffer's contents into 32-bit little-endian words,
// zero-padding the final word if the length isn't a multiple of 4. This is
// how a flash image chunk becomes the []uint32 Target.WriteWords expects.
func (buf *Buffer) WordsLE() []uint32 {
	data := buf.Bytes()
	words := make([]uint32, (len(data)+3)/4)

	for i, b := range data {
		words[i/4] |= uint32(b) << uint((i%4)*8)
	}

	return words
}

func convertToUint16LE(buf []byte) uint16 {
	if len(buf) > 1 {
		return uint16(buf[0]) | (uint16(buf[1]) << 8)
	}

	logger.Errorf("could not read uint16 from a buffer shorter than 2 bytes")
	return math.MaxUint16
}

func convertToUint32LE(buf []byte) uint32 {
	if len(buf) > 3 {
		return uint32(buf[0]) | (uint32(buf[1]) << 8) | (uint32(buf[2]) << 16) | (uint32(buf[3]) << 24)
	}

	logger.Errorf("could not read uint32 from a buffer shorter than 4 bytes")
	return math.MaxUint32
}
