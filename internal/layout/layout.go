// {{{ Copyright (c) Paul R. Tagliamonte <paultag@gmail.com> 2020-2021
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE. }}}

// Package layout contains the on-disk/in-memory byte layout shared by both
// endpoints of an mmapipc file: the fixed-size global header, the two
// per-ring headers, and the mmap bootstrap that backs all three with a
// single shared mapping.
//
// Nothing in this package understands framing or roles; it only knows how
// to get bytes in and out of specific absolute offsets inside the mapping,
// with atomic semantics on the words that cross the process boundary.
package layout

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// GlobalHeaderSize is the size in bytes of the global header (5 x u32).
	GlobalHeaderSize = 20
	// RingHeaderSize is the size in bytes of a single ring header (3 x u32).
	RingHeaderSize = 12

	// MagicValue identifies an initialized mmapipc file: "MMAP" read
	// little-endian.
	MagicValue uint32 = 0x50414D4D
	// FormatVersion is the only format version this package writes or
	// understands.
	FormatVersion uint32 = 1

	// Sign bits. RST is reserved and currently unused by the protocol.
	SignRST uint32 = 0x80000000
	SignOPA uint32 = 0x40000000
	SignOPB uint32 = 0x20000000
)

// global header field offsets, relative to file offset 0.
const (
	offMagic     = 0
	offVersion   = 4
	offBasePtrA  = 8
	offBasePtrB  = 12
	offSign      = 16
)

// ring header field offsets, relative to a ring's base pointer.
const (
	offInOffset  = 0
	offOutOffset = 4
	offSize      = 8
)

// FileSize returns the total backing-file size for a given payload capacity,
// per §3: H + 2*(B + P + 1).
func FileSize(payloadSize uint32) int64 {
	ring := int64(RingHeaderSize) + int64(payloadSize) + 1
	return int64(GlobalHeaderSize) + 2*ring
}

// Mapping is the memory-mapped backing file shared by both endpoints.
type Mapping struct {
	file *os.File
	data []byte
}

// Open ensures the backing file exists with the correct size for
// payloadSize and maps it read-write. If the file does not exist, it is
// created zero-filled at the full size; if it exists, it is opened and
// mapped at its current length (the caller is responsible for deciding
// whether that length agrees with payloadSize once the header is parsed).
func Open(path string, payloadSize uint32) (m *Mapping, created bool, err error) {
	_, statErr := os.Stat(path)
	created = os.IsNotExist(statErr)

	flags := os.O_RDWR
	if created {
		flags |= os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("layout: open %s: %w", path, err)
	}

	size := FileSize(payloadSize)
	if created {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, false, fmt.Errorf("layout: truncate %s: %w", path, err)
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, false, fmt.Errorf("layout: stat %s: %w", path, err)
		}
		size = info.Size()
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("layout: mmap %s: %w", path, err)
	}

	return &Mapping{file: f, data: data}, created, nil
}

// Close unmaps the file and closes the descriptor.
func (m *Mapping) Close() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("layout: munmap: %w", err)
		}
		m.data = nil
	}
	return m.file.Close()
}

// plain (non-atomic) word access, used only for fields that are immutable
// after initialization: Magic, Version, BasePtrA, BasePtrB, ring Size.

func (m *Mapping) readU32(offset int) uint32 {
	return binary.LittleEndian.Uint32(m.data[offset : offset+4])
}

func (m *Mapping) writeU32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(m.data[offset:offset+4], v)
}

// word32 returns a pointer suitable for atomic load/store at offset. The
// mapping is page-aligned and every field offset used here is a multiple of
// 4, so this is safe on every architecture Go supports mmap on.
func (m *Mapping) word32(offset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&m.data[offset]))
}

func (m *Mapping) loadAtomic(offset int) uint32 {
	return atomic.LoadUint32(m.word32(offset))
}

func (m *Mapping) storeAtomic(offset int, v uint32) {
	atomic.StoreUint32(m.word32(offset), v)
}

// GlobalHeader is the decoded form of the fixed 20-byte header at file
// offset 0.
type GlobalHeader struct {
	Magic     uint32
	Version   uint32
	BasePtrA  uint32
	BasePtrB  uint32
}

// ReadGlobalHeader decodes the immutable portion of the global header.
func (m *Mapping) ReadGlobalHeader() GlobalHeader {
	return GlobalHeader{
		Magic:    m.readU32(offMagic),
		Version:  m.readU32(offVersion),
		BasePtrA: m.readU32(offBasePtrA),
		BasePtrB: m.readU32(offBasePtrB),
	}
}

// WriteGlobalHeader writes the immutable portion of the global header. Only
// ever called once, during first-attach initialization.
func (m *Mapping) WriteGlobalHeader(h GlobalHeader) {
	m.writeU32(offMagic, h.Magic)
	m.writeU32(offVersion, h.Version)
	m.writeU32(offBasePtrA, h.BasePtrA)
	m.writeU32(offBasePtrB, h.BasePtrB)
	m.storeAtomic(offSign, 0)
}

// Sign loads the current Sign word with acquire semantics.
func (m *Mapping) Sign() uint32 {
	return m.loadAtomic(offSign)
}

// SetSign stores a new Sign word with release semantics. The
// read-modify-write performed by callers (see role.go) is not atomic at the
// byte level; this only guarantees that the stored word itself is visible
// atomically to the next loader, matching the reference implementation's
// accepted race (§4.3, §9 of SPEC_FULL.md).
func (m *Mapping) SetSign(v uint32) {
	m.storeAtomic(offSign, v)
}

// RingHeader is the decoded form of a single 12-byte per-ring header.
type RingHeader struct {
	InOffset  uint32
	OutOffset uint32
	Size      uint32
}

// ReadRingSize reads the immutable Size field of the ring at base.
func (m *Mapping) ReadRingSize(base uint32) uint32 {
	return m.readU32(int(base) + offSize)
}

// InitRing writes a fresh zeroed ring header (InOffset=OutOffset=0) with the
// given capacity. Only ever called once, during first-attach
// initialization.
func (m *Mapping) InitRing(base uint32, size uint32) {
	m.storeAtomic(int(base)+offInOffset, 0)
	m.storeAtomic(int(base)+offOutOffset, 0)
	m.writeU32(int(base)+offSize, size)
}

// LoadInOffset reads a ring's producer cursor with acquire semantics.
func (m *Mapping) LoadInOffset(base uint32) uint32 {
	return m.loadAtomic(int(base) + offInOffset)
}

// StoreInOffset publishes a ring's producer cursor with release semantics.
func (m *Mapping) StoreInOffset(base uint32, v uint32) {
	m.storeAtomic(int(base)+offInOffset, v)
}

// LoadOutOffset reads a ring's consumer cursor with acquire semantics.
func (m *Mapping) LoadOutOffset(base uint32) uint32 {
	return m.loadAtomic(int(base) + offOutOffset)
}

// StoreOutOffset publishes a ring's consumer cursor with release semantics.
func (m *Mapping) StoreOutOffset(base uint32, v uint32) {
	m.storeAtomic(int(base)+offOutOffset, v)
}

// PayloadAt returns the ring's payload region of exactly size bytes,
// immediately following its RingHeaderSize-byte header.
func (m *Mapping) PayloadAt(base uint32, size uint32) []byte {
	start := int(base) + RingHeaderSize
	return m.data[start : start+int(size)]
}

// MagicBytes returns the raw 4 bytes currently stored at the Magic field, in
// file order, for use in BadMagic error messages.
func (m *Mapping) MagicBytes() [4]byte {
	var b [4]byte
	copy(b[:], m.data[offMagic:offMagic+4])
	return b
}
