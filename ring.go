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

package ipc

import "mmapipc.dev/ipc/internal/layout"

// ring is a thin, stateless view over one of the two per-direction byte
// rings living inside the shared mapping. It carries no cursor state of its
// own -- InOffset/OutOffset live in the mapping itself (internal/layout) so
// that both this process and its peer see the same numbers. An endpoint
// holds two rings: sendRing (this side is producer) and recvRing (this
// side is consumer).
type ring struct {
	m    *layout.Mapping
	base uint32
	size uint32
}

func newRing(m *layout.Mapping, base uint32) ring {
	return ring{m: m, base: base, size: m.ReadRingSize(base)}
}

// totalAvailable is the number of bytes a producer may still write before
// the ring is full: size - 1 - ((in - out) mod size), the free-space
// invariant tested directly in ring_test.go. The one-slot sacrifice (Size
// == capacity+1) is what keeps a full ring from reading back as empty: a
// naive front+back split of "distance to end of buffer" plus "distance
// from start to out" (or "out - in" once in < out) overcounts by exactly
// one slot in every state, which would let a producer fill the ring so
// completely that `in` lands on `out` and a real frame reads back as an
// empty ring. Computing the invariant directly, rather than summing two
// physical segment lengths, avoids that aliasing hazard.
func (r ring) totalAvailable(in, out uint32) uint32 {
	used := (in - out + r.size) % r.size
	return r.size - 1 - used
}

// writeAt performs the two-segment wrap-around copy: up to size-in bytes at
// base+header+in, then any remainder wrapped to base+header. It does not
// touch the cursor -- callers publish `in` themselves once the full frame
// is in place, so that a reader never observes a partial frame under a
// fresh cursor.
func (r ring) writeAt(in uint32, data []byte) {
	buf := r.m.PayloadAt(r.base, r.size)
	n := copy(buf[in:], data)
	if n < len(data) {
		copy(buf[0:], data[n:])
	}
}

// readAt is the symmetric two-segment read, starting at `out` and reading
// exactly len(dst) bytes. The caller has already determined the frame
// length and confirmed it fits within the ring.
func (r ring) readAt(out uint32, dst []byte) {
	buf := r.m.PayloadAt(r.base, r.size)
	n := copy(dst, buf[out:])
	if n < len(dst) {
		copy(dst[n:], buf[0:])
	}
}

// advance computes the next cursor value after writing/reading `n` bytes
// starting at `cur`, wrapping modulo the ring size.
func (r ring) advance(cur, n uint32) uint32 {
	return (cur + n) % r.size
}
