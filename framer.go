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

import (
	"encoding/binary"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// lengthPrefixSize is the width of the little-endian frame-length prefix
// (§4.5).
const lengthPrefixSize = 4

// defaultPollInterval is the fixed cadence both Send and Recv poll at while
// blocked waiting for space or data (§5). It is not part of the public
// contract; WithPollInterval exists solely so tests don't have to wait out
// a real 100ms per iteration.
const defaultPollInterval = 100 * time.Millisecond

// send writes one length-prefixed frame into e.sendRing, polling at e.pollInterval
// until enough space is free, data has been written, or the deadline
// implied by timeout passes. There is no ceiling check against the ring's
// capacity (§9): a frame that can never fit simply never reports enough
// space, so a non-blocking send returns 0 and a blocking send waits out
// whatever timeout the caller supplied (or blocks forever with a nil one).
func (e *Endpoint) send(data []byte, blocking bool, timeout *time.Duration) (int, error) {
	required := uint32(len(data) + lengthPrefixSize)

	in := e.m.LoadInOffset(e.sendRing.base)
	out := e.m.LoadOutOffset(e.sendRing.base)
	total := e.sendRing.totalAvailable(in, out)

	if total < required {
		if !blocking {
			return 0, nil
		}
		var err error
		in, _, _, err = e.waitFor(e.sendRing, required, timeout)
		if err != nil {
			return 0, err
		}
	}

	frame := make([]byte, required)
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[lengthPrefixSize:], data)

	e.sendRing.writeAt(in, frame)
	newIn := e.sendRing.advance(in, required)
	e.m.StoreInOffset(e.sendRing.base, newIn)

	e.logger.Debug("mmapipc: sent frame", zap.Int("bytes", len(data)))
	return len(data), nil
}

// recv reads one length-prefixed frame from e.recvRing, polling at
// e.pollInterval until a full frame is available or the deadline implied
// by timeout passes.
func (e *Endpoint) recv(blocking bool, timeout *time.Duration) ([]byte, error) {
	in := e.m.LoadInOffset(e.recvRing.base)
	out := e.m.LoadOutOffset(e.recvRing.base)

	if in == out {
		if !blocking {
			return nil, nil
		}
		var err error
		_, out, err = e.waitForData(timeout)
		if err != nil {
			return nil, err
		}
	}

	lengthBuf := make([]byte, lengthPrefixSize)
	e.recvRing.readAt(out, lengthBuf)
	length := binary.LittleEndian.Uint32(lengthBuf)

	payloadStart := e.recvRing.advance(out, lengthPrefixSize)
	payload := make([]byte, length)
	e.recvRing.readAt(payloadStart, payload)

	newOut := e.recvRing.advance(out, uint32(lengthPrefixSize)+length)
	e.m.StoreOutOffset(e.recvRing.base, newOut)

	e.logger.Debug("mmapipc: received frame", zap.Int("bytes", int(length)))
	return payload, nil
}

// waitFor polls the send ring until `required` bytes are free, or surfaces
// ErrTimeout once the caller's deadline passes (a nil timeout waits
// forever) (§4.5, §5).
func (e *Endpoint) waitFor(r ring, required uint32, timeout *time.Duration) (in, out, total uint32, err error) {
	err = e.poll(timeout, func() (bool, error) {
		in = e.m.LoadInOffset(r.base)
		out = e.m.LoadOutOffset(r.base)
		total = r.totalAvailable(in, out)
		return total >= required, nil
	})
	return in, out, total, err
}

// waitForData polls the recv ring until it is non-empty.
func (e *Endpoint) waitForData(timeout *time.Duration) (in, out uint32, err error) {
	err = e.poll(timeout, func() (bool, error) {
		in = e.m.LoadInOffset(e.recvRing.base)
		out = e.m.LoadOutOffset(e.recvRing.base)
		return in != out, nil
	})
	return in, out, err
}

// poll runs check on a fixed pollInterval cadence, via a backoff.Ticker over
// a constant policy, until it reports true or timeout expires. A nil
// timeout waits forever, matching the reference implementation's
// "timeout=None" behavior.
func (e *Endpoint) poll(timeout *time.Duration, check func() (bool, error)) error {
	ok, err := check()
	if err != nil || ok {
		return err
	}

	ticker := backoff.NewTicker(backoff.NewConstantBackOff(e.pollInterval))
	defer ticker.Stop()

	var deadline <-chan time.Time
	if timeout != nil {
		t := time.NewTimer(*timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-deadline:
			e.logger.Warn("mmapipc: timed out waiting for ring", zap.Duration("timeout", *timeout))
			return ErrTimeout
		case <-ticker.C:
			ok, err := check()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}
