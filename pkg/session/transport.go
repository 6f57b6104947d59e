// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"io"
)

// Transport is the raw byte link below framing
type Transport interface {
	Send(data []byte) error
	Receive() ([]byte, error)
}

// StreamTransport adapts an io.ReadWriter such as a serial port
type StreamTransport struct {
	rw  io.ReadWriter
	buf []byte
}

// NewStreamTransport wraps rw. Receive returns whatever a single Read yields.
func NewStreamTransport(rw io.ReadWriter) *StreamTransport {
	return &StreamTransport{rw: rw, buf: make([]byte, 256)}
}

// Send writes the whole frame
func (t *StreamTransport) Send(data []byte) error {
	for len(data) > 0 {
		n, err := t.rw.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Receive returns the next chunk of bytes. A zero-length read is reported
// as an empty chunk, not an error.
func (t *StreamTransport) Receive() ([]byte, error) {
	n, err := t.rw.Read(t.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, t.buf[:n])
		return out, nil
	}
	return nil, err
}
