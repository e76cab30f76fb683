package main

import (
	"bytes"
	"fmt"
	"strconv"
)

// MASS wire framing: every MQTT payload carries exactly one frame of the form
//
//	"#" <decimal byte length> "$" <payload bytes>
//
// The length field counts the payload bytes exactly as written, with no
// padding. A frame is rejected whole; there is no partial delivery.

const (
	frameStartByte  = '#'
	frameLengthStop = '$'
)

// FramingError describes a malformed wire frame. Frames that fail to decode
// are dropped without a protocol reply since no reference id can be recovered.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %s", e.Reason)
}

func framingErrorf(format string, args ...interface{}) *FramingError {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// EncodeFrame wraps a payload in the MASS length-prefixed frame.
func EncodeFrame(payload []byte) []byte {
	length := strconv.Itoa(len(payload))
	frame := make([]byte, 0, 2+len(length)+len(payload))
	frame = append(frame, frameStartByte)
	frame = append(frame, length...)
	frame = append(frame, frameLengthStop)
	frame = append(frame, payload...)
	return frame
}

// DecodeFrame parses a single MASS frame and returns its payload. The input
// must contain exactly one frame; trailing bytes are an error.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, framingErrorf("empty frame")
	}
	if frame[0] != frameStartByte {
		return nil, framingErrorf("missing %q start marker", frameStartByte)
	}
	stop := bytes.IndexByte(frame, frameLengthStop)
	if stop < 0 {
		return nil, framingErrorf("missing %q length terminator", frameLengthStop)
	}
	digits := frame[1:stop]
	if len(digits) == 0 {
		return nil, framingErrorf("empty length field")
	}
	for _, d := range digits {
		if d < '0' || d > '9' {
			return nil, framingErrorf("non-numeric length field %q", digits)
		}
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, framingErrorf("bad length field %q: %v", digits, err)
	}
	payload := frame[stop+1:]
	if len(payload) < length {
		return nil, framingErrorf("declared length %d exceeds available %d bytes", length, len(payload))
	}
	if len(payload) > length {
		return nil, framingErrorf("%d trailing bytes after declared length %d", len(payload)-length, length)
	}
	return payload, nil
}
