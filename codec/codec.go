// Package codec implements native-messaging framing: each frame is a 4-byte
// little-endian body length followed by that many bytes of JSON.
//
// Codec works on in-memory buffers only, so it can be exercised without any
// process or socket. Reader and Writer adapt it to byte streams.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	// DefaultMaxMessageSize is the largest body accepted in either direction.
	DefaultMaxMessageSize = 1024 * 1024

	prefixLen = 4
)

// MessageTooLargeError is returned when a body exceeds the codec limit.
// On decode it is reported as soon as the length prefix is readable.
type MessageTooLargeError struct {
	Size  int64
	Limit int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message size %d exceeds limit %d", e.Size, e.Limit)
}

// DeserializeError is returned when a complete body is not a valid message.
// A zero-length body is reported this way too.
type DeserializeError struct {
	Err error
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("deserializing message: %s", e.Err)
}

func (e *DeserializeError) Unwrap() error { return e.Err }

// SerializeError is returned when a value cannot be encoded as JSON.
type SerializeError struct {
	Err error
}

func (e *SerializeError) Error() string {
	return fmt.Sprintf("serializing message: %s", e.Err)
}

func (e *SerializeError) Unwrap() error { return e.Err }

type Codec struct {
	MaxMessageSize int
}

// New returns a codec with the default size limit.
func New() *Codec {
	return &Codec{MaxMessageSize: DefaultMaxMessageSize}
}

// Limit is the effective maximum body size. A non-positive MaxMessageSize means the default.
func (c *Codec) Limit() int {
	if c.MaxMessageSize <= 0 {
		return DefaultMaxMessageSize
	}
	return c.MaxMessageSize
}

// Encode appends one frame holding v to dst. Nothing is appended on error.
func (c *Codec) Encode(dst *bytes.Buffer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return &SerializeError{Err: err}
	}
	if len(body) > c.Limit() {
		return &MessageTooLargeError{Size: int64(len(body)), Limit: c.Limit()}
	}

	var prefix [prefixLen]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(body)))
	dst.Grow(prefixLen + len(body))
	dst.Write(prefix[:])
	dst.Write(body)
	return nil
}

// Decode tries to decode one frame from the front of src into v.
//
// It returns false with a nil error when src does not yet hold a whole frame; src is left untouched.
// An oversized length prefix is reported without consuming anything.
// Once a whole frame is buffered it is consumed, whether or not its body decodes.
func (c *Codec) Decode(src *bytes.Buffer, v any) (bool, error) {
	buffered := src.Bytes()
	if len(buffered) < prefixLen {
		return false, nil
	}

	// compared unconverted, since a 32-bit int cannot hold every prefix
	declared := binary.LittleEndian.Uint32(buffered[:prefixLen])
	if uint64(declared) > uint64(c.Limit()) {
		return false, &MessageTooLargeError{Size: int64(declared), Limit: c.Limit()}
	}
	size := int(declared)
	if len(buffered) < prefixLen+size {
		return false, nil
	}

	src.Next(prefixLen)
	body := src.Next(size)
	if err := json.Unmarshal(body, v); err != nil {
		return false, &DeserializeError{Err: err}
	}
	return true, nil
}
