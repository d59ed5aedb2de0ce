package program

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CounterSize is the exact length of a Counter data region.
const CounterSize = 4

// Counter is the payload stored in a counter record.
type Counter struct {
	Count uint32
}

// DecodeCounter reads a Counter from a record data region. The region must be
// exactly CounterSize bytes.
func DecodeCounter(data []byte) (Counter, error) {
	if len(data) != CounterSize {
		return Counter{}, fmt.Errorf("counter payload must be %d bytes, got %d", CounterSize, len(data))
	}
	return Counter{Count: binary.LittleEndian.Uint32(data)}, nil
}

// Encode returns the little-endian data region for c.
func (c Counter) Encode() []byte {
	buf := make([]byte, CounterSize)
	c.Put(buf)
	return buf
}

// Put writes c into dst, which must be at least CounterSize bytes.
func (c Counter) Put(dst []byte) {
	binary.LittleEndian.PutUint32(dst, c.Count)
}

// Next returns the counter advanced by one. It refuses to wrap.
func (c Counter) Next() (Counter, bool) {
	if c.Count == math.MaxUint32 {
		return c, false
	}
	return Counter{Count: c.Count + 1}, true
}
