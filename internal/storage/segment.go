package storage

import (
	"bufio"
	"fmt"
	"io"
)

// Note: commit log segments are single-writer. The engine's writer goroutine
// owns the append handle; readers open their own handle and only run during
// recovery, before the writer starts accepting records.

// Write appends data to the open segment and flushes the buffer. The caller
// owns the file lifecycle and decides when to fsync.
func Write(file io.Writer, data []byte) error {
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush segment: %w", err)
	}
	return nil
}

// ReadAt reads exactly length bytes at offset. A segment that ends early
// yields io.ErrUnexpectedEOF, or io.EOF when nothing at all was left.
func ReadAt(r io.ReaderAt, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(r, offset, int64(length)), buf); err != nil {
		return nil, fmt.Errorf("read segment at %d: %w", offset, err)
	}
	return buf, nil
}
