package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"countervm/internal/model"
	"countervm/internal/storage"
)

var (
	ErrCommitLogClosed   = errors.New("commit log is closed")
	ErrEnqueueTimeout    = errors.New("timeout after waiting for mutation to be added to commit log")
	ErrEntryTooLarge     = errors.New("commit log entry exceeds buffer size")
	ErrCommitLogFailed   = errors.New("commit log segment is in an unknown state")
	errNoActiveSegment   = errors.New("no active segment")
	castagnoliTable      = crc32.MakeTable(crc32.Castagnoli)
	defaultFlushInterval = time.Second
)

type CommitLogCfg struct {
	Path                 string
	EnqueueTimeout       time.Duration
	FlushInterval        time.Duration
	MaxEnqueuingMutation int
	BufferBytes          int
	// SyncEveryAppend flushes and fsyncs before Append returns.
	SyncEveryAppend bool
}

// segment is the append handle of the active commit log file.
type segment interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

var openSegment = func(path string) (segment, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

type commitLogFlusher struct {
	activeSegment segment
	nextSeq       uint64
	// syncedOffset is the segment length covered by the last successful fsync.
	syncedOffset   int64
	buffer         bytes.Buffer
	maxBufferBytes int
	// failed is set once the segment could not be rewound after a failed
	// flush; every later write returns it.
	failed error
}

type appendResult struct {
	seq uint64
	err error
}

type commitLogMsg struct {
	mut  model.Mutation
	done chan appendResult
}

/*
Channel-backed append flow keeps a single writer goroutine in charge of the WAL:
- Ordering: channel preserves request order; single goroutine owns the file handle.
- Sequencing: the writer assigns sequence numbers, so they are gap-free in file order.
- Backpressure: bounded channel + timeout lets callers fail fast instead of unbounded queueing.
- Durability handshake: per-request done channel lets callers wait for accept/flush/fsync.
- Shutdown: select on context to flush outstanding data before exit without racing writers.
*/
type CommitLogManager struct {
	flusher  commitLogFlusher
	writerCh chan commitLogMsg
	cfg      CommitLogCfg
	flushT   *time.Ticker
	logger   *zap.Logger
	done     chan struct{}
}

const (
	payloadLenBytes                = 4
	checksumBytes                  = 4
	seqNumBytes                    = 8
	opTypeBytes                    = 1
	lenFieldSize                   = 4
	frameHeaderBytes               = payloadLenBytes + checksumBytes
	defaultCommitLogBufferBytes    = 4 * 1024 * 1024
	minimalCommitLogBufferBytes    = 128
	defaultMaxEnqueuingMutationVal = 1024
	defaultEnqueueTimeout          = 5 * time.Second
)

// NewCommitLogManager opens (or creates) the segment at cfg.Path, cuts off any
// torn tail left by a crash, and starts the writer goroutine. Cancelling the
// returned function flushes outstanding data and closes the segment.
func NewCommitLogManager(ctx context.Context, cfg CommitLogCfg, logger *zap.Logger) (*CommitLogManager, context.CancelFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := openSegment(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open commit log: %w", err)
	}

	muts, validEnd, size, err := scanCommitLog(cfg.Path, logger)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if validEnd < size {
		logger.Warn("truncating torn commit log tail",
			zap.Int64("valid_bytes", validEnd), zap.Int64("file_bytes", size))
		if err := f.Truncate(validEnd); err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("truncate commit log: %w", err)
		}
	}

	var nextSeq uint64
	if len(muts) > 0 {
		nextSeq = muts[len(muts)-1].Sequence + 1
	}

	bufferBytes := cfg.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = defaultCommitLogBufferBytes
	}
	if bufferBytes < minimalCommitLogBufferBytes {
		bufferBytes = minimalCommitLogBufferBytes
	}

	maxQueue := cfg.MaxEnqueuingMutation
	if maxQueue <= 0 {
		maxQueue = defaultMaxEnqueuingMutationVal
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}

	m := &CommitLogManager{
		cfg:      cfg,
		writerCh: make(chan commitLogMsg, maxQueue),
		flushT:   time.NewTicker(cfg.FlushInterval),
		logger:   logger,
		done:     make(chan struct{}),
		flusher: commitLogFlusher{
			activeSegment:  f,
			nextSeq:        nextSeq,
			syncedOffset:   validEnd,
			maxBufferBytes: bufferBytes,
		},
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(m.done)
		m.run(runCtx)
		m.flushT.Stop()
		_ = m.flusher.activeSegment.Close()
	}()
	return m, cancel, nil
}

// Append hands mut to the writer and waits until it is buffered (or synced,
// with SyncEveryAppend). It returns the sequence number assigned to mut.
func (cm *CommitLogManager) Append(ctx context.Context, mut model.Mutation) (uint64, error) {
	msg := commitLogMsg{mut: mut, done: make(chan appendResult, 1)}

	timer := time.NewTimer(cm.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case cm.writerCh <- msg:
	case <-cm.done:
		return 0, ErrCommitLogClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return 0, ErrEnqueueTimeout
	}

	select {
	case res := <-msg.done:
		return res.seq, res.err
	case <-cm.done:
		return 0, ErrCommitLogClosed
	}
}

// Wait blocks until the writer goroutine has flushed and closed the segment.
func (cm *CommitLogManager) Wait() {
	<-cm.done
}

// Load reads the whole commit log back as a mutation list. It stops at the
// first corrupted or truncated record (crash-safe boundary).
func (cm *CommitLogManager) Load() ([]model.Mutation, error) {
	muts, _, _, err := scanCommitLog(cm.cfg.Path, cm.logger)
	return muts, err
}

func (cm *CommitLogManager) run(ctx context.Context) {
	for {
		select {
		case msg := <-cm.writerCh:
			msg.done <- cm.flusher.append(msg.mut, cm.cfg.SyncEveryAppend)
		case <-cm.flushT.C:
			if err := cm.flusher.flush(); err != nil {
				cm.logger.Error("commit log periodic flush failed", zap.Error(err))
			}
		case <-ctx.Done():
			cm.logger.Info("commit log manager is shutting down, flushing active segment")
			cm.drain()
			if err := cm.flusher.flush(); err != nil {
				cm.logger.Error("commit log shutdown flush failed", zap.Error(err))
			}
			return
		}
	}
}

// drain buffers every request that was accepted before shutdown.
func (cm *CommitLogManager) drain() {
	for {
		select {
		case msg := <-cm.writerCh:
			msg.done <- cm.flusher.append(msg.mut, false)
		default:
			return
		}
	}
}

// append buffers mut under the next sequence number. With sync set the frame
// is fsynced before returning; if that fails the frame is dropped from the
// buffer and its sequence number is reused, so a reported failure never
// reaches the segment later.
func (flusher *commitLogFlusher) append(mut model.Mutation, sync bool) appendResult {
	mut.Sequence = flusher.nextSeq
	frame := encodeMutation(mut)
	if err := flusher.write(frame); err != nil {
		return appendResult{err: err}
	}
	if sync {
		if err := flusher.flush(); err != nil {
			flusher.buffer.Truncate(flusher.buffer.Len() - len(frame))
			return appendResult{err: err}
		}
	}
	flusher.nextSeq++
	return appendResult{seq: mut.Sequence}
}

func (flusher *commitLogFlusher) write(data []byte) error {
	if flusher.activeSegment == nil {
		return errNoActiveSegment
	}
	if flusher.failed != nil {
		return flusher.failed
	}

	if len(data) > flusher.maxBufferBytes {
		return fmt.Errorf("%w: %d bytes, buffer is %d bytes", ErrEntryTooLarge, len(data), flusher.maxBufferBytes)
	}

	if flusher.buffer.Len()+len(data) > flusher.maxBufferBytes {
		if err := flusher.flush(); err != nil {
			return err
		}
	}

	_, err := flusher.buffer.Write(data)
	return err
}

func (flusher *commitLogFlusher) flush() error {
	if flusher.activeSegment == nil {
		return errNoActiveSegment
	}
	if flusher.failed != nil {
		return flusher.failed
	}
	if flusher.buffer.Len() == 0 {
		return nil
	}

	err := storage.Write(flusher.activeSegment, flusher.buffer.Bytes())
	if err == nil {
		if err = flusher.activeSegment.Sync(); err != nil {
			err = fmt.Errorf("sync segment: %w", err)
		}
	}
	if err != nil {
		flusher.rewind()
		return err
	}

	flusher.syncedOffset += int64(flusher.buffer.Len())
	flusher.buffer.Reset()
	return nil
}

// rewind cuts the segment back to syncedOffset after a failed flush so the
// buffered frames are written exactly once when the flush is retried.
func (flusher *commitLogFlusher) rewind() {
	if info, err := flusher.activeSegment.Stat(); err == nil && info.Size() == flusher.syncedOffset {
		return
	}
	if err := flusher.activeSegment.Truncate(flusher.syncedOffset); err != nil {
		flusher.failed = fmt.Errorf("%w: truncate to %d: %v", ErrCommitLogFailed, flusher.syncedOffset, err)
	}
}

// scanCommitLog decodes every intact frame of the segment at path. validEnd is
// the offset just past the last intact frame; size is the file size.
func scanCommitLog(path string, logger *zap.Logger) (muts []model.Mutation, validEnd, size int64, err error) {
	muts = make([]model.Mutation, 0)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return muts, 0, 0, nil
		}
		return nil, 0, 0, fmt.Errorf("open commit log for reading: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("stat commit log: %w", err)
	}
	size = info.Size()

	var offset int64
	for offset < size {
		mut, n, err := readFrame(f, offset, size)
		if err != nil {
			logger.Warn("commit log scan stopped",
				zap.Int("record", len(muts)), zap.Int64("offset", offset), zap.Error(err))
			break
		}
		muts = append(muts, mut)
		offset += n
	}

	logger.Info("loaded commit log",
		zap.Int("mutations", len(muts)), zap.Int64("file_bytes", size))
	return muts, offset, size, nil
}

// readFrame decodes the frame at offset and returns its total length.
func readFrame(r io.ReaderAt, offset, size int64) (model.Mutation, int64, error) {
	header, err := storage.ReadAt(r, offset, frameHeaderBytes)
	if err != nil {
		return model.Mutation{}, 0, fmt.Errorf("incomplete frame header: %w", err)
	}
	payloadLen := binary.BigEndian.Uint32(header[:payloadLenBytes])
	expectedChecksum := binary.BigEndian.Uint32(header[payloadLenBytes:])
	if int64(payloadLen) > size-offset-frameHeaderBytes {
		return model.Mutation{}, 0, fmt.Errorf("incomplete payload: %d bytes declared, %d left", payloadLen, size-offset-frameHeaderBytes)
	}

	payload, err := storage.ReadAt(r, offset+frameHeaderBytes, int(payloadLen))
	if err != nil {
		return model.Mutation{}, 0, fmt.Errorf("incomplete payload (expected %d bytes): %w", payloadLen, err)
	}

	if actual := crc32.Checksum(payload, castagnoliTable); actual != expectedChecksum {
		return model.Mutation{}, 0, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedChecksum, actual)
	}

	mut, err := decodePayload(payload)
	if err != nil {
		return model.Mutation{}, 0, err
	}
	return mut, frameHeaderBytes + int64(payloadLen), nil
}

/*
Return encoded mutation record for Commit Log. The following table describes the structure of encoded mutation record.

The fields are described in the following order:

| PayloadLength | CRC32C | Sequence | OpType | KeyLen | Key      | ValueLen | Value    |
|--------------|--------|----------|--------|--------|----------|----------|----------|
| 4 bytes      | 4 bytes| 8 bytes  | 1 byte | 4 bytes| K bytes  | 4 bytes  | V bytes  |

For record mutations Key is the 32-byte record address and Value is the
32-byte owner address followed by the record's data region.
*/
func encodeMutation(mut model.Mutation) []byte {
	payload := make([]byte, 0, seqNumBytes+opTypeBytes+lenFieldSize+len(mut.Key)+lenFieldSize+len(mut.Value))
	payload = binary.BigEndian.AppendUint64(payload, mut.Sequence)
	payload = append(payload, byte(mut.Op))
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(mut.Key)))
	payload = append(payload, mut.Key...)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(mut.Value)))
	payload = append(payload, mut.Value...)

	record := make([]byte, 0, frameHeaderBytes+len(payload))
	record = binary.BigEndian.AppendUint32(record, uint32(len(payload)))
	record = binary.BigEndian.AppendUint32(record, crc32.Checksum(payload, castagnoliTable))
	record = append(record, payload...)
	return record
}

// decodePayload extracts a Mutation from the payload portion of a frame,
// keeping the sequence number it was written with.
func decodePayload(payload []byte) (model.Mutation, error) {
	minSize := seqNumBytes + opTypeBytes + lenFieldSize + lenFieldSize
	if len(payload) < minSize {
		return model.Mutation{}, fmt.Errorf("payload too short: %d bytes (minimum %d)", len(payload), minSize)
	}

	pos := 0
	seqNum := binary.BigEndian.Uint64(payload[pos : pos+seqNumBytes])
	pos += seqNumBytes

	opType := model.OpsType(payload[pos])
	if opType != model.OpAllocate && opType != model.OpWrite {
		return model.Mutation{}, fmt.Errorf("invalid operation type: %d", opType)
	}
	pos += opTypeBytes

	keyLen := int(binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize]))
	pos += lenFieldSize
	if keyLen > len(payload)-pos-lenFieldSize {
		return model.Mutation{}, fmt.Errorf("key length (%d) exceeds payload bounds", keyLen)
	}
	key := append([]byte{}, payload[pos:pos+keyLen]...)
	pos += keyLen

	valueLen := int(binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize]))
	pos += lenFieldSize
	if valueLen != len(payload)-pos {
		return model.Mutation{}, fmt.Errorf("value length (%d) does not match payload bounds", valueLen)
	}
	value := append([]byte{}, payload[pos:]...)

	return model.Mutation{
		Sequence: seqNum,
		Op:       opType,
		Key:      key,
		Value:    value,
	}, nil
}
