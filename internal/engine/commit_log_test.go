package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"countervm/internal/model"
)

func testCommitLogCfg(t *testing.T) CommitLogCfg {
	t.Helper()
	return CommitLogCfg{
		Path:                 filepath.Join(t.TempDir(), "wal.log"),
		EnqueueTimeout:       500 * time.Millisecond,
		FlushInterval:        30 * time.Second, // avoid periodic flush interference
		MaxEnqueuingMutation: 16,
		BufferBytes:          128, // small to trigger flush by size with crafted payloads
	}
}

func openCommitLog(t *testing.T, cfg CommitLogCfg) (*CommitLogManager, context.CancelFunc) {
	t.Helper()
	mgr, cancel, err := NewCommitLogManager(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("create commit log manager: %v", err)
	}
	return mgr, cancel
}

func writeMutation(size int) model.Mutation {
	return model.NewRecordMutation(model.OpWrite, model.NewAddress(), model.NewAddress(), bytes.Repeat([]byte("b"), size))
}

func TestCommitLogFlushOnBufferLimit(t *testing.T) {
	cfg := testCommitLogCfg(t)
	cfg.BufferBytes = 256
	mgr, cancel := openCommitLog(t, cfg)
	defer cancel()

	ctx := context.Background()
	if _, err := mgr.Append(ctx, writeMutation(4)); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if size := walFileSize(cfg.Path); size != 0 {
		t.Fatalf("expected no flush after first append, got size %d", size)
	}

	// The second frame does not fit next to the first, so the first is flushed.
	if _, err := mgr.Append(ctx, writeMutation(120)); err != nil {
		t.Fatalf("append second: %v", err)
	}
	if size := walFileSize(cfg.Path); size == 0 {
		t.Fatalf("expected flush on buffer limit, got size %d", size)
	}
}

func TestCommitLogRejectsOversizedEntry(t *testing.T) {
	cfg := testCommitLogCfg(t)
	mgr, cancel := openCommitLog(t, cfg)
	defer cancel()

	if _, err := mgr.Append(context.Background(), writeMutation(512)); err == nil {
		t.Fatalf("expected oversized entry to be rejected")
	}
}

func TestCommitLogFlushOnContextShutdown(t *testing.T) {
	cfg := testCommitLogCfg(t)
	mgr, cancel := openCommitLog(t, cfg)

	if _, err := mgr.Append(context.Background(), writeMutation(4)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if size := walFileSize(cfg.Path); size != 0 {
		t.Fatalf("expected no flush after first append, got size %d", size)
	}

	cancel()
	mgr.Wait()

	if size := walFileSize(cfg.Path); size == 0 {
		t.Fatalf("expected flush after the context shutdown, got size %d", size)
	}
	if _, err := mgr.Append(context.Background(), writeMutation(4)); err != ErrCommitLogClosed {
		t.Fatalf("append after shutdown err=%v, want ErrCommitLogClosed", err)
	}
}

func TestCommitLogFlushOnInterval(t *testing.T) {
	cfg := testCommitLogCfg(t)
	cfg.FlushInterval = 20 * time.Millisecond
	cfg.BufferBytes = 1 << 20 // large to avoid size-based flush
	mgr, cancel := openCommitLog(t, cfg)
	defer cancel()

	if _, err := mgr.Append(context.Background(), writeMutation(4)); err != nil {
		t.Fatalf("append: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for walFileSize(cfg.Path) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected periodic flush to write data")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCommitLogSyncEveryAppend(t *testing.T) {
	cfg := testCommitLogCfg(t)
	cfg.SyncEveryAppend = true
	mgr, cancel := openCommitLog(t, cfg)
	defer cancel()

	if _, err := mgr.Append(context.Background(), writeMutation(4)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if size := walFileSize(cfg.Path); size == 0 {
		t.Fatalf("expected append to be durable before returning")
	}
}

func TestCommitLogReplayAndSequenceContinuation(t *testing.T) {
	cfg := testCommitLogCfg(t)
	cfg.BufferBytes = 1 << 20
	mgr, cancel := openCommitLog(t, cfg)

	ctx := context.Background()
	var written []model.Mutation
	for i := 0; i < 3; i++ {
		mut := writeMutation(i + 1)
		seq, err := mgr.Append(ctx, mut)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != uint64(i) {
			t.Fatalf("seq = %d, want %d", seq, i)
		}
		written = append(written, mut)
	}
	cancel()
	mgr.Wait()

	mgr, cancel = openCommitLog(t, cfg)
	defer cancel()

	loaded, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != len(written) {
		t.Fatalf("loaded %d mutations, want %d", len(loaded), len(written))
	}
	for i, mut := range loaded {
		if mut.Sequence != uint64(i) || mut.Op != written[i].Op ||
			!bytes.Equal(mut.Key, written[i].Key) || !bytes.Equal(mut.Value, written[i].Value) {
			t.Fatalf("mutation %d mismatch: %+v", i, mut)
		}
	}

	seq, err := mgr.Append(ctx, writeMutation(1))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if seq != 3 {
		t.Fatalf("sequence after reopen = %d, want 3", seq)
	}
}

func TestCommitLogTruncatesTornTail(t *testing.T) {
	cfg := testCommitLogCfg(t)
	cfg.SyncEveryAppend = true
	mgr, cancel := openCommitLog(t, cfg)
	if _, err := mgr.Append(context.Background(), writeMutation(4)); err != nil {
		t.Fatalf("append: %v", err)
	}
	cancel()
	mgr.Wait()

	intact := walFileSize(cfg.Path)
	f, err := os.OpenFile(cfg.Path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 99, 1, 2}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	mgr, cancel = openCommitLog(t, cfg)
	defer cancel()

	if size := walFileSize(cfg.Path); size != intact {
		t.Fatalf("size after reopen = %d, want %d", size, intact)
	}
	loaded, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d mutations, want 1", len(loaded))
	}
}

func TestDecodePayloadRejectsCorruption(t *testing.T) {
	frame := encodeMutation(writeMutation(4))
	payload := frame[frameHeaderBytes:]

	if _, err := decodePayload(payload[:10]); err == nil {
		t.Fatalf("expected short payload error")
	}

	badOp := append([]byte{}, payload...)
	badOp[seqNumBytes] = 7
	if _, err := decodePayload(badOp); err == nil {
		t.Fatalf("expected invalid op error")
	}

	badLen := append([]byte{}, payload...)
	badLen[seqNumBytes+opTypeBytes] = 0xff
	if _, err := decodePayload(badLen); err == nil {
		t.Fatalf("expected key length error")
	}
}

var errInjected = errors.New("injected segment failure")

// faultySegment is a segment whose writes, syncs and truncates can be made to
// fail while the writer goroutine is running.
type faultySegment struct {
	*os.File
	failWrite    atomic.Bool
	failSync     atomic.Bool
	failTruncate atomic.Bool
}

func (s *faultySegment) Write(p []byte) (int, error) {
	if s.failWrite.Load() {
		return 0, errInjected
	}
	return s.File.Write(p)
}

func (s *faultySegment) Sync() error {
	if s.failSync.Load() {
		return errInjected
	}
	return s.File.Sync()
}

func (s *faultySegment) Truncate(size int64) error {
	if s.failTruncate.Load() {
		return errInjected
	}
	return s.File.Truncate(size)
}

// useFaultySegment makes the next commit log opened in this test use a
// faultySegment. The returned func restores the default opener.
func useFaultySegment(t *testing.T) (*faultySegment, func()) {
	t.Helper()
	seg := &faultySegment{}
	prev := openSegment
	openSegment = func(path string) (segment, error) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		seg.File = f
		return seg, nil
	}
	restore := func() { openSegment = prev }
	t.Cleanup(restore)
	return seg, restore
}

func TestCommitLogFailedSyncDiscardsFrame(t *testing.T) {
	for _, tc := range []struct {
		name   string
		inject func(*faultySegment, bool)
	}{
		{"write fails", func(s *faultySegment, on bool) { s.failWrite.Store(on) }},
		{"sync fails", func(s *faultySegment, on bool) { s.failSync.Store(on) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testCommitLogCfg(t)
			cfg.SyncEveryAppend = true
			seg, restore := useFaultySegment(t)
			mgr, cancel := openCommitLog(t, cfg)

			ctx := context.Background()
			if _, err := mgr.Append(ctx, writeMutation(4)); err != nil {
				t.Fatalf("append: %v", err)
			}
			synced := walFileSize(cfg.Path)

			tc.inject(seg, true)
			if _, err := mgr.Append(ctx, writeMutation(8)); !errors.Is(err, errInjected) {
				t.Fatalf("append err=%v, want injected failure", err)
			}
			if size := walFileSize(cfg.Path); size != synced {
				t.Fatalf("size after failed append = %d, want %d", size, synced)
			}
			tc.inject(seg, false)

			next := writeMutation(2)
			seq, err := mgr.Append(ctx, next)
			if err != nil {
				t.Fatalf("append after recovery: %v", err)
			}
			if seq != 1 {
				t.Fatalf("seq = %d, want 1 (failed append must not consume a sequence)", seq)
			}
			cancel()
			mgr.Wait()
			restore()

			mgr, cancel = openCommitLog(t, cfg)
			defer cancel()
			loaded, err := mgr.Load()
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(loaded) != 2 {
				t.Fatalf("loaded %d mutations, want 2", len(loaded))
			}
			if loaded[1].Sequence != 1 || !bytes.Equal(loaded[1].Value, next.Value) {
				t.Fatalf("second mutation = %+v, want the append that succeeded", loaded[1])
			}
		})
	}
}

func TestCommitLogRetriedFlushWritesFramesOnce(t *testing.T) {
	cfg := testCommitLogCfg(t)
	cfg.FlushInterval = 10 * time.Millisecond
	cfg.BufferBytes = 1 << 20
	seg, restore := useFaultySegment(t)
	seg.failSync.Store(true)
	mgr, cancel := openCommitLog(t, cfg)

	mut := writeMutation(4)
	if _, err := mgr.Append(context.Background(), mut); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Several periodic flushes write the frame and fail to sync it.
	time.Sleep(100 * time.Millisecond)
	seg.failSync.Store(false)

	frameLen := int64(len(encodeMutation(mut)))
	deadline := time.Now().Add(2 * time.Second)
	for walFileSize(cfg.Path) != frameLen {
		if time.Now().After(deadline) {
			t.Fatalf("size = %d, want one frame of %d bytes", walFileSize(cfg.Path), frameLen)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	mgr.Wait()
	restore()

	if size := walFileSize(cfg.Path); size != frameLen {
		t.Fatalf("size after shutdown = %d, want %d", size, frameLen)
	}
	mgr, cancel = openCommitLog(t, cfg)
	defer cancel()
	loaded, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d mutations, want 1", len(loaded))
	}
}

func TestCommitLogFailsWhenSegmentCannotBeRewound(t *testing.T) {
	cfg := testCommitLogCfg(t)
	cfg.SyncEveryAppend = true
	seg, _ := useFaultySegment(t)
	mgr, cancel := openCommitLog(t, cfg)
	defer cancel()

	seg.failSync.Store(true)
	seg.failTruncate.Store(true)
	if _, err := mgr.Append(context.Background(), writeMutation(4)); !errors.Is(err, errInjected) {
		t.Fatalf("append err=%v, want injected failure", err)
	}
	seg.failSync.Store(false)
	seg.failTruncate.Store(false)

	if _, err := mgr.Append(context.Background(), writeMutation(4)); !errors.Is(err, ErrCommitLogFailed) {
		t.Fatalf("append err=%v, want ErrCommitLogFailed", err)
	}
}

func walFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
