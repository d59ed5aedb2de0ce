package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"countervm/internal/model"
)

func TestSegmentWriteThenReadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if err := Write(f, []byte("hello ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Write(f, []byte("world")); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := os.Open(path)
	if err != nil {
		t.Fatalf("open for read: %v", err)
	}
	defer r.Close()

	got, err := ReadAt(r, 6, 5)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("ReadAt = %q", got)
	}

	if _, err := ReadAt(r, 8, 10); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("short read err=%v, want ErrUnexpectedEOF", err)
	}
	if _, err := ReadAt(r, 11, 4); !errors.Is(err, io.EOF) {
		t.Fatalf("read past end err=%v, want EOF", err)
	}
}

func TestRecordStoreApply(t *testing.T) {
	s := NewRecordStore()
	addr, owner := model.NewAddress(), model.NewAddress()

	if err := s.Apply(model.NewRecordMutation(model.OpWrite, addr, owner, []byte{1})); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("write before allocate err=%v, want ErrRecordNotFound", err)
	}

	if err := s.Apply(model.NewRecordMutation(model.OpAllocate, addr, owner, make([]byte, 4))); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := s.Apply(model.NewRecordMutation(model.OpWrite, addr, owner, []byte{7, 0, 0, 0})); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec, err := s.Get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Owner != owner || !bytes.Equal(rec.Data, []byte{7, 0, 0, 0}) {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Writable || rec.Authorized {
		t.Fatalf("stored records must not carry capability flags")
	}

	rec.Data[0] = 99
	again, _ := s.Get(addr)
	if again.Data[0] != 7 {
		t.Fatalf("Get returned aliased data")
	}

	if !s.Exists(addr) || s.Len() != 1 {
		t.Fatalf("Exists/Len mismatch")
	}
	if _, err := s.Get(model.NewAddress()); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("missing record err=%v", err)
	}
}

func TestRecordStoreRejectsUnknownOp(t *testing.T) {
	s := NewRecordStore()
	mut := model.NewRecordMutation(model.OpsType(9), model.NewAddress(), model.NewAddress(), nil)
	if err := s.Apply(mut); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}
