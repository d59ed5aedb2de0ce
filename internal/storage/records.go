package storage

import (
	"errors"
	"fmt"
	"sync"

	"countervm/internal/model"
)

var ErrRecordNotFound = errors.New("record not found")

type storedRecord struct {
	owner model.Address
	data  []byte
}

// RecordStore holds the latest committed state of every record. It is the
// materialized view of the commit log; Apply is the only way state changes.
type RecordStore struct {
	mu      sync.RWMutex
	records map[model.Address]storedRecord
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[model.Address]storedRecord)}
}

// Get returns a copy of the record at addr. Capability flags are left unset;
// they belong to an invocation, not to storage.
func (s *RecordStore) Get(addr model.Address) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[addr]
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, addr)
	}
	return model.Record{
		Address: addr,
		Owner:   rec.owner,
		Data:    append([]byte{}, rec.data...),
	}, nil
}

func (s *RecordStore) Exists(addr model.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[addr]
	return ok
}

func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Apply folds one commit log mutation into the store. Writes to a record that
// was never allocated are rejected so a damaged log cannot invent records.
func (s *RecordStore) Apply(mut model.Mutation) error {
	addr, owner, data, err := mut.RecordParts()
	if err != nil {
		return fmt.Errorf("apply mutation %d: %w", mut.Sequence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch mut.Op {
	case model.OpAllocate:
		s.records[addr] = storedRecord{owner: owner, data: data}
	case model.OpWrite:
		if _, ok := s.records[addr]; !ok {
			return fmt.Errorf("apply mutation %d: %w: %s", mut.Sequence, ErrRecordNotFound, addr)
		}
		s.records[addr] = storedRecord{owner: owner, data: data}
	default:
		return fmt.Errorf("apply mutation %d: invalid operation type: %d", mut.Sequence, mut.Op)
	}
	return nil
}
