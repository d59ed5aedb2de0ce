package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"countervm/internal/model"
	"countervm/internal/program"
	"countervm/internal/storage"
)

var (
	ErrUnknownProgram  = errors.New("unknown program")
	ErrProgramExists   = errors.New("program already registered")
	ErrRecordExists    = errors.New("record already exists")
	ErrRecordTooLarge  = errors.New("record size out of range")
	ErrIllegalWrite    = errors.New("program wrote to a record it may not modify")
	ErrDuplicateRecord = errors.New("record referenced more than once")
	ErrRecordNotFound  = storage.ErrRecordNotFound
)

// DefaultMaxRecordSize bounds the data region of an allocated record.
const DefaultMaxRecordSize = 10 * 1024

// Entrypoint is the function a host invokes for a registered program.
type Entrypoint func(ctx program.InvocationContext, records []model.Record, data []byte) error

// Receipt describes a committed invocation.
type Receipt struct {
	ID        uuid.UUID       `json:"id"`
	ProgramID model.Address   `json:"program_id"`
	Changed   []model.Address `json:"changed"`
	Sequence  uint64          `json:"sequence"`
}

// Host is a single-node stand-in for the execution environment: it owns the
// record store, persists every committed change to the commit log, and runs
// one invocation at a time.
type Host struct {
	mu            sync.Mutex
	store         *storage.RecordStore
	commitLog     *CommitLogManager
	programs      map[model.Address]Entrypoint
	logger        *zap.Logger
	maxRecordSize int
}

type HostOption func(*Host)

func WithMaxRecordSize(n int) HostOption {
	return func(h *Host) {
		if n > 0 {
			h.maxRecordSize = n
		}
	}
}

func NewHost(store *storage.RecordStore, commitLog *CommitLogManager, logger *zap.Logger, opts ...HostOption) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{
		store:         store,
		commitLog:     commitLog,
		programs:      make(map[model.Address]Entrypoint),
		logger:        logger,
		maxRecordSize: DefaultMaxRecordSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register makes ep invocable at id.
func (h *Host) Register(id model.Address, ep Entrypoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id == model.SystemProgramID {
		return fmt.Errorf("register %s: %w", id, ErrProgramExists)
	}
	if _, ok := h.programs[id]; ok {
		return fmt.Errorf("register %s: %w", id, ErrProgramExists)
	}
	h.programs[id] = ep
	h.logger.Info("registered program", zap.Stringer("program", id))
	return nil
}

// Recover rebuilds the record store from the commit log and returns the
// number of mutations replayed.
func (h *Host) Recover() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	muts, err := h.commitLog.Load()
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	for _, mut := range muts {
		if err := h.store.Apply(mut); err != nil {
			return 0, fmt.Errorf("recover: %w", err)
		}
	}
	h.logger.Info("recovered record store",
		zap.Int("mutations", len(muts)), zap.Int("records", h.store.Len()))
	return len(muts), nil
}

// Record returns the committed state of addr.
func (h *Host) Record(addr model.Address) (model.Record, error) {
	return h.store.Get(addr)
}

// Allocate creates a zero-filled record of space bytes owned by owner at a
// fresh address.
func (h *Host) Allocate(ctx context.Context, owner model.Address, space int) (model.Record, error) {
	return h.AllocateAt(ctx, model.NewAddress(), owner, space)
}

// AllocateAt is Allocate at a caller-chosen address.
func (h *Host) AllocateAt(ctx context.Context, addr, owner model.Address, space int) (model.Record, error) {
	if space < 0 || space > h.maxRecordSize {
		return model.Record{}, fmt.Errorf("allocate %d bytes (max %d): %w", space, h.maxRecordSize, ErrRecordTooLarge)
	}
	if addr == model.SystemProgramID {
		return model.Record{}, fmt.Errorf("allocate %s: %w", addr, ErrRecordExists)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store.Exists(addr) {
		return model.Record{}, fmt.Errorf("allocate %s: %w", addr, ErrRecordExists)
	}
	if _, err := h.commit(ctx, model.NewRecordMutation(model.OpAllocate, addr, owner, make([]byte, space))); err != nil {
		return model.Record{}, err
	}

	h.logger.Info("allocated record",
		zap.Stringer("record", addr), zap.Stringer("owner", owner), zap.Int("space", space))
	return h.store.Get(addr)
}

// Execute runs msg against the current record state. The program sees
// private copies of the data regions; they are committed only if it returns
// nil and every change is to a writable record the program owns.
func (h *Host) Execute(ctx context.Context, msg model.InstructionMessage) (Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep, ok := h.programs[msg.ProgramID]
	if !ok {
		return Receipt{}, fmt.Errorf("execute: %w: %s", ErrUnknownProgram, msg.ProgramID)
	}

	records, before, err := h.loadRecords(msg.Accounts)
	if err != nil {
		return Receipt{}, err
	}

	logger := h.logger.With(zap.Stringer("program", msg.ProgramID))
	if err := ep(program.InvocationContext{ProgramID: msg.ProgramID}, records, msg.Data); err != nil {
		logger.Debug("instruction failed", zap.Error(err))
		return Receipt{}, err
	}

	var changed []model.Mutation
	for i, rec := range records {
		if bytes.Equal(rec.Data, before[i].Data) {
			continue
		}
		if !msg.Accounts[i].IsWritable || before[i].Owner != msg.ProgramID ||
			!h.store.Exists(rec.Address) || len(rec.Data) != len(before[i].Data) {
			return Receipt{}, fmt.Errorf("execute: %w: record %d (%s)", ErrIllegalWrite, i, rec.Address)
		}
		changed = append(changed, model.NewRecordMutation(model.OpWrite, rec.Address, before[i].Owner, rec.Data))
	}

	receipt := Receipt{ID: uuid.New(), ProgramID: msg.ProgramID, Changed: make([]model.Address, 0, len(changed))}
	for _, mut := range changed {
		seq, err := h.commit(ctx, mut)
		if err != nil {
			return Receipt{}, err
		}
		addr, _ := model.AddressFromBytes(mut.Key)
		receipt.Changed = append(receipt.Changed, addr)
		receipt.Sequence = seq
	}

	logger.Info("instruction committed",
		zap.Stringer("receipt", receipt.ID), zap.Int("changed", len(receipt.Changed)))
	return receipt, nil
}

// loadRecords builds the positional record list for an invocation. Records
// that do not exist yet are presented empty and owned by the system program.
func (h *Host) loadRecords(metas []model.AccountMeta) (records, before []model.Record, err error) {
	seen := make(map[model.Address]struct{}, len(metas))
	records = make([]model.Record, len(metas))
	before = make([]model.Record, len(metas))

	for i, meta := range metas {
		if _, dup := seen[meta.Address]; dup {
			return nil, nil, fmt.Errorf("execute: %w: %s", ErrDuplicateRecord, meta.Address)
		}
		seen[meta.Address] = struct{}{}

		rec, err := h.store.Get(meta.Address)
		if err != nil {
			if !errors.Is(err, storage.ErrRecordNotFound) {
				return nil, nil, err
			}
			rec = model.Record{Address: meta.Address, Owner: model.SystemProgramID}
		}
		rec.Writable = meta.IsWritable
		rec.Authorized = meta.IsSigner

		records[i] = rec
		before[i] = rec.Clone()
	}
	return records, before, nil
}

// commit makes mut durable in the commit log and then visible in the store.
func (h *Host) commit(ctx context.Context, mut model.Mutation) (uint64, error) {
	seq, err := h.commitLog.Append(ctx, mut)
	if err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	mut.Sequence = seq
	if err := h.store.Apply(mut); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return seq, nil
}
