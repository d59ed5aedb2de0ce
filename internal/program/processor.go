package program

import (
	"fmt"

	"go.uber.org/zap"

	"countervm/internal/model"
)

// InvocationContext is handed to the program by the host on every call.
// Nothing in it is consumed by the current instructions.
type InvocationContext struct {
	ProgramID model.Address
}

// Process decodes data and applies the instruction to records. It either
// returns nil after exactly one write to records[0].Data, or an error with
// records left as they were. The host owns rollback of anything it persisted.
func Process(ctx InvocationContext, records []model.Record, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return decodeFailure(err)
	}

	switch ix {
	case Initialize:
		return processInitialize(ctx, records)
	case Increment:
		return processIncrement(ctx, records)
	}
	return decodeFailure(&DecodeError{Kind: UnknownVariant, Tag: byte(ix), Length: len(data)})
}

type initializeRecords struct {
	counter   *model.Record
	authority *model.Record
	system    *model.Record
}

func initializeRecordsFrom(records []model.Record) (initializeRecords, error) {
	if len(records) < 3 {
		return initializeRecords{}, missingAccount(3, len(records))
	}
	return initializeRecords{
		counter:   &records[0],
		authority: &records[1],
		system:    &records[2],
	}, nil
}

type incrementRecords struct {
	counter   *model.Record
	authority *model.Record
}

func incrementRecordsFrom(records []model.Record) (incrementRecords, error) {
	if len(records) < 2 {
		return incrementRecords{}, missingAccount(2, len(records))
	}
	return incrementRecords{
		counter:   &records[0],
		authority: &records[1],
	}, nil
}

func processInitialize(_ InvocationContext, records []model.Record) error {
	accs, err := initializeRecordsFrom(records)
	if err != nil {
		return err
	}
	if !accs.counter.Writable {
		return notWritable(0)
	}
	if !accs.authority.Authorized {
		return unauthorized(1)
	}
	if accs.system.Address != model.SystemProgramID {
		return &ProcessingError{
			Code:   CodeWrongReservedAddress,
			Index:  2,
			Detail: fmt.Sprintf("got %s, want %s", accs.system.Address, model.SystemProgramID),
		}
	}
	// Any prior bytes are overwritten, including an existing counter.
	if len(accs.counter.Data) != CounterSize {
		return malformedPayload(0, fmt.Errorf("data region is %d bytes, counter needs %d", len(accs.counter.Data), CounterSize))
	}

	c := Counter{}
	c.Put(accs.counter.Data)

	Logger().Info(fmt.Sprintf("Counter initialized to %d", c.Count),
		zap.Stringer("counter", accs.counter.Address))
	return nil
}

func processIncrement(_ InvocationContext, records []model.Record) error {
	accs, err := incrementRecordsFrom(records)
	if err != nil {
		return err
	}
	if !accs.counter.Writable {
		return notWritable(0)
	}
	if !accs.authority.Authorized {
		return unauthorized(1)
	}

	c, err := DecodeCounter(accs.counter.Data)
	if err != nil {
		return malformedPayload(0, err)
	}
	next, ok := c.Next()
	if !ok {
		return &ProcessingError{
			Code:   CodeCounterOverflow,
			Index:  0,
			Detail: fmt.Sprintf("count is already %d", c.Count),
		}
	}
	next.Put(accs.counter.Data)

	Logger().Info(fmt.Sprintf("Counter incremented to %d", next.Count),
		zap.Stringer("counter", accs.counter.Address))
	return nil
}
