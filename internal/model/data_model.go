package model

// OpsType identifies the kind of record change carried by a Mutation.
type OpsType byte

const (
	// OpAllocate creates a zero-filled record owned by a program.
	OpAllocate OpsType = iota
	// OpWrite overwrites the data region of an existing record.
	OpWrite
)

func (o OpsType) String() string {
	switch o {
	case OpAllocate:
		return "allocate"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Mutation is one committed record change as it travels through the commit log.
// Key is the record address, Value is the owner address followed by the data region.
type Mutation struct {
	Sequence uint64
	Op       OpsType
	Key      []byte
	Value    []byte
}

// NewRecordMutation packs a record change into its commit log form.
func NewRecordMutation(op OpsType, addr, owner Address, data []byte) Mutation {
	value := make([]byte, 0, AddressLength+len(data))
	value = append(value, owner[:]...)
	value = append(value, data...)
	return Mutation{
		Op:    op,
		Key:   append([]byte(nil), addr[:]...),
		Value: value,
	}
}

// RecordParts unpacks the address, owner and data region of a record mutation.
func (m Mutation) RecordParts() (addr, owner Address, data []byte, err error) {
	addr, err = AddressFromBytes(m.Key)
	if err != nil {
		return Address{}, Address{}, nil, err
	}
	if len(m.Value) < AddressLength {
		return Address{}, Address{}, nil, ErrInvalidAddress
	}
	copy(owner[:], m.Value[:AddressLength])
	data = append([]byte{}, m.Value[AddressLength:]...)
	return addr, owner, data, nil
}
