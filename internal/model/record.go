package model

// Record is a host-managed persistent byte buffer as presented to a program
// for one invocation. Writable and Authorized are capability flags set by the
// host; the program never derives them itself.
type Record struct {
	Address    Address
	Owner      Address
	Data       []byte
	Writable   bool
	Authorized bool
}

// Clone returns a copy whose data region does not alias the receiver's.
func (r Record) Clone() Record {
	c := r
	if r.Data != nil {
		c.Data = append([]byte{}, r.Data...)
	}
	return c
}

// AccountMeta is a client-side reference to a record together with the
// capabilities the caller requests for it.
type AccountMeta struct {
	Address    Address `json:"address"`
	IsSigner   bool    `json:"is_signer"`
	IsWritable bool    `json:"is_writable"`
}

// InstructionMessage is everything a host needs to invoke a program: the
// target program, the ordered record references and the encoded instruction.
type InstructionMessage struct {
	ProgramID Address       `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}
