package program

import "countervm/internal/model"

// DefaultID is the address the counter program is deployed at unless the
// host is configured otherwise.
var DefaultID = model.MustParseAddress("Counter111111111111111111111111111111111111")

// BuildInitialize returns the message that initializes counter under authority.
func BuildInitialize(programID, counter, authority model.Address) model.InstructionMessage {
	return model.InstructionMessage{
		ProgramID: programID,
		Accounts: []model.AccountMeta{
			{Address: counter, IsWritable: true},
			{Address: authority, IsSigner: true},
			{Address: model.SystemProgramID},
		},
		Data: Initialize.Encode(),
	}
}

// BuildIncrement returns the message that increments counter under authority.
func BuildIncrement(programID, counter, authority model.Address) model.InstructionMessage {
	return model.InstructionMessage{
		ProgramID: programID,
		Accounts: []model.AccountMeta{
			{Address: counter, IsWritable: true},
			{Address: authority, IsSigner: true},
		},
		Data: Increment.Encode(),
	}
}
