package program

import (
	"testing"

	"countervm/internal/model"
)

func TestBuildInitialize(t *testing.T) {
	programID, counter, authority := model.NewAddress(), model.NewAddress(), model.NewAddress()
	msg := BuildInitialize(programID, counter, authority)

	if msg.ProgramID != programID {
		t.Fatalf("ProgramID = %s", msg.ProgramID)
	}
	want := []model.AccountMeta{
		{Address: counter, IsWritable: true},
		{Address: authority, IsSigner: true},
		{Address: model.SystemProgramID},
	}
	if len(msg.Accounts) != len(want) {
		t.Fatalf("accounts = %d, want %d", len(msg.Accounts), len(want))
	}
	for i := range want {
		if msg.Accounts[i] != want[i] {
			t.Fatalf("account %d = %+v, want %+v", i, msg.Accounts[i], want[i])
		}
	}
	if ix, err := DecodeInstruction(msg.Data); err != nil || ix != Initialize {
		t.Fatalf("data decodes to %v, %v", ix, err)
	}
}

func TestBuildIncrement(t *testing.T) {
	programID, counter, authority := model.NewAddress(), model.NewAddress(), model.NewAddress()
	msg := BuildIncrement(programID, counter, authority)

	if len(msg.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(msg.Accounts))
	}
	if !msg.Accounts[0].IsWritable || msg.Accounts[0].IsSigner || msg.Accounts[0].Address != counter {
		t.Fatalf("counter meta = %+v", msg.Accounts[0])
	}
	if !msg.Accounts[1].IsSigner || msg.Accounts[1].IsWritable || msg.Accounts[1].Address != authority {
		t.Fatalf("authority meta = %+v", msg.Accounts[1])
	}
	if ix, err := DecodeInstruction(msg.Data); err != nil || ix != Increment {
		t.Fatalf("data decodes to %v, %v", ix, err)
	}
}
