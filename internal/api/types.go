package api

import "countervm/internal/model"

// CreateRecordRequest asks the host to allocate a zero-filled record.
type CreateRecordRequest struct {
	Owner model.Address `json:"owner"`
	Space int           `json:"space"`
}

// Record is the wire form of a committed record. Data is base64 on the wire.
type Record struct {
	Address model.Address `json:"address"`
	Owner   model.Address `json:"owner"`
	Data    []byte        `json:"data"`
}

type CounterState struct {
	Address model.Address `json:"address"`
	Count   uint32        `json:"count"`
}

// TransactionRequest is an instruction message as submitted by a client.
type TransactionRequest = model.InstructionMessage

type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func recordFromModel(r model.Record) Record {
	data := r.Data
	if data == nil {
		data = []byte{}
	}
	return Record{Address: r.Address, Owner: r.Owner, Data: data}
}
