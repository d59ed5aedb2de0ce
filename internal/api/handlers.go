package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"countervm/internal/engine"
	"countervm/internal/model"
	"countervm/internal/program"
)

const maxRequestBytes = 1 << 20

// Handlers implements ServerInterface on top of a Host.
type Handlers struct {
	host   *engine.Host
	logger *zap.Logger
}

var _ ServerInterface = (*Handlers)(nil)

func NewHandlers(host *engine.Host, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{host: host, logger: logger}
}

func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	rec, err := h.host.Allocate(r.Context(), req.Owner, req.Space)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordFromModel(rec))
}

func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request, address string) {
	addr, err := model.ParseAddress(address)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.host.Record(addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordFromModel(rec))
}

func (h *Handlers) GetCounter(w http.ResponseWriter, r *http.Request, address string) {
	addr, err := model.ParseAddress(address)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.host.Record(addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := program.DecodeCounter(rec.Data)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Message: err.Error(),
			Code:    program.CodeMalformedPayload.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, CounterState{Address: addr, Count: c.Count})
}

func (h *Handlers) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	receipt, err := h.host.Execute(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("invalid request body: %v", err),
			Code:    "invalid_body",
		})
		return false
	}
	return true
}

// writeError maps host and program errors onto HTTP statuses. Program
// failures are surfaced verbatim with their error code.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"

	var pe *program.ProcessingError
	switch {
	case errors.As(err, &pe):
		status, code = http.StatusBadRequest, pe.Code.String()
	case errors.Is(err, model.ErrInvalidAddress):
		status, code = http.StatusBadRequest, "invalid_address"
	case errors.Is(err, engine.ErrUnknownProgram):
		status, code = http.StatusNotFound, "unknown_program"
	case errors.Is(err, engine.ErrRecordNotFound):
		status, code = http.StatusNotFound, "record_not_found"
	case errors.Is(err, engine.ErrRecordExists):
		status, code = http.StatusConflict, "record_exists"
	case errors.Is(err, engine.ErrRecordTooLarge):
		status, code = http.StatusBadRequest, "record_too_large"
	case errors.Is(err, engine.ErrDuplicateRecord):
		status, code = http.StatusBadRequest, "duplicate_record"
	case errors.Is(err, engine.ErrIllegalWrite):
		status, code = http.StatusForbidden, "illegal_write"
	case errors.Is(err, engine.ErrEnqueueTimeout), errors.Is(err, engine.ErrCommitLogClosed),
		errors.Is(err, engine.ErrCommitLogFailed):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Message: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
