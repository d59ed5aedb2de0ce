package program

import (
	"fmt"
	"strings"
)

// DecodeErrorKind categorizes instruction decode failures.
type DecodeErrorKind uint8

const (
	UnknownVariant DecodeErrorKind = iota + 1
	Truncated
	TrailingData
)

func (k DecodeErrorKind) String() string {
	switch k {
	case UnknownVariant:
		return "unknown_variant"
	case Truncated:
		return "truncated"
	case TrailingData:
		return "trailing_data"
	default:
		return fmt.Sprintf("decode_kind(%d)", uint8(k))
	}
}

// DecodeError reports why an instruction buffer could not be decoded.
type DecodeError struct {
	Kind   DecodeErrorKind
	Tag    byte // offending discriminant, UnknownVariant only
	Length int  // length of the rejected buffer
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case UnknownVariant:
		return fmt.Sprintf("decode instruction: unknown variant 0x%02x", e.Tag)
	case Truncated:
		return "decode instruction: empty buffer"
	case TrailingData:
		return fmt.Sprintf("decode instruction: %d trailing bytes", e.Length-instructionSize)
	default:
		return "decode instruction: " + e.Kind.String()
	}
}

// Is matches any DecodeError of the same kind.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnknownVariant = &DecodeError{Kind: UnknownVariant}
	ErrTruncated      = &DecodeError{Kind: Truncated}
	ErrTrailingData   = &DecodeError{Kind: TrailingData}
)

// ErrorCode is the terminal failure code surfaced to the host.
type ErrorCode uint32

const (
	CodeMissingAccount ErrorCode = iota + 1
	CodeNotWritable
	CodeUnauthorized
	CodeWrongReservedAddress
	CodeMalformedPayload
	CodeDecodeFailure
	CodeCounterOverflow
)

var codeNames = map[ErrorCode]string{
	CodeMissingAccount:       "missing_account",
	CodeNotWritable:          "not_writable",
	CodeUnauthorized:         "unauthorized",
	CodeWrongReservedAddress: "wrong_reserved_address",
	CodeMalformedPayload:     "malformed_payload",
	CodeDecodeFailure:        "decode_failure",
	CodeCounterOverflow:      "counter_overflow",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error_code(%d)", uint32(c))
}

// ProcessingError aborts an invocation. Index is the position of the record
// at fault, or -1 when the failure is not tied to one record.
type ProcessingError struct {
	Cause  error
	Detail string
	Code   ErrorCode
	Index  int
}

func (e *ProcessingError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())

	if e.Index >= 0 {
		fmt.Fprintf(&b, " (record %d)", e.Index)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches any ProcessingError with the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	return ok && t.Code == e.Code
}

var (
	ErrMissingAccount       = &ProcessingError{Code: CodeMissingAccount, Index: -1}
	ErrNotWritable          = &ProcessingError{Code: CodeNotWritable, Index: -1}
	ErrUnauthorized         = &ProcessingError{Code: CodeUnauthorized, Index: -1}
	ErrWrongReservedAddress = &ProcessingError{Code: CodeWrongReservedAddress, Index: -1}
	ErrMalformedPayload     = &ProcessingError{Code: CodeMalformedPayload, Index: -1}
	ErrDecodeFailure        = &ProcessingError{Code: CodeDecodeFailure, Index: -1}
	ErrCounterOverflow      = &ProcessingError{Code: CodeCounterOverflow, Index: -1}
)

func missingAccount(want, got int) *ProcessingError {
	return &ProcessingError{
		Code:   CodeMissingAccount,
		Index:  got,
		Detail: fmt.Sprintf("instruction needs %d records, got %d", want, got),
	}
}

func notWritable(index int) *ProcessingError {
	return &ProcessingError{Code: CodeNotWritable, Index: index}
}

func unauthorized(index int) *ProcessingError {
	return &ProcessingError{Code: CodeUnauthorized, Index: index}
}

func malformedPayload(index int, cause error) *ProcessingError {
	return &ProcessingError{Code: CodeMalformedPayload, Index: index, Cause: cause}
}

func decodeFailure(cause error) *ProcessingError {
	return &ProcessingError{Code: CodeDecodeFailure, Index: -1, Cause: cause}
}
