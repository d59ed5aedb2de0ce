// Package program implements the counter program: the instruction wire
// format and the transition processor that validates the records presented
// by the host and mutates the counter record.
//
// Instruction encoding is a single discriminant byte with no payload:
//
//	0x00  Initialize
//	0x01  Increment
//
// A counter record's data region is the count as a 4-byte little-endian
// unsigned integer, with no header.
//
// Process is a pure function of the instruction bytes and the record
// snapshot. It reads records by fixed position, checks their capability
// flags before touching any data, and performs at most one write. Every
// failure is terminal; the host discards the invocation's writes.
package program
