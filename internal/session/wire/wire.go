// Package wire implements the binary message shapes of spec.md §6's wire
// protocol table: unframed, unsigned little-endian fields over a single TCP
// stream, one op byte ('A'|'R'|'U') per request.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/MuriData/muri-por/internal/porerr"
)

const (
	OpAudit  byte = 'A'
	OpRead   byte = 'R'
	OpUpdate byte = 'U'
	Ack      byte = '1'
)

// WriteOp writes a single op byte.
func WriteOp(w io.Writer, op byte) error {
	if _, err := w.Write([]byte{op}); err != nil {
		return fmt.Errorf("%w: write op %q: %v", porerr.ErrIOFatal, op, err)
	}
	return nil
}

// ReadOp reads a single op byte and validates it against the known set.
func ReadOp(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read op byte: %v", porerr.ErrIOFatal, err)
	}
	switch buf[0] {
	case OpAudit, OpRead, OpUpdate:
		return buf[0], nil
	default:
		return 0, fmt.Errorf("%w: unknown op byte %q", porerr.ErrProtocolMismatch, buf[0])
	}
}

// WriteUint64Vector writes n little-endian uint64 values.
func WriteUint64Vector(w io.Writer, v []uint64) error {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], x)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: write uint64 vector: %v", porerr.ErrIOFatal, err)
	}
	return nil
}

// ReadUint64Vector reads n little-endian uint64 values.
func ReadUint64Vector(r io.Reader, n int) ([]uint64, error) {
	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read uint64 vector: %v", porerr.ErrIOFatal, err)
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out, nil
}

func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("%w: write uint64: %v", porerr.ErrIOFatal, err)
	}
	return nil
}

func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read uint64: %v", porerr.ErrIOFatal, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("%w: write uint32: %v", porerr.ErrIOFatal, err)
	}
	return nil
}

func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read uint32: %v", porerr.ErrIOFatal, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteFloat64 writes an IEEE-754 double, used by the audit round's
// client-measured comm-time instrumentation field. Client.Audit fills it
// with the seconds from sending the challenge to receiving y, a span that
// includes the server's computation.
func WriteFloat64(w io.Writer, v float64) error {
	return WriteUint64(w, math.Float64bits(v))
}

func ReadFloat64(r io.Reader) (float64, error) {
	bits, err := ReadUint64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// AuditRequest is the client's 'A' challenge message.
type AuditRequest struct {
	Challenge []uint64 // length n
}

func WriteAuditRequest(w io.Writer, req AuditRequest) error {
	if err := WriteOp(w, OpAudit); err != nil {
		return err
	}
	return WriteUint64Vector(w, req.Challenge)
}

func ReadAuditRequest(r io.Reader, n int) (AuditRequest, error) {
	c, err := ReadUint64Vector(r, n)
	return AuditRequest{Challenge: c}, err
}

// ReadRequest is the client's 'R' request: nhash sibling indices to fetch
// plus the data block range.
type ReadRequest struct {
	HashIndices []uint64
	BlockCount  uint64
	BlockOffset uint64
	LastBlockSz uint32
}

func WriteReadRequest(w io.Writer, req ReadRequest) error {
	if err := WriteOp(w, OpRead); err != nil {
		return err
	}
	if err := WriteUint32(w, uint32(len(req.HashIndices))); err != nil {
		return err
	}
	if err := WriteUint64Vector(w, req.HashIndices); err != nil {
		return err
	}
	if err := WriteUint64(w, req.BlockCount); err != nil {
		return err
	}
	if err := WriteUint64(w, req.BlockOffset); err != nil {
		return err
	}
	return WriteUint32(w, req.LastBlockSz)
}

func ReadReadRequest(r io.Reader) (ReadRequest, error) {
	var req ReadRequest
	nhash, err := ReadUint32(r)
	if err != nil {
		return req, err
	}
	req.HashIndices, err = ReadUint64Vector(r, int(nhash))
	if err != nil {
		return req, err
	}
	if req.BlockCount, err = ReadUint64(r); err != nil {
		return req, err
	}
	if req.BlockOffset, err = ReadUint64(r); err != nil {
		return req, err
	}
	if req.LastBlockSz, err = ReadUint32(r); err != nil {
		return req, err
	}
	return req, nil
}

// UpdateRequest is the client's 'U' header: the byte range to rewrite.
// The new byte payload follows immediately, length final-initial+1.
type UpdateRequest struct {
	Initial uint64
	Final   uint64
}

func WriteUpdateRequest(w io.Writer, req UpdateRequest) error {
	if err := WriteOp(w, OpUpdate); err != nil {
		return err
	}
	if err := WriteUint64(w, req.Initial); err != nil {
		return err
	}
	return WriteUint64(w, req.Final)
}

func ReadUpdateRequest(r io.Reader) (UpdateRequest, error) {
	var req UpdateRequest
	var err error
	if req.Initial, err = ReadUint64(r); err != nil {
		return req, err
	}
	if req.Final, err = ReadUint64(r); err != nil {
		return req, err
	}
	return req, nil
}

// ChunkDeltaWire mirrors internal/update.ChunkDelta on the wire: the
// server-computed raw chunk diff the client folds into its tag vector.
type ChunkDeltaWire struct {
	ChunkIndex uint64
	OldValue   uint64
	NewValue   uint64
}

func WriteChunkDeltas(w io.Writer, deltas []ChunkDeltaWire) error {
	if err := WriteUint32(w, uint32(len(deltas))); err != nil {
		return err
	}
	for _, d := range deltas {
		if err := WriteUint64(w, d.ChunkIndex); err != nil {
			return err
		}
		if err := WriteUint64(w, d.OldValue); err != nil {
			return err
		}
		if err := WriteUint64(w, d.NewValue); err != nil {
			return err
		}
	}
	return nil
}

func ReadChunkDeltas(r io.Reader) ([]ChunkDeltaWire, error) {
	count, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]ChunkDeltaWire, count)
	for i := range out {
		if out[i].ChunkIndex, err = ReadUint64(r); err != nil {
			return nil, err
		}
		if out[i].OldValue, err = ReadUint64(r); err != nil {
			return nil, err
		}
		if out[i].NewValue, err = ReadUint64(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}
