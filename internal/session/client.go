package session

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/MuriData/muri-por/internal/field"
	"github.com/MuriData/muri-por/internal/merkletree"
	"github.com/MuriData/muri-por/internal/porerr"
	"github.com/MuriData/muri-por/internal/prng"
	"github.com/MuriData/muri-por/internal/session/wire"
	"github.com/MuriData/muri-por/internal/update"
)

// Client drives the three request rounds of spec.md §4.4/§4.5 against a
// single server address, holding the secret vector u and tag vector t in
// memory for the lifetime of the process. Update patches t in Cfg only;
// the Client never writes Cfg to disk, which is left to its caller.
type Client struct {
	log  zerolog.Logger
	addr string

	Cfg  ClientConfig
	MCfg merkletree.Config
	Root []byte
}

// NewClient constructs a Client bound to a server address, with the given
// persisted client config and Merkle config/root loaded by the caller.
func NewClient(log zerolog.Logger, addr string, cfg ClientConfig, mcfg merkletree.Config, root []byte) *Client {
	return &Client{log: log, addr: addr, Cfg: cfg, MCfg: mcfg, Root: root}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", porerr.ErrIOFatal, c.addr, err)
	}
	return conn, nil
}

// Audit runs one full audit round, per spec.md §4.4's numbered sequence:
// a fresh challenge, an ack wait, the server's y, a measured comm-time
// report, and finally the client-side dot-product check. A failed check is
// returned as false with a nil error; errors are reserved for I/O and
// protocol failures.
func (c *Client) Audit(challengeSeed uint64) (bool, error) {
	conn, err := c.dial()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	chal := prng.Vector(challengeSeed, c.Cfg.N)

	start := time.Now()
	if err := wire.WriteAuditRequest(conn, wire.AuditRequest{Challenge: chal}); err != nil {
		return false, err
	}

	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return false, fmt.Errorf("%w: read ack: %v", porerr.ErrIOFatal, err)
	}
	if ack[0] != wire.Ack {
		return false, fmt.Errorf("%w: expected ack, got %q", porerr.ErrProtocolMismatch, ack[0])
	}

	y, err := wire.ReadUint64Vector(conn, c.Cfg.M)
	if err != nil {
		return false, err
	}
	commTime := time.Since(start).Seconds()
	if err := wire.WriteFloat64(conn, commTime); err != nil {
		return false, err
	}

	lhs := field.DotReduce(c.Cfg.U, y)
	rhs := field.DotReduce(c.Cfg.T, chal)
	return lhs == rhs, nil
}

// Read fetches blocks [b0, b0+bc) of the remote file and verifies them
// against the locally held Merkle root. Every block, including a short
// final block, is received into its own buffer; after verification the
// blocks are copied into one result slice. There is no byte-offset read:
// the range is whole blocks, and no block is placed directly in a
// caller-supplied buffer.
func (c *Client) Read(b0, bc int) ([]byte, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	nblocks := c.MCfg.NumBlocks()
	indices, err := merkletree.RangeProofIndices(nblocks, b0, bc)
	if err != nil {
		return nil, err
	}
	hashIndices := make([]uint64, len(indices))
	for i, idx := range indices {
		hashIndices[i] = uint64(idx)
	}

	blockSize := int64(c.MCfg.BlockSize)
	lastBlockSz := uint32(0)
	if b0+bc == nblocks {
		if last := int(c.MCfg.Size % uint64(blockSize)); last != 0 {
			lastBlockSz = uint32(last)
		}
	}

	req := wire.ReadRequest{
		HashIndices: hashIndices,
		BlockCount:  uint64(bc),
		BlockOffset: uint64(b0),
		LastBlockSz: lastBlockSz,
	}
	if err := wire.WriteReadRequest(conn, req); err != nil {
		return nil, err
	}

	hashSize, err := c.MCfg.HashSize()
	if err != nil {
		return nil, err
	}
	siblings := make([]merkletree.SiblingHash, len(indices))
	for i, idx := range indices {
		h := make([]byte, hashSize)
		if _, err := io.ReadFull(conn, h); err != nil {
			return nil, fmt.Errorf("%w: read sibling hash: %v", porerr.ErrIOFatal, err)
		}
		siblings[i] = merkletree.SiblingHash{Index: idx, Hash: h}
	}

	blocks := make([][]byte, bc)
	for i := 0; i < bc; i++ {
		n := blockSize
		if b0+i == nblocks-1 && lastBlockSz != 0 {
			n = int64(lastBlockSz)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return nil, fmt.Errorf("%w: read block: %v", porerr.ErrIOFatal, err)
		}
		blocks[i] = buf
	}

	proof := &merkletree.RangeProof{Siblings: siblings}
	ok, err := merkletree.VerifyRangeProof(c.MCfg, c.Root, b0, bc, proof, func(i int) []byte {
		return blocks[i-b0]
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w", porerr.ErrIntegrityFail)
	}

	out := make([]byte, 0, len(blocks)*int(blockSize))
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out, nil
}

// Update sends a byte-range rewrite to the server and folds the returned
// chunk deltas into the client's local tag vector, per spec.md §4.5.
func (c *Client) Update(initial uint64, newBytes []byte) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	final := initial + uint64(len(newBytes)) - 1
	if err := wire.WriteUpdateRequest(conn, wire.UpdateRequest{Initial: initial, Final: final}); err != nil {
		return err
	}
	if _, err := conn.Write(newBytes); err != nil {
		return fmt.Errorf("%w: write update payload: %v", porerr.ErrIOFatal, err)
	}

	wireDeltas, err := wire.ReadChunkDeltas(conn)
	if err != nil {
		return err
	}
	deltas := make([]update.ChunkDelta, len(wireDeltas))
	for i, d := range wireDeltas {
		deltas[i] = update.ChunkDelta{
			ChunkIndex: int(d.ChunkIndex),
			OldValue:   d.OldValue,
			NewValue:   d.NewValue,
		}
	}
	return update.ApplyDelta(c.Cfg.T, c.Cfg.U, c.Cfg.N, deltas)
}
