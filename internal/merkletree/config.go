package merkletree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/MuriData/muri-por/internal/porerr"
)

// WriteConfig serialises cfg (and root, if includeRoot) in the little-endian
// layout of spec.md §4.3:
//
//	u32  block_size
//	u32  hash_nid
//	u64  size
//	[hash_size bytes]  root   (present only if includeRoot)
func WriteConfig(w io.Writer, cfg Config, root []byte, includeRoot bool) error {
	if cfg.BlockSize == 0 {
		return fmt.Errorf("%w: block_size is zero", porerr.ErrConfigInvalid)
	}
	if err := binary.Write(w, binary.LittleEndian, cfg.BlockSize); err != nil {
		return fmt.Errorf("%w: write block_size: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(cfg.HashAlg)); err != nil {
		return fmt.Errorf("%w: write hash_nid: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Write(w, binary.LittleEndian, cfg.Size); err != nil {
		return fmt.Errorf("%w: write size: %v", porerr.ErrIOFatal, err)
	}
	if includeRoot {
		hashSize, err := cfg.HashSize()
		if err != nil {
			return fmt.Errorf("%w: %v", porerr.ErrConfigInvalid, err)
		}
		if len(root) != hashSize {
			return fmt.Errorf("%w: root size mismatch: got %d want %d", porerr.ErrProtocolMismatch, len(root), hashSize)
		}
		if _, err := w.Write(root); err != nil {
			return fmt.Errorf("%w: write root: %v", porerr.ErrIOFatal, err)
		}
	}
	return nil
}

// ReadConfig parses the layout WriteConfig produces. includeRoot must match
// how the config was written.
func ReadConfig(r io.Reader, includeRoot bool) (Config, []byte, error) {
	var cfg Config
	var nid uint32
	if err := binary.Read(r, binary.LittleEndian, &cfg.BlockSize); err != nil {
		return cfg, nil, fmt.Errorf("%w: read block_size: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nid); err != nil {
		return cfg, nil, fmt.Errorf("%w: read hash_nid: %v", porerr.ErrIOFatal, err)
	}
	cfg.HashAlg = HashAlg(nid)
	if err := binary.Read(r, binary.LittleEndian, &cfg.Size); err != nil {
		return cfg, nil, fmt.Errorf("%w: read size: %v", porerr.ErrIOFatal, err)
	}
	if cfg.BlockSize == 0 {
		return cfg, nil, fmt.Errorf("%w: block_size is zero", porerr.ErrConfigInvalid)
	}
	hashSize, err := cfg.HashSize()
	if err != nil {
		return cfg, nil, fmt.Errorf("%w: %v", porerr.ErrConfigInvalid, err)
	}
	var root []byte
	if includeRoot {
		root = make([]byte, hashSize)
		if _, err := io.ReadFull(r, root); err != nil {
			return cfg, nil, fmt.Errorf("%w: read root: %v", porerr.ErrIOFatal, err)
		}
	}
	return cfg, root, nil
}

// Signature computes the configuration fingerprint of spec.md §3: a keyless
// digest over (block_size, hash_alg, size, root), not a cryptographic
// signature in the asymmetric-key sense. Neither the client nor the server
// computes or compares it when connecting.
func Signature(cfg Config, root []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteConfig(&buf, cfg, root, true); err != nil {
		return nil, err
	}
	h, err := cfg.HashAlg.New()
	if err != nil {
		return nil, err
	}
	h.Write(buf.Bytes())
	return h.Sum(nil), nil
}

// metadataBlockSize returns the zero-padded width of the leading metadata
// block in a tree file: the serialised config, padded to hash_size bytes,
// so that absolute hash indices are (i+1)*hash_size (spec.md §3/§9).
func metadataBlockSize(hashSize int) int {
	return hashSize
}

// SaveTreeFile writes the metadata block (config, padded to hash_size
// bytes) followed by every hash in t.Hashes, in post-order, each hash_size
// bytes wide — the exact layout spec.md §6 names for the tree file.
func SaveTreeFile(w io.Writer, t *Tree) error {
	hashSize, err := t.Cfg.HashSize()
	if err != nil {
		return err
	}
	var metaBuf bytes.Buffer
	if err := WriteConfig(&metaBuf, t.Cfg, nil, false); err != nil {
		return err
	}
	meta := make([]byte, metadataBlockSize(hashSize))
	copy(meta, metaBuf.Bytes())
	if _, err := w.Write(meta); err != nil {
		return fmt.Errorf("%w: write metadata block: %v", porerr.ErrIOFatal, err)
	}
	for _, h := range t.Hashes {
		if _, err := w.Write(h); err != nil {
			return fmt.Errorf("%w: write tree hash: %v", porerr.ErrIOFatal, err)
		}
	}
	return nil
}

// LoadTreeFile reads back a tree file written by SaveTreeFile.
func LoadTreeFile(r io.Reader, cfg Config) (*Tree, error) {
	hashSize, err := cfg.HashSize()
	if err != nil {
		return nil, err
	}
	meta := make([]byte, metadataBlockSize(hashSize))
	if _, err := io.ReadFull(r, meta); err != nil {
		return nil, fmt.Errorf("%w: read metadata block: %v", porerr.ErrIOFatal, err)
	}

	nblocks := cfg.NumBlocks()
	var hashes [][]byte
	if nblocks > 0 {
		hashes = make([][]byte, 2*nblocks-1)
		for i := range hashes {
			h := make([]byte, hashSize)
			if _, err := io.ReadFull(r, h); err != nil {
				return nil, fmt.Errorf("%w: read tree hash %d: %v", porerr.ErrIOFatal, i, err)
			}
			hashes[i] = h
		}
	}

	var root []byte
	if nblocks == 0 {
		root, err = emptyRoot(cfg.HashAlg)
		if err != nil {
			return nil, err
		}
	} else {
		root = hashes[NodeIndex(nblocks, 0, nblocks)]
	}
	return &Tree{Cfg: cfg, Hashes: hashes, Root: root}, nil
}

// HashIndexOffset returns the absolute byte offset of the hash at the given
// post-order index within the tree file, per spec.md §3/§9's
// (index+1)*hash_size addressing rule (the metadata block occupies the
// slot before index 0).
func HashIndexOffset(index, hashSize int) int64 {
	return int64(index+1) * int64(hashSize)
}

// ReadHashAt performs a direct seek-and-read of the hash at the given
// post-order index from a random-access tree file, without loading the
// whole tree — the path spec.md §4.4's read round uses to serve
// client-requested hash indices.
func ReadHashAt(r io.ReaderAt, index, hashSize int) ([]byte, error) {
	buf := make([]byte, hashSize)
	off := HashIndexOffset(index, hashSize)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: read hash at index %d: %v", porerr.ErrIOFatal, index, err)
	}
	return buf, nil
}
