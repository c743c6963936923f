package session

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/MuriData/muri-por/internal/porerr"
)

// ClientConfig is the client's persistent state, spec.md §6:
// u64 n ; u64 m ; u64[m] u ; u64[n] t
type ClientConfig struct {
	N int
	M int
	U []uint64
	T []uint64
}

func WriteClientConfig(w io.Writer, cfg ClientConfig) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(cfg.N)); err != nil {
		return fmt.Errorf("%w: write n: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(cfg.M)); err != nil {
		return fmt.Errorf("%w: write m: %v", porerr.ErrIOFatal, err)
	}
	if len(cfg.U) != cfg.M || len(cfg.T) != cfg.N {
		return fmt.Errorf("%w: client config vector length mismatch", porerr.ErrConfigInvalid)
	}
	if err := binary.Write(w, binary.LittleEndian, cfg.U); err != nil {
		return fmt.Errorf("%w: write u: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Write(w, binary.LittleEndian, cfg.T); err != nil {
		return fmt.Errorf("%w: write t: %v", porerr.ErrIOFatal, err)
	}
	return nil
}

func ReadClientConfig(r io.Reader) (ClientConfig, error) {
	var cfg ClientConfig
	var n, m uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return cfg, fmt.Errorf("%w: read n: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return cfg, fmt.Errorf("%w: read m: %v", porerr.ErrIOFatal, err)
	}
	cfg.N, cfg.M = int(n), int(m)
	cfg.U = make([]uint64, cfg.M)
	if err := binary.Read(r, binary.LittleEndian, cfg.U); err != nil {
		return cfg, fmt.Errorf("%w: read u: %v", porerr.ErrIOFatal, err)
	}
	cfg.T = make([]uint64, cfg.N)
	if err := binary.Read(r, binary.LittleEndian, cfg.T); err != nil {
		return cfg, fmt.Errorf("%w: read t: %v", porerr.ErrIOFatal, err)
	}
	return cfg, nil
}

// ServerConfig is the server's persistent state, spec.md §6:
// u64 n ; u64 m ; i32 path_size ; u8[path_size] data_path (incl. trailing NUL)
type ServerConfig struct {
	N        int
	M        int
	DataPath string
}

func WriteServerConfig(w io.Writer, cfg ServerConfig) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(cfg.N)); err != nil {
		return fmt.Errorf("%w: write n: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(cfg.M)); err != nil {
		return fmt.Errorf("%w: write m: %v", porerr.ErrIOFatal, err)
	}
	path := append([]byte(cfg.DataPath), 0)
	if err := binary.Write(w, binary.LittleEndian, int32(len(path))); err != nil {
		return fmt.Errorf("%w: write path_size: %v", porerr.ErrIOFatal, err)
	}
	if _, err := w.Write(path); err != nil {
		return fmt.Errorf("%w: write data_path: %v", porerr.ErrIOFatal, err)
	}
	return nil
}

func ReadServerConfig(r io.Reader) (ServerConfig, error) {
	var cfg ServerConfig
	var n, m uint64
	var pathSize int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return cfg, fmt.Errorf("%w: read n: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return cfg, fmt.Errorf("%w: read m: %v", porerr.ErrIOFatal, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &pathSize); err != nil {
		return cfg, fmt.Errorf("%w: read path_size: %v", porerr.ErrIOFatal, err)
	}
	if pathSize <= 0 {
		return cfg, fmt.Errorf("%w: non-positive path_size %d", porerr.ErrConfigInvalid, pathSize)
	}
	path := make([]byte, pathSize)
	if _, err := io.ReadFull(r, path); err != nil {
		return cfg, fmt.Errorf("%w: read data_path: %v", porerr.ErrIOFatal, err)
	}
	cfg.N, cfg.M = int(n), int(m)
	cfg.DataPath = string(path[:len(path)-1]) // drop trailing NUL
	return cfg, nil
}
