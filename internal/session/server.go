// Package session drives the client/server request pipeline of spec.md
// §4.6: a TCP accept loop dispatching audit/read/update requests against a
// single data file, one connection at a time.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MuriData/muri-por/internal/audit"
	"github.com/MuriData/muri-por/internal/merkletree"
	"github.com/MuriData/muri-por/internal/porerr"
	"github.com/MuriData/muri-por/internal/session/wire"
	"github.com/MuriData/muri-por/internal/update"
)

// Server listens for connections and serves audit, read, and update
// requests against one data file. Per spec.md §4.6 and §5, the server
// processes one connection at a time: a write-enabled update may mutate
// the data file and Merkle tree, so a second connection must wait rather
// than race it. Matrix-vector products within one connection may still use
// every available core.
type Server struct {
	log      zerolog.Logger
	cfg      ServerConfig
	treePath string

	mu   sync.Mutex // single-writer/single-connection discipline
	tree *merkletree.Tree

	listenMu sync.Mutex
	listener net.Listener
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewServer constructs a Server for the given server config and tree file
// path. The tree is loaded eagerly so later read/update requests don't pay
// the load cost on the first connection.
func NewServer(log zerolog.Logger, cfg ServerConfig, treePath string) (*Server, error) {
	merkleCfg, tree, err := loadTree(treePath)
	if err != nil {
		return nil, err
	}
	_ = merkleCfg
	return &Server{
		log:      log,
		cfg:      cfg,
		treePath: treePath,
		tree:     tree,
		quit:     make(chan struct{}),
	}, nil
}

func loadTree(path string) (merkletree.Config, *merkletree.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return merkletree.Config{}, nil, err
	}
	defer f.Close()

	cfg, _, err := merkletree.ReadConfig(f, false)
	if err != nil {
		return cfg, nil, err
	}
	// The config just read is the head of the tree file's own metadata
	// block, which LoadTreeFile reads again from the start.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return cfg, nil, fmt.Errorf("%w: seek tree file: %v", porerr.ErrIOFatal, err)
	}
	tree, err := merkletree.LoadTreeFile(f, cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, tree, nil
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start(addr string) error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.running {
		return errors.New("session: server already running")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", porerr.ErrIOFatal, addr, err)
	}
	s.listener = ln
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and waits for in-flight connections to finish.
func (s *Server) Stop() {
	s.listenMu.Lock()
	if !s.running {
		s.listenMu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	s.listener.Close()
	s.listenMu.Unlock()

	s.wg.Wait()
}

func (s *Server) Addr() net.Addr {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn serialises every connection through mu: audits and reads take
// it read-like (still exclusive, per the single-connection policy) and
// updates take it for the mutation.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()

	op, err := wire.ReadOp(conn)
	if err != nil {
		log.Error().Err(err).Msg("read op byte")
		return
	}

	switch op {
	case wire.OpAudit:
		if err := s.serveAudit(conn); err != nil {
			log.Error().Err(err).Msg("audit round failed")
		}
	case wire.OpRead:
		if err := s.serveRead(conn); err != nil {
			log.Error().Err(err).Msg("read round failed")
		}
	case wire.OpUpdate:
		if err := s.serveUpdate(conn); err != nil {
			log.Error().Err(err).Msg("update round failed")
		}
	}
}

func (s *Server) serveAudit(conn net.Conn) error {
	req, err := wire.ReadAuditRequest(conn, s.cfg.N)
	if err != nil {
		return err
	}
	if err := wire.WriteOp(conn, wire.Ack); err != nil {
		return err
	}

	y, _, _, err := audit.Respond(s.cfg.DataPath, req.Challenge, s.cfg.N)
	if err != nil {
		return err
	}
	if err := wire.WriteUint64Vector(conn, y); err != nil {
		return err
	}

	commTime, err := wire.ReadFloat64(conn)
	if err != nil {
		return err
	}
	s.log.Debug().Float64("comm_time_s", commTime).Msg("audit comm-time reported")
	return nil
}

func (s *Server) serveRead(conn net.Conn) error {
	req, err := wire.ReadReadRequest(conn)
	if err != nil {
		return err
	}

	hashSize, err := s.tree.Cfg.HashSize()
	if err != nil {
		return err
	}

	f, err := os.Open(s.cfg.DataPath)
	if err != nil {
		return err
	}
	defer f.Close()
	treeFile, err := os.Open(s.treePath)
	if err != nil {
		return err
	}
	defer treeFile.Close()

	for _, idx := range req.HashIndices {
		h, err := merkletree.ReadHashAt(treeFile, int(idx), hashSize)
		if err != nil {
			return err
		}
		if _, err := conn.Write(h); err != nil {
			return fmt.Errorf("%w: write hash: %v", porerr.ErrIOFatal, err)
		}
	}

	blockSize := int64(s.tree.Cfg.BlockSize)
	off := int64(req.BlockOffset) * blockSize
	for i := uint64(0); i < req.BlockCount; i++ {
		n := blockSize
		if i == req.BlockCount-1 && req.LastBlockSz != 0 {
			n = int64(req.LastBlockSz)
		}
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, off); err != nil {
			return fmt.Errorf("%w: read block: %v", porerr.ErrIOFatal, err)
		}
		if _, err := conn.Write(buf); err != nil {
			return fmt.Errorf("%w: write block: %v", porerr.ErrIOFatal, err)
		}
		off += blockSize
	}
	return nil
}

func (s *Server) serveUpdate(conn net.Conn) error {
	req, err := wire.ReadUpdateRequest(conn)
	if err != nil {
		return err
	}
	length := req.Final - req.Initial + 1
	newBytes := make([]byte, length)
	if _, err := io.ReadFull(conn, newBytes); err != nil {
		return fmt.Errorf("%w: read update payload: %v", porerr.ErrIOFatal, err)
	}

	deltas, err := update.ApplyRange(s.cfg.DataPath, s.tree, req.Initial, newBytes)
	if err != nil {
		return err
	}

	wireDeltas := make([]wire.ChunkDeltaWire, len(deltas))
	for i, d := range deltas {
		wireDeltas[i] = wire.ChunkDeltaWire{
			ChunkIndex: uint64(d.ChunkIndex),
			OldValue:   d.OldValue,
			NewValue:   d.NewValue,
		}
	}
	if err := wire.WriteChunkDeltas(conn, wireDeltas); err != nil {
		return err
	}

	return s.persistTree()
}

func (s *Server) persistTree() error {
	f, err := os.Create(s.treePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := merkletree.SaveTreeFile(f, s.tree); err != nil {
		return err
	}
	return nil
}
