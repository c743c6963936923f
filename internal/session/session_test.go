package session

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/MuriData/muri-por/internal/audit"
	"github.com/MuriData/muri-por/internal/merkletree"
)

func buildTestServer(t *testing.T, data []byte, blockSize uint32) (*Server, ClientConfig, merkletree.Config, []byte, string) {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		t.Fatalf("write data file: %v", err)
	}

	mcfg := merkletree.Config{BlockSize: blockSize, HashAlg: merkletree.HashSHA512_224, Size: uint64(len(data))}
	f, err := os.Open(dataPath)
	if err != nil {
		t.Fatalf("open data file: %v", err)
	}
	tree, err := merkletree.Build(f, mcfg)
	f.Close()
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}

	treePath := filepath.Join(dir, "tree.bin")
	tf, err := os.Create(treePath)
	if err != nil {
		t.Fatalf("create tree file: %v", err)
	}
	if err := merkletree.SaveTreeFile(tf, tree); err != nil {
		t.Fatalf("save tree file: %v", err)
	}
	tf.Close()

	u, tag, m, n, err := audit.Setup(dataPath, 42)
	if err != nil {
		t.Fatalf("audit setup: %v", err)
	}

	serverCfg := ServerConfig{N: n, M: m, DataPath: dataPath}
	log := zerolog.Nop()
	srv, err := NewServer(log, serverCfg, treePath)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start server: %v", err)
	}

	clientCfg := ClientConfig{N: n, M: m, U: u, T: tag}
	return srv, clientCfg, mcfg, tree.Root, treePath
}

func TestAuditRoundTripOverTCP(t *testing.T) {
	data := make([]byte, 5000)
	rand.New(rand.NewSource(1)).Read(data)

	srv, clientCfg, mcfg, root, _ := buildTestServer(t, data, 1024)
	defer srv.Stop()

	client := NewClient(zerolog.Nop(), srv.Addr().String(), clientCfg, mcfg, root)
	ok, err := client.Audit(7)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !ok {
		t.Fatalf("audit should pass against an untouched file")
	}
}

func TestReadRoundTripVerifiesAgainstRoot(t *testing.T) {
	data := make([]byte, 5000)
	rand.New(rand.NewSource(2)).Read(data)

	srv, clientCfg, mcfg, root, _ := buildTestServer(t, data, 1024)
	defer srv.Stop()

	client := NewClient(zerolog.Nop(), srv.Addr().String(), clientCfg, mcfg, root)
	nblocks := mcfg.NumBlocks()
	got, err := client.Read(0, nblocks)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read returned %d bytes, want exact match to original %d bytes", len(got), len(data))
	}
}

func TestReadSingleBlockVerifies(t *testing.T) {
	data := make([]byte, 5000)
	rand.New(rand.NewSource(3)).Read(data)

	srv, clientCfg, mcfg, root, _ := buildTestServer(t, data, 1024)
	defer srv.Stop()

	client := NewClient(zerolog.Nop(), srv.Addr().String(), clientCfg, mcfg, root)
	got, err := client.Read(1, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := data[1024:2048]
	if !bytes.Equal(got, want) {
		t.Fatalf("single block read mismatch")
	}
}

func TestUpdateThenAuditAndReadReflectChange(t *testing.T) {
	data := make([]byte, 5000)
	rand.New(rand.NewSource(4)).Read(data)

	srv, clientCfg, mcfg, root, _ := buildTestServer(t, data, 1024)
	defer srv.Stop()

	client := NewClient(zerolog.Nop(), srv.Addr().String(), clientCfg, mcfg, root)

	newBytes := bytes.Repeat([]byte{0xAB}, 7)
	if err := client.Update(100, newBytes); err != nil {
		t.Fatalf("update: %v", err)
	}

	ok, err := client.Audit(9)
	if err != nil {
		t.Fatalf("audit after update: %v", err)
	}
	if !ok {
		t.Fatalf("audit should still pass after a correctly folded update")
	}

	modified := append([]byte(nil), data...)
	copy(modified[100:107], newBytes)
	got, err := client.Read(0, mcfg.NumBlocks())
	if err != nil {
		t.Fatalf("read after update: %v", err)
	}
	if !bytes.Equal(got, modified) {
		t.Fatalf("read after update did not reflect the written bytes")
	}
}

// TestConcurrentConnectionsSerialize exercises spec.md's single-connection
// policy (§4.6/S6): the server's per-file mutex means concurrent client
// connections are serialized rather than racing the data file and tree, so
// every one of several simultaneous audits still completes successfully.
func TestConcurrentConnectionsSerialize(t *testing.T) {
	data := make([]byte, 20000)
	rand.New(rand.NewSource(5)).Read(data)

	srv, clientCfg, mcfg, root, _ := buildTestServer(t, data, 2048)
	defer srv.Stop()

	const concurrency = 8
	var wg sync.WaitGroup
	errs := make([]error, concurrency)
	oks := make([]bool, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := NewClient(zerolog.Nop(), srv.Addr().String(), clientCfg, mcfg, root)
			oks[i], errs[i] = client.Audit(uint64(100 + i))
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("connection %d failed: %v", i, errs[i])
		}
		if !oks[i] {
			t.Fatalf("connection %d: audit should pass", i)
		}
	}
}
