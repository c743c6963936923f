package main

import (
	"fmt"
	"os"

	"github.com/MuriData/muri-por/internal/merkletree"
	"github.com/MuriData/muri-por/internal/session"
)

// The Merkle tree file's path is not one of the CLI's named positional
// arguments for server/client (spec.md §6 lists only <merkle-cfg>); by
// convention it sits alongside the config at <merkle-cfg>.tree. init takes
// the tree path as its explicit <merkle-tree> argument and does not derive
// it, so this default finds the tree only when init was given that name.
func defaultTreePath(merkleCfgPath string) string {
	return merkleCfgPath + ".tree"
}

func readServerConfig(path string) (session.ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.ServerConfig{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return session.ReadServerConfig(f)
}

func readClientConfig(path string) (session.ClientConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.ClientConfig{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return session.ReadClientConfig(f)
}

func readMerkleConfig(path string) (merkletree.Config, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return merkletree.Config{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return merkletree.ReadConfig(f, true)
}
