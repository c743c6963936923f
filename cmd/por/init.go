package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MuriData/muri-por/internal/audit"
	"github.com/MuriData/muri-por/internal/merkletree"
	"github.com/MuriData/muri-por/internal/session"
)

// defaultBlockSize is the Merkle authenticator's block width. spec.md does
// not fix one; 4096 matches the common page/filesystem-block size and
// keeps the tree shallow for typical file sizes.
const defaultBlockSize = 4096

func newInitCmd(log zerolog.Logger) *cobra.Command {
	var seed uint64
	var blockSize uint32
	var hashAlg string

	cmd := &cobra.Command{
		Use:   "init <data> <client-cfg> <server-cfg> <merkle-cfg> <merkle-tree>",
		Short: "Run setup over a data file and write the client, server, and Merkle state files",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPath, clientCfgPath, serverCfgPath, merkleCfgPath, merkleTreePath := args[0], args[1], args[2], args[3], args[4]

			alg, err := parseHashAlg(hashAlg)
			if err != nil {
				return err
			}

			info, err := os.Stat(dataPath)
			if err != nil {
				return fmt.Errorf("stat %s: %w", dataPath, err)
			}

			log.Info().Str("data", dataPath).Msg("computing audit setup")
			u, t, m, n, err := audit.Setup(dataPath, seed)
			if err != nil {
				return err
			}

			log.Info().Int("m", m).Int("n", n).Msg("building merkle tree")
			mcfg := merkletree.Config{BlockSize: blockSize, HashAlg: alg, Size: uint64(info.Size())}
			f, err := os.Open(dataPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", dataPath, err)
			}
			tree, err := merkletree.Build(f, mcfg)
			f.Close()
			if err != nil {
				return err
			}

			if err := writeFile(clientCfgPath, func(w *os.File) error {
				return session.WriteClientConfig(w, session.ClientConfig{N: n, M: m, U: u, T: t})
			}); err != nil {
				return err
			}
			if err := writeFile(serverCfgPath, func(w *os.File) error {
				return session.WriteServerConfig(w, session.ServerConfig{N: n, M: m, DataPath: dataPath})
			}); err != nil {
				return err
			}
			if err := writeFile(merkleCfgPath, func(w *os.File) error {
				return merkletree.WriteConfig(w, mcfg, tree.Root, true)
			}); err != nil {
				return err
			}
			if err := writeFile(merkleTreePath, func(w *os.File) error {
				return merkletree.SaveTreeFile(w, tree)
			}); err != nil {
				return err
			}

			log.Info().Msg("init complete")
			return nil
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 1, "seed for the secret vector's Mersenne-twister source")
	cmd.Flags().Uint32Var(&blockSize, "block-size", defaultBlockSize, "Merkle authenticator block size in bytes")
	cmd.Flags().StringVar(&hashAlg, "hash", "sha512-224", "Merkle digest: sha512-224, blake2b-256, or sha3-256")
	return cmd
}

func parseHashAlg(name string) (merkletree.HashAlg, error) {
	switch name {
	case "sha512-224":
		return merkletree.HashSHA512_224, nil
	case "blake2b-256":
		return merkletree.HashBLAKE2b256, nil
	case "sha3-256":
		return merkletree.HashSHA3_256, nil
	default:
		return 0, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := write(f); err != nil {
		return err
	}
	return nil
}
