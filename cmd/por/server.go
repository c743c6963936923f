package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MuriData/muri-por/internal/session"
)

func newServerCmd(log zerolog.Logger) *cobra.Command {
	var port int
	var treePath string

	cmd := &cobra.Command{
		Use:   "server <server-cfg> <merkle-cfg>",
		Short: "Serve audit, read, and update requests against a delegated file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfgPath, merkleCfgPath := args[0], args[1]

			serverCfg, err := readServerConfig(serverCfgPath)
			if err != nil {
				return err
			}

			if treePath == "" {
				treePath = defaultTreePath(merkleCfgPath)
			}

			srv, err := session.NewServer(log, serverCfg, treePath)
			if err != nil {
				return err
			}
			if err := srv.Start(fmt.Sprintf(":%d", port)); err != nil {
				return err
			}
			log.Info().Str("addr", srv.Addr().String()).Msg("server listening")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			log.Info().Msg("shutting down")
			srv.Stop()
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 9000, "TCP port to listen on")
	cmd.Flags().StringVar(&treePath, "tree", "", "Merkle tree file path (default: <merkle-cfg>.tree)")
	return cmd
}
