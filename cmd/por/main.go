// Command por is the CLI entry point naming the three surfaces spec.md §6
// requires: init, server, client.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:   "por",
		Short: "Proof-of-retrievability audit service",
	}
	root.AddCommand(newInitCmd(log))
	root.AddCommand(newServerCmd(log))
	root.AddCommand(newClientCmd(log))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
