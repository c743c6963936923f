package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MuriData/muri-por/internal/session"
)

func newClientCmd(log zerolog.Logger) *cobra.Command {
	var ip string
	var port int
	var auditOnly bool

	cmd := &cobra.Command{
		Use:   "client <client-cfg> <merkle-cfg>",
		Short: "Drive audit, read, and update rounds against a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientCfgPath, merkleCfgPath := args[0], args[1]

			clientCfg, err := readClientConfig(clientCfgPath)
			if err != nil {
				return err
			}
			mcfg, root, err := readMerkleConfig(merkleCfgPath)
			if err != nil {
				return err
			}

			addr := net.JoinHostPort(ip, strconv.Itoa(port))
			client := session.NewClient(log, addr, clientCfg, mcfg, root)

			if auditOnly {
				seed := uint64(time.Now().UnixNano())
				ok, err := client.Audit(seed)
				if err != nil {
					return err
				}
				if ok {
					fmt.Println("audit passed")
				} else {
					fmt.Println("audit FAILED")
				}
				return saveClientConfig(clientCfgPath, client.Cfg)
			}

			return runInteractive(client, clientCfgPath)
		},
	}

	cmd.Flags().StringVarP(&ip, "ip", "s", "127.0.0.1", "server IP address")
	cmd.Flags().IntVarP(&port, "port", "p", 9000, "server TCP port")
	cmd.Flags().BoolVarP(&auditOnly, "audit", "a", false, "run a single audit round and exit")
	return cmd
}

// runInteractive offers the three rounds as a small line-oriented menu, the
// way a terminal-driven reference client would, persisting client state
// after every completed update (audit and read rounds leave it unchanged).
func runInteractive(client *session.Client, clientCfgPath string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: audit | read <offset> <count> | update <offset> <hex-bytes> | quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "audit":
			ok, err := client.Audit(rand.Uint64())
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if ok {
				fmt.Println("audit passed")
			} else {
				fmt.Println("audit FAILED")
			}
		case "read":
			if len(fields) != 3 {
				fmt.Println("usage: read <block-offset> <block-count>")
				continue
			}
			b0, err1 := strconv.Atoi(fields[1])
			bc, err2 := strconv.Atoi(fields[2])
			if err1 != nil || err2 != nil {
				fmt.Println("offset and count must be integers")
				continue
			}
			data, err := client.Read(b0, bc)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("verified %d bytes\n", len(data))
		case "update":
			if len(fields) != 3 {
				fmt.Println("usage: update <byte-offset> <hex-bytes>")
				continue
			}
			initial, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Println("offset must be an integer")
				continue
			}
			newBytes, err := decodeHex(fields[2])
			if err != nil {
				fmt.Println("bytes must be hex-encoded:", err)
				continue
			}
			if err := client.Update(initial, newBytes); err != nil {
				fmt.Println("error:", err)
				continue
			}
			if err := saveClientConfig(clientCfgPath, client.Cfg); err != nil {
				fmt.Println("failed to persist client state:", err)
			}
			fmt.Println("update applied")
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func saveClientConfig(path string, cfg session.ClientConfig) error {
	return writeFile(path, func(f *os.File) error {
		return session.WriteClientConfig(f, cfg)
	})
}
