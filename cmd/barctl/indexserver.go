package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"barchive/internal/barindex/remote"
)

func newIndexServerCmd() *cobra.Command {
	var cfg remote.ServerConfig
	var secretFile string
	cmd := &cobra.Command{
		Use:   "index-server",
		Short: "Run a raft-replicated master index node",
		Long: "Run a master index node: a raft.FSM-backed catalog other nodes' " +
			"barindex/remote.Proxy can forward reads and writes to.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secretFile != "" {
				data, err := os.ReadFile(secretFile)
				if err != nil {
					return fmt.Errorf("read secret file: %w", err)
				}
				cfg.Secret = data
			}
			if len(cfg.Secret) == 0 {
				return fmt.Errorf("--secret-file is required")
			}

			logger, err := rootLogger()
			if err != nil {
				return err
			}
			cfg.Logger = logger
			cfg.TokenDuration = time.Minute

			server, err := remote.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("start index server: %w", err)
			}
			defer server.Close()

			fmt.Printf("index-server %s listening on %s (raft %s)\n", cfg.NodeID, cfg.HTTPAddr, cfg.RaftAddr)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.NodeID, "node-id", "node1", "this node's raft server ID")
	cmd.Flags().StringVar(&cfg.RaftAddr, "raft-addr", "127.0.0.1:4591", "raft transport bind address")
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", ":4592", "JSON RPC listen address")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", "barctl-index-data", "raft log/snapshot/stable store directory")
	cmd.Flags().StringVar(&cfg.CatalogPath, "catalog", "barctl-index.sqlite", "embedded catalog database path")
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "file containing the HMAC token-signing key (required)")
	cmd.Flags().BoolVar(&cfg.Bootstrap, "bootstrap", false, "bootstrap a brand-new single-node cluster")
	return cmd
}
