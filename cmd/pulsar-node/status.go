package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"pulsar/internal/crypto"
	"pulsar/internal/metrics"
	"pulsar/internal/node"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last metrics snapshot of the local node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pub, _, err := crypto.LoadKeypair(cfg.KeyDir)
			switch {
			case err == nil:
				id := node.DeriveNodeID(pub)
				fmt.Fprintf(out, "node_id: %s\n", hex.EncodeToString(id[:]))
			case os.IsNotExist(err):
				fmt.Fprintln(out, "node_id: none (run keygen or run)")
			default:
				return err
			}
			snap, err := metrics.ReadSnapshot(root.metricsPath())
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(out, "no metrics snapshot yet")
					return nil
				}
				return err
			}
			printSnapshot(out, snap)
			return nil
		},
	}
}

func printSnapshot(w io.Writer, snap metrics.Snapshot) {
	if snap.LocalAddr != "" {
		fmt.Fprintf(w, "addr: %s\n", snap.LocalAddr)
	}
	fmt.Fprintf(w, "updated: %s\n", snap.GeneratedAt.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(w, "peers: %d\n", snap.Peers)
	fmt.Fprintf(w, "pending_probes: %d\n", snap.Pending)
	for _, p := range snap.Probes {
		age := snap.GeneratedAt.Sub(p.FirstSent).Round(time.Second)
		fmt.Fprintf(w, "  probe %s attempts=%d age=%s\n", p.Addr, p.Attempts, age)
	}
	fmt.Fprintf(w, "delivered: %d\n", snap.Delivered)
	fmt.Fprintf(w, "refreshes: %d\n", snap.Refreshes)
	fmt.Fprintf(w, "send_fail: %d\n", snap.SendFail)
	fmt.Fprintf(w, "introductions_skipped: %d\n", snap.IntroSkipped)
	printCounts(w, "recv", snap.RecvByType)
	printCounts(w, "drop", snap.DropByReason)
}

func printCounts(w io.Writer, name string, counts map[string]uint64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s.%s: %d\n", name, k, counts[k])
	}
}
