package main

import (
	"fmt"
	"time"

	"linkbeam/peer"
	"linkbeam/pkg/protocol"
	"linkbeam/pkg/registry"

	"github.com/spf13/cobra"
)

var peersWait time.Duration

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Listen for announcements and list the peers found",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := newNode(nil)
		if err != nil {
			return err
		}
		defer node.Close()

		if err := node.Start(); err != nil {
			return err
		}
		time.Sleep(peersWait)
		printPeers(node.Peers())
		return nil
	},
}

func printPeers(peers []registry.Peer) {
	if len(peers) == 0 {
		fmt.Println("No peers found.")
		return
	}
	fmt.Printf("%-36s  %-20s  %-21s  %s\n", "DEVICE ID", "NAME", "ADDRESS", "LAST SEEN")
	for _, p := range peers {
		fmt.Printf("%-36s  %-20s  %-21s  %s ago\n", p.DeviceID, p.DeviceName, p.Address, time.Since(p.LastSeen).Truncate(time.Second))
	}
}

// waitForPeer polls the registry until deviceID shows up or wait elapses.
func waitForPeer(node *peer.Node, deviceID string, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		if _, ok := node.Registry().Get(deviceID); ok {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func init() {
	rootCmd.AddCommand(peersCmd)
	peersCmd.Flags().DurationVarP(&peersWait, "wait", "w", protocol.AnnounceInterval+time.Second, "How long to listen before printing")
}
