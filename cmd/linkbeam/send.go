package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linkbeam/pkg/protocol"

	"github.com/spf13/cobra"
)

var (
	sendWait    time.Duration
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <device_id|host:port> <file>",
	Short: "Send one file to a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, path := args[0], args[1]

		view := newProgressView()
		node, err := newNode(view)
		if err != nil {
			return err
		}
		defer node.Close()

		// A literal address needs no discovery.
		if _, _, err := net.SplitHostPort(target); err != nil {
			if err := node.Start(); err != nil {
				return err
			}
			if !waitForPeer(node, target, sendWait) {
				return fmt.Errorf("peer %s not seen within %s", target, sendWait)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if sendTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, sendTimeout)
			defer cancel()
		}

		err = node.SendFile(ctx, target, path)
		view.Wait()
		return err
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVarP(&sendWait, "wait", "w", protocol.AnnounceInterval+time.Second, "How long to wait for the peer to announce itself")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "Abort the transfer after this long (0 = no limit)")
}
