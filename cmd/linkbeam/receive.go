package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"linkbeam/peer"
	"linkbeam/pkg/logger"

	"github.com/spf13/cobra"
)

var receiveCount int

var receiveCmd = &cobra.Command{
	Use:   "receive [dir]",
	Short: "Announce this device and save incoming files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}

		view := newProgressView()
		node, err := newNode(view)
		if err != nil {
			return err
		}
		defer node.Close()

		if err := node.Start(); err != nil {
			return err
		}
		if err := node.StartReceiving(dir); err != nil {
			return err
		}
		logger.Sugar.Infof("[Receive] waiting for files on %s", node.ReceiveAddr())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		received := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-node.Events():
				if ev.Type != peer.EventTransferCompleted {
					continue
				}
				received++
				if receiveCount > 0 && received >= receiveCount {
					node.StopReceiving()
					view.Wait()
					return nil
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().IntVarP(&receiveCount, "count", "n", 0, "Exit after this many files (0 = run until interrupted)")
}
